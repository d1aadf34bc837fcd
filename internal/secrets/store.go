// Package secrets keeps credentials such as the Discord bot token out of
// config.json. Values live either in the OS keyring or in an AES-256-GCM
// sealed "tomb" file inside the data directory.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
)

// DiscordToken is the secret name for the bot token.
const DiscordToken = "discord-token"

const (
	keyringService = "guildkeeper"
	tombAAD        = "guildkeeper-local-secrets-v1"
)

// Backends accepted by GUILDKEEPER_SECRET_BACKEND.
const (
	BackendLocal   = "local"
	BackendKeyring = "keyring"
	BackendAuto    = "auto"
)

// ErrNotFound is returned when no value is stored under a name.
var ErrNotFound = errors.New("secret not found")

// Tomb is the on-disk encrypted store.
type Tomb struct {
	Version    string `json:"version"`
	MasterKey  string `json:"masterKey"`
	Nonce      string `json:"nonce,omitempty"`
	Ciphertext string `json:"ciphertext,omitempty"`
}

// Store resolves secrets from the selected backend.
type Store struct {
	backend  string
	tombPath string
}

// NewStore returns a store whose local tomb lives at tombPath. The backend
// comes from GUILDKEEPER_SECRET_BACKEND and defaults to local.
func NewStore(tombPath string) *Store {
	return &Store{backend: ResolveBackend(), tombPath: tombPath}
}

// NewStoreWithBackend pins the backend.
func NewStoreWithBackend(tombPath, backend string) *Store {
	return &Store{backend: backend, tombPath: tombPath}
}

// Backend reports the backend in use.
func (s *Store) Backend() string { return s.backend }

// ResolveBackend reads GUILDKEEPER_SECRET_BACKEND.
func ResolveBackend() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("GUILDKEEPER_SECRET_BACKEND")))
	switch v {
	case BackendLocal, BackendKeyring, BackendAuto:
		return v
	default:
		return BackendLocal
	}
}

// Get returns the value stored under name.
func (s *Store) Get(name string) (string, error) {
	switch s.backend {
	case BackendKeyring:
		return keyringGet(name)
	case BackendAuto:
		if v, err := keyringGet(name); err == nil {
			return v, nil
		}
		return s.localGet(name)
	default:
		return s.localGet(name)
	}
}

// Set stores value under name. In auto mode the keyring is tried first and
// the tomb is used when no keyring is available.
func (s *Store) Set(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("empty value for %s", name)
	}
	switch s.backend {
	case BackendKeyring:
		return keyring.Set(keyringService, name, value)
	case BackendAuto:
		if err := keyring.Set(keyringService, name, value); err == nil {
			return nil
		}
		return s.localSet(name, value)
	default:
		return s.localSet(name, value)
	}
}

// Delete removes name from every backend the store can reach. Deleting a
// missing value is not an error.
func (s *Store) Delete(name string) error {
	if s.backend != BackendLocal {
		err := keyring.Delete(keyringService, name)
		if s.backend == BackendKeyring {
			if errors.Is(err, keyring.ErrNotFound) {
				return nil
			}
			return err
		}
	}
	return s.localDelete(name)
}

func keyringGet(name string) (string, error) {
	v, err := keyring.Get(keyringService, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	return v, err
}

func (s *Store) localGet(name string) (string, error) {
	doc, err := ReadTomb(s.tombPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	kv, err := OpenTomb(doc)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", s.tombPath, err)
	}
	v, ok := kv[name]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *Store) localSet(name, value string) error {
	doc, err := ReadTomb(s.tombPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if doc, err = NewTomb(); err != nil {
			return err
		}
	case err != nil:
		return err
	}
	kv, err := OpenTomb(doc)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.tombPath, err)
	}
	kv[name] = value
	if err := SealTomb(doc, kv); err != nil {
		return err
	}
	return WriteTomb(s.tombPath, doc)
}

func (s *Store) localDelete(name string) error {
	doc, err := ReadTomb(s.tombPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	kv, err := OpenTomb(doc)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.tombPath, err)
	}
	if _, ok := kv[name]; !ok {
		return nil
	}
	delete(kv, name)
	if err := SealTomb(doc, kv); err != nil {
		return err
	}
	return WriteTomb(s.tombPath, doc)
}

// NewTomb creates an empty tomb with a fresh master key.
func NewTomb() (*Tomb, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return &Tomb{Version: "v1", MasterKey: base64.RawStdEncoding.EncodeToString(key)}, nil
}

// ReadTomb loads a tomb file.
func ReadTomb(path string) (*Tomb, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Tomb
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid tomb file %s: %w", path, err)
	}
	if doc.Version != "v1" {
		return nil, fmt.Errorf("unsupported tomb version: %q", doc.Version)
	}
	return &doc, nil
}

// WriteTomb writes doc with owner-only permissions.
func WriteTomb(path string, doc *Tomb) error {
	if doc == nil {
		return fmt.Errorf("nil tomb payload")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

// OpenTomb decrypts the sealed map. An unsealed tomb yields an empty map.
func OpenTomb(doc *Tomb) (map[string]string, error) {
	out := map[string]string{}
	if doc.Nonce == "" || doc.Ciphertext == "" {
		return out, nil
	}
	gcm, err := tombCipher(doc)
	if err != nil {
		return nil, err
	}
	nonce, err := base64.RawStdEncoding.DecodeString(doc.Nonce)
	if err != nil {
		return nil, err
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(doc.Ciphertext)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, []byte(tombAAD))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(plain, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SealTomb encrypts kv into doc with a new nonce.
func SealTomb(doc *Tomb, kv map[string]string) error {
	gcm, err := tombCipher(doc)
	if err != nil {
		return err
	}
	plain, err := json.Marshal(kv)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	doc.Nonce = base64.RawStdEncoding.EncodeToString(nonce)
	doc.Ciphertext = base64.RawStdEncoding.EncodeToString(gcm.Seal(nil, nonce, plain, []byte(tombAAD)))
	return nil
}

func tombCipher(doc *Tomb) (cipher.AEAD, error) {
	key, err := DecodeMasterKey(doc.MasterKey)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// DecodeMasterKey base64-decodes a master key and validates its length.
func DecodeMasterKey(raw string) ([]byte, error) {
	key, err := base64.RawStdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid master key length: %d", len(key))
	}
	return key, nil
}
