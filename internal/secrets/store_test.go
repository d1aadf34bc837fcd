package secrets

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "secrets.tomb")
	s := NewStoreWithBackend(path, BackendLocal)

	if _, err := s.Get(DiscordToken); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before set, got %v", err)
	}
	if err := s.Set(DiscordToken, "bot-token"); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.Get(DiscordToken)
	if err != nil || got != "bot-token" {
		t.Fatalf("get: %q %v", got, err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read tomb: %v", err)
	}
	if strings.Contains(string(raw), "bot-token") {
		t.Fatal("token stored in clear text")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %v", info.Mode().Perm())
	}

	if err := s.Delete(DiscordToken); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(DiscordToken); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(DiscordToken); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestLocalStoreKeepsOtherValues(t *testing.T) {
	s := NewStoreWithBackend(filepath.Join(t.TempDir(), "secrets.tomb"), BackendLocal)
	if err := s.Set("a", "1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("b", "2"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("a"); err != nil {
		t.Fatal(err)
	}
	if v, err := s.Get("b"); err != nil || v != "2" {
		t.Fatalf("expected b=2, got %q %v", v, err)
	}
}

func TestSetRejectsEmptyValue(t *testing.T) {
	s := NewStoreWithBackend(filepath.Join(t.TempDir(), "secrets.tomb"), BackendLocal)
	if err := s.Set(DiscordToken, "  "); err == nil {
		t.Fatal("expected error for empty value")
	}
}

func TestOpenTombWrongKeyFails(t *testing.T) {
	doc, err := NewTomb()
	if err != nil {
		t.Fatal(err)
	}
	if err := SealTomb(doc, map[string]string{"k": "v"}); err != nil {
		t.Fatal(err)
	}
	other, _ := NewTomb()
	doc.MasterKey = other.MasterKey
	if _, err := OpenTomb(doc); err == nil {
		t.Fatal("expected decrypt failure with a different key")
	}
}

func TestReadTombRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.tomb")
	if err := os.WriteFile(path, []byte(`{"version":"v9","masterKey":"x"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadTomb(path); err == nil {
		t.Fatal("expected version error")
	}
	s := NewStoreWithBackend(path, BackendLocal)
	if _, err := s.Get(DiscordToken); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestDecodeMasterKeyLength(t *testing.T) {
	if _, err := DecodeMasterKey("c2hvcnQ"); err == nil {
		t.Fatal("expected length error")
	}
}

func TestKeyringBackend(t *testing.T) {
	keyring.MockInit()
	s := NewStoreWithBackend(filepath.Join(t.TempDir(), "secrets.tomb"), BackendKeyring)

	if _, err := s.Get(DiscordToken); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Set(DiscordToken, "from-keyring"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, err := s.Get(DiscordToken); err != nil || v != "from-keyring" {
		t.Fatalf("get: %q %v", v, err)
	}
	if err := s.Delete(DiscordToken); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(DiscordToken); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestAutoBackendFallsBackToTomb(t *testing.T) {
	keyring.MockInitWithError(errors.New("no keyring"))
	t.Cleanup(keyring.MockInit)
	path := filepath.Join(t.TempDir(), "secrets.tomb")
	s := NewStoreWithBackend(path, BackendAuto)

	if err := s.Set(DiscordToken, "fallback"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected tomb file: %v", err)
	}
	if v, err := s.Get(DiscordToken); err != nil || v != "fallback" {
		t.Fatalf("get: %q %v", v, err)
	}
	if err := s.Delete(DiscordToken); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestResolveBackend(t *testing.T) {
	t.Setenv("GUILDKEEPER_SECRET_BACKEND", "KEYRING")
	if got := ResolveBackend(); got != BackendKeyring {
		t.Fatalf("expected keyring, got %q", got)
	}
	t.Setenv("GUILDKEEPER_SECRET_BACKEND", "vault")
	if got := ResolveBackend(); got != BackendLocal {
		t.Fatalf("expected local default, got %q", got)
	}
}
