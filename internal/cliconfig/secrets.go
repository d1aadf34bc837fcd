package cliconfig

import (
	"errors"
	"fmt"

	"github.com/KafClaw/guildkeeper/internal/config"
	"github.com/KafClaw/guildkeeper/internal/secrets"
)

// Token sources reported by ApplyStoredSecrets.
const (
	TokenFromConfig = "config"
	TokenFromStore  = "secret store"
	TokenMissing    = ""
)

// SecretStore opens the store that belongs to cfg's data directory.
func SecretStore(cfg *config.Config) *secrets.Store {
	return secrets.NewStore(cfg.Paths.SecretsPath())
}

// ApplyStoredSecrets fills an empty Discord token from the secret store.
// Environment and config.json always win over the store.
func ApplyStoredSecrets(cfg *config.Config) (string, error) {
	if cfg.Discord.Token != "" {
		return TokenFromConfig, nil
	}
	tok, err := SecretStore(cfg).Get(secrets.DiscordToken)
	switch {
	case errors.Is(err, secrets.ErrNotFound):
		return TokenMissing, nil
	case err != nil:
		return TokenMissing, fmt.Errorf("read stored token: %w", err)
	}
	cfg.Discord.Token = tok
	return TokenFromStore, nil
}

// StoreToken saves the Discord token in the secret store.
func StoreToken(token string) (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	store := SecretStore(cfg)
	if err := store.Set(secrets.DiscordToken, token); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return store.Backend(), nil
}

// ClearToken removes the Discord token from the secret store.
func ClearToken() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	return SecretStore(cfg).Delete(secrets.DiscordToken)
}
