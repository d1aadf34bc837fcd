package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points HOME at a fresh directory and clears every variable Load reads.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{
		"GUILDKEEPER_CONFIG", "GUILDKEEPER_HOME", "GUILDKEEPER_ENV_FILE",
		"DISCORD_TOKEN", "AUTO_VOICE_TRIGGER_CHANNEL_ID", "AUTO_VOICE_CATEGORY_ID",
		"LOG_CHANNEL_ID", "TARGET_CHANNEL_ID",
		"GUILDKEEPER_DISCORD_TOKEN", "GUILDKEEPER_VOICE_TRIGGER_CHANNEL_ID",
		"GUILDKEEPER_KAFKA_ENABLED", "GUILDKEEPER_LOG_FORMAT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	return home
}

func writeConfig(t *testing.T, home, name, body string) string {
	t.Helper()
	dir := filepath.Join(home, ConfigDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Voice.NameFormat != "%s's channel" {
		t.Errorf("expected default name format, got %q", cfg.Voice.NameFormat)
	}
	if cfg.MemberCount.Schedule != "*/30 * * * *" {
		t.Errorf("expected 30 minute member count schedule, got %q", cfg.MemberCount.Schedule)
	}
	if cfg.MemberCount.Enabled() {
		t.Error("member count must be disabled without a channel")
	}
	if cfg.Discord.RequestTimeout != 15*time.Second {
		t.Errorf("expected 15s request timeout, got %v", cfg.Discord.RequestTimeout)
	}
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Paths.DataDir != filepath.Join(home, ConfigDir) {
		t.Errorf("expected data dir under home, got %q", cfg.Paths.DataDir)
	}
	if cfg.Paths.TimelinePath() != filepath.Join(home, ConfigDir, "timeline.db") {
		t.Errorf("unexpected timeline path %q", cfg.Paths.TimelinePath())
	}
}

func TestLoadFromFile(t *testing.T) {
	home := isolate(t)
	writeConfig(t, home, ConfigFile, `{
		"discord": {"token": "file-token"},
		"voice": {"triggerChannelId": "111", "categoryId": "222"},
		"kafka": {"enabled": true, "brokers": "a:9092, b:9092"}
	}`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Discord.Token != "file-token" || cfg.Voice.TriggerChannelID != "111" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if got := cfg.Kafka.BrokerList(); len(got) != 2 || got[1] != "b:9092" {
		t.Fatalf("unexpected brokers %v", got)
	}
	if cfg.Kafka.Topic != "guildkeeper.audit" {
		t.Fatalf("expected default topic kept, got %q", cfg.Kafka.Topic)
	}
}

func TestPrefixedEnvOverridesFile(t *testing.T) {
	home := isolate(t)
	writeConfig(t, home, ConfigFile, `{"discord": {"token": "file-token"}}`)
	t.Setenv("GUILDKEEPER_DISCORD_TOKEN", "env-token")
	t.Setenv("GUILDKEEPER_LOG_FORMAT", "JSON")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Discord.Token != "env-token" {
		t.Fatalf("expected env token, got %q", cfg.Discord.Token)
	}
	if cfg.Log.Format != "json" {
		t.Fatalf("expected normalized log format, got %q", cfg.Log.Format)
	}
}

func TestBareEnvFallbacks(t *testing.T) {
	home := isolate(t)
	writeConfig(t, home, ConfigFile, `{"voice": {"categoryId": "999"}}`)
	t.Setenv("DISCORD_TOKEN", "bare-token")
	t.Setenv("AUTO_VOICE_TRIGGER_CHANNEL_ID", "123")
	t.Setenv("AUTO_VOICE_CATEGORY_ID", "456")
	t.Setenv("LOG_CHANNEL_ID", "789")
	t.Setenv("TARGET_CHANNEL_ID", "1011")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Discord.Token != "bare-token" || cfg.Voice.TriggerChannelID != "123" || cfg.Audit.ChannelID != "789" {
		t.Fatalf("bare fallbacks not applied: %+v", cfg)
	}
	if cfg.Voice.CategoryID != "999" {
		t.Fatalf("file value must win over bare fallback, got %q", cfg.Voice.CategoryID)
	}
	if !cfg.MemberCount.Enabled() || cfg.MemberCount.ChannelID != "1011" {
		t.Fatalf("expected member count enabled, got %+v", cfg.MemberCount)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestLoadUsesEnvFileCandidate(t *testing.T) {
	home := isolate(t)
	envDir := filepath.Join(home, ".config", "guildkeeper")
	if err := os.MkdirAll(envDir, 0o755); err != nil {
		t.Fatalf("mkdir env dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(envDir, "env"), []byte("GUILDKEEPER_DISCORD_TOKEN=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("GUILDKEEPER_DISCORD_TOKEN", "")
	os.Unsetenv("GUILDKEEPER_DISCORD_TOKEN")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Discord.Token != "from-file" {
		t.Fatalf("expected token from env file, got %q", cfg.Discord.Token)
	}
}

func TestLoadWithIncludeAndEnvSubstitution(t *testing.T) {
	home := isolate(t)
	writeConfig(t, home, "base.json", `{
		"voice": {"triggerChannelId": "1", "categoryId": "2"},
		"audit": {"channelId": "3"}
	}`)
	writeConfig(t, home, ConfigFile, `{
		"$include": "base.json",
		"discord": {"token": "${GK_TEST_TOKEN}"},
		"audit": {"channelId": "30"}
	}`)
	t.Setenv("GK_TEST_TOKEN", "substituted")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Discord.Token != "substituted" {
		t.Fatalf("expected substituted token, got %q", cfg.Discord.Token)
	}
	if cfg.Voice.CategoryID != "2" || cfg.Audit.ChannelID != "30" {
		t.Fatalf("unexpected include merge: %+v", cfg)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	home := isolate(t)
	writeConfig(t, home, "a.json", `{"$include": "config.json"}`)
	writeConfig(t, home, ConfigFile, `{"$include": "a.json"}`)

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected include cycle error, got %v", err)
	}
}

func TestLoadInvalidJSONReturnsError(t *testing.T) {
	home := isolate(t)
	writeConfig(t, home, ConfigFile, `{"discord":`)

	if _, err := Load(); err == nil {
		t.Fatal("expected JSON error, got nil")
	}
}

func TestSubstituteEnvValuesLeavesUnknownToken(t *testing.T) {
	out := substituteEnvValues(map[string]any{"value": "${GK_NOT_SET_VAR}"}).(map[string]any)
	if out["value"] != "${GK_NOT_SET_VAR}" {
		t.Fatalf("expected unknown env token unchanged, got %v", out["value"])
	}
}

func TestSaveAndConfigPath(t *testing.T) {
	home := isolate(t)
	cfg := DefaultConfig()
	cfg.Voice.TriggerChannelID = "42"
	if err := Save(cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
	path, err := ConfigPath()
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	if path != filepath.Join(home, ConfigDir, ConfigFile) {
		t.Fatalf("unexpected config path %q", path)
	}
	loaded, err := Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Voice.TriggerChannelID != "42" {
		t.Fatalf("expected saved trigger channel, got %q", loaded.Voice.TriggerChannelID)
	}
}

func TestConfigPathRespectsExplicitConfigAndHome(t *testing.T) {
	isolate(t)
	t.Setenv("GUILDKEEPER_HOME", "/srv/gk")
	t.Setenv("GUILDKEEPER_CONFIG", "~/custom.json")

	path, err := ConfigPath()
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	if path != filepath.Join("/srv/gk", "custom.json") {
		t.Fatalf("unexpected config path: %q", path)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Discord.Token = "tok"
		cfg.Voice.TriggerChannelID = "1"
		cfg.Voice.CategoryID = "2"
		cfg.Audit.ChannelID = "3"
		return cfg
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing token", func(c *Config) { c.Discord.Token = " " }, "token"},
		{"non-numeric trigger", func(c *Config) { c.Voice.TriggerChannelID = "general" }, "trigger"},
		{"empty category", func(c *Config) { c.Voice.CategoryID = "" }, "category"},
		{"non-numeric member count", func(c *Config) { c.MemberCount.ChannelID = "abc" }, "member count channel"},
		{"member count format", func(c *Config) { c.MemberCount.ChannelID = "4"; c.MemberCount.Format = "Members" }, "format"},
		{"slack without webhook", func(c *Config) { c.Slack.Enabled = true }, "slack"},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true }, "kafka"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}
