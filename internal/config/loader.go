package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".guildkeeper"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("GUILDKEEPER_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := resolveHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("GUILDKEEPER_HOME")); h != "" {
		if strings.HasPrefix(h, "~") {
			base, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(base, h[1:]), nil
		}
		return h, nil
	}
	return os.UserHomeDir()
}

// bareFallbacks maps the unprefixed variable names used by earlier
// deployments onto config fields. They apply only when the field is still empty.
func bareFallbacks(cfg *Config) []struct {
	env string
	dst *string
} {
	return []struct {
		env string
		dst *string
	}{
		{"DISCORD_TOKEN", &cfg.Discord.Token},
		{"AUTO_VOICE_TRIGGER_CHANNEL_ID", &cfg.Voice.TriggerChannelID},
		{"AUTO_VOICE_CATEGORY_ID", &cfg.Voice.CategoryID},
		{"LOG_CHANNEL_ID", &cfg.Audit.ChannelID},
		{"TARGET_CHANNEL_ID", &cfg.MemberCount.ChannelID},
	}
}

// Load loads the configuration from file and environment variables.
// Priority: prefixed environment > file > bare environment > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Load process env vars from ~/.config/guildkeeper/env (and fallbacks) first.
	LoadEnvFileCandidates()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil
	}

	data, err := loadResolvedConfig(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if err := processEnv(cfg); err != nil {
		return nil, err
	}

	for _, fb := range bareFallbacks(cfg) {
		if strings.TrimSpace(*fb.dst) != "" {
			continue
		}
		if v, ok := os.LookupEnv(fb.env); ok {
			*fb.dst = strings.TrimSpace(v)
		}
	}

	if strings.HasPrefix(cfg.Paths.DataDir, "~") {
		if home, err := resolveHomeDir(); err == nil {
			cfg.Paths.DataDir = filepath.Join(home, cfg.Paths.DataDir[1:])
		}
	}
	if cfg.Voice.NameFormat == "" {
		cfg.Voice.NameFormat = DefaultConfig().Voice.NameFormat
	}
	if cfg.MemberCount.Schedule == "" {
		cfg.MemberCount.Schedule = DefaultConfig().MemberCount.Schedule
	}
	if cfg.MemberCount.Format == "" {
		cfg.MemberCount.Format = DefaultConfig().MemberCount.Format
	}
	if cfg.Scheduler.MaxConcDefault <= 0 {
		cfg.Scheduler.MaxConcDefault = 1
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Log.Format)) {
	case "json":
		cfg.Log.Format = "json"
	default:
		cfg.Log.Format = "text"
	}
	return cfg, nil
}

func processEnv(cfg *Config) error {
	groups := []struct {
		prefix string
		spec   any
	}{
		{"GUILDKEEPER_DISCORD", &cfg.Discord},
		{"GUILDKEEPER_VOICE", &cfg.Voice},
		{"GUILDKEEPER_AUDIT", &cfg.Audit},
		{"GUILDKEEPER_MEMBERCOUNT", &cfg.MemberCount},
		{"GUILDKEEPER_SLACK", &cfg.Slack},
		{"GUILDKEEPER_KAFKA", &cfg.Kafka},
		{"GUILDKEEPER_SCHEDULER", &cfg.Scheduler},
		{"GUILDKEEPER_PATHS", &cfg.Paths},
		{"GUILDKEEPER_LOG", &cfg.Log},
	}
	for _, g := range groups {
		if err := envconfig.Process(g.prefix, g.spec); err != nil {
			return fmt.Errorf("env %s: %w", g.prefix, err)
		}
	}
	return nil
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// EnsureDir ensures a directory exists with proper permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func loadResolvedConfig(path string) ([]byte, error) {
	obj, err := loadConfigObject(path, map[string]struct{}{})
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

func loadConfigObject(path string, visited map[string]struct{}) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, seen := visited[absPath]; seen {
		return nil, fmt.Errorf("config include cycle detected at %s", absPath)
	}
	visited[absPath] = struct{}{}
	defer delete(visited, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}

	merged := map[string]any{}
	if includeRaw, ok := raw["$include"]; ok {
		includeFiles, err := parseIncludes(includeRaw)
		if err != nil {
			return nil, err
		}
		baseDir := filepath.Dir(absPath)
		for _, includePath := range includeFiles {
			resolvedPath := includePath
			if !filepath.IsAbs(includePath) {
				resolvedPath = filepath.Join(baseDir, includePath)
			}
			child, err := loadConfigObject(resolvedPath, visited)
			if err != nil {
				return nil, err
			}
			deepMerge(merged, child)
		}
	}
	delete(raw, "$include")
	substituteEnvValues(raw)
	deepMerge(merged, raw)
	return merged, nil
}

func parseIncludes(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		return []string{t}, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("$include entries must be strings")
			}
			if strings.TrimSpace(s) == "" {
				continue
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("$include must be a string or array of strings")
	}
}

func deepMerge(dst, src map[string]any) {
	for key, val := range src {
		srcMap, srcIsMap := val.(map[string]any)
		if !srcIsMap {
			dst[key] = val
			continue
		}
		dstMap, ok := dst[key].(map[string]any)
		if !ok {
			dstMap = map[string]any{}
			dst[key] = dstMap
		}
		deepMerge(dstMap, srcMap)
	}
}

// substituteEnvValues expands ${VAR} references in string values. Unknown
// variables are left as written so secrets never silently become empty.
func substituteEnvValues(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = substituteEnvValues(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = substituteEnvValues(item)
		}
		return t
	case string:
		return envPattern.ReplaceAllStringFunc(t, func(match string) string {
			parts := envPattern.FindStringSubmatch(match)
			if len(parts) != 2 {
				return match
			}
			if value, ok := os.LookupEnv(parts[1]); ok {
				return value
			}
			return match
		})
	default:
		return v
	}
}
