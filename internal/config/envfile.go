package config

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// legacyEnvNames maps the variable names of the original single-file bot to
// the prefixed names that replace them. The bare names still work as
// fallbacks (see bareFallbacks) but are reported when they come from a file.
var legacyEnvNames = map[string]string{
	"DISCORD_TOKEN":                 "GUILDKEEPER_DISCORD_TOKEN",
	"AUTO_VOICE_TRIGGER_CHANNEL_ID": "GUILDKEEPER_VOICE_TRIGGER_CHANNEL_ID",
	"AUTO_VOICE_CATEGORY_ID":        "GUILDKEEPER_VOICE_CATEGORY_ID",
	"LOG_CHANNEL_ID":                "GUILDKEEPER_AUDIT_CHANNEL_ID",
	"TARGET_CHANNEL_ID":             "GUILDKEEPER_MEMBERCOUNT_CHANNEL_ID",
}

// LegacyReplacement returns the prefixed name for a legacy bare variable.
func LegacyReplacement(key string) (string, bool) {
	r, ok := legacyEnvNames[key]
	return r, ok
}

// EnvEntry is one KEY=value assignment read from an env file.
type EnvEntry struct {
	Key   string
	Value string
	Line  int
}

// EnvFile is a parsed env file. Invalid holds the line numbers that are
// neither blank, comments nor assignments.
type EnvFile struct {
	Path    string
	Entries []EnvEntry
	Invalid []int
}

// Legacy lists the entries that use a legacy bare name.
func (f EnvFile) Legacy() []EnvEntry {
	var out []EnvEntry
	for _, e := range f.Entries {
		if _, ok := legacyEnvNames[e.Key]; ok {
			out = append(out, e)
		}
	}
	return out
}

// EnvFileCandidates lists the env files guildkeeper reads, in priority
// order: GUILDKEEPER_ENV_FILE, ~/.config/guildkeeper/env, ~/.guildkeeper/env,
// ~/.guildkeeper/.env and ./.env. Duplicates are removed.
func EnvFileCandidates() []string {
	raw := make([]string, 0, 5)
	if explicit := strings.TrimSpace(os.Getenv("GUILDKEEPER_ENV_FILE")); explicit != "" {
		raw = append(raw, explicit)
	}
	if home, err := os.UserHomeDir(); err == nil {
		raw = append(raw,
			filepath.Join(home, ".config", "guildkeeper", "env"),
			filepath.Join(home, ConfigDir, "env"),
			filepath.Join(home, ConfigDir, ".env"),
		)
	}
	raw = append(raw, ".env")

	out := make([]string, 0, len(raw))
	seen := map[string]struct{}{}
	for _, p := range raw {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// ScanEnvFiles parses every candidate that exists without touching the
// process environment.
func ScanEnvFiles() []EnvFile {
	var files []EnvFile
	for _, p := range EnvFileCandidates() {
		f, err := ParseEnvFile(p)
		if err != nil {
			if !os.IsNotExist(err) {
				slog.Warn("Env file unreadable", "path", p, "error", err)
			}
			continue
		}
		files = append(files, f)
	}
	return files
}

var warnedLegacy sync.Map

// LoadEnvFileCandidates applies the candidate env files to the process
// environment. Variables already set are never overridden, and earlier files
// win over later ones.
func LoadEnvFileCandidates() {
	for _, f := range ScanEnvFiles() {
		applyEnvFile(f)
	}
}

func applyEnvFile(f EnvFile) (applied int) {
	for _, e := range f.Entries {
		if _, exists := os.LookupEnv(e.Key); exists {
			continue
		}
		_ = os.Setenv(e.Key, e.Value)
		applied++
	}
	for _, e := range f.Legacy() {
		if _, dup := warnedLegacy.LoadOrStore(f.Path+"\x00"+e.Key, true); dup {
			continue
		}
		slog.Warn("Legacy variable in env file",
			"path", f.Path, "line", e.Line, "key", e.Key, "use", legacyEnvNames[e.Key])
	}
	for _, n := range f.Invalid {
		slog.Debug("Ignoring malformed env file line", "path", f.Path, "line", n)
	}
	return applied
}

// ParseEnvFile reads KEY=value lines. Blank lines, # comments and an
// optional "export " prefix are accepted; values may be single or double
// quoted, and double-quoted values understand Go escapes.
func ParseEnvFile(path string) (EnvFile, error) {
	fh, err := os.Open(path)
	if err != nil {
		return EnvFile{}, err
	}
	defer fh.Close()

	f := EnvFile{Path: path}
	sc := bufio.NewScanner(fh)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := parseEnvLine(line)
		if !ok {
			f.Invalid = append(f.Invalid, n)
			continue
		}
		f.Entries = append(f.Entries, EnvEntry{Key: key, Value: val, Line: n})
	}
	return f, sc.Err()
}

func parseEnvLine(line string) (key, val string, ok bool) {
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
	key, val, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || !validEnvKey(key) {
		return "", "", false
	}
	return key, trimOptionalQuotes(strings.TrimSpace(val)), true
}

func validEnvKey(key string) bool {
	if key == "" {
		return false
	}
	for i, r := range key {
		switch {
		case r == '_', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func trimOptionalQuotes(v string) string {
	if len(v) < 2 {
		return v
	}
	switch {
	case v[0] == '"' && v[len(v)-1] == '"':
		if s, err := strconv.Unquote(v); err == nil {
			return s
		}
		return v[1 : len(v)-1]
	case v[0] == '\'' && v[len(v)-1] == '\'':
		return v[1 : len(v)-1]
	}
	return v
}
