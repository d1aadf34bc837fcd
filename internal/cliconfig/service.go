package cliconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/KafClaw/guildkeeper/internal/config"
)

// Redacted replaces secret values in Get output.
const Redacted = "********"

// secretPaths are never printed by Get.
var secretPaths = map[string]bool{
	"discord.token":    true,
	"slack.webhookUrl": true,
}

// Get returns the effective config value at a dotted path. Secrets are
// redacted unless reveal is set.
func Get(path string, reveal bool) (any, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}
	keys, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	val, ok := getAtPath(m, keys)
	if !ok {
		return nil, fmt.Errorf("path not found: %s", path)
	}
	if reveal {
		return val, nil
	}
	return redact(strings.Join(keys, "."), val), nil
}

// Set writes a value at path into the config file. The path must name a
// known setting. Value can be JSON or a plain string.
func Set(path, rawValue string) error {
	keys, err := parsePath(path)
	if err != nil {
		return err
	}
	def, err := knownDefault(path, keys)
	if err != nil {
		return err
	}
	value, err := coerceValue(def, rawValue)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	cfgMap, cfgPath, err := loadFileConfigMap()
	if err != nil {
		return err
	}
	setAtPath(cfgMap, keys, value)
	return saveFileConfigMap(cfgPath, cfgMap)
}

// Unset removes a value at path from the config file.
func Unset(path string) error {
	keys, err := parsePath(path)
	if err != nil {
		return err
	}
	cfgMap, cfgPath, err := loadFileConfigMap()
	if err != nil {
		return err
	}
	if !unsetAtPath(cfgMap, keys) {
		return fmt.Errorf("path not found: %s", path)
	}
	return saveFileConfigMap(cfgPath, cfgMap)
}

func toMap(cfg *config.Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// knownDefault returns the default value at path. Paths missing from the
// default configuration are rejected so a typo never lands in the file.
func knownDefault(path string, keys []string) (any, error) {
	m, err := toMap(config.DefaultConfig())
	if err != nil {
		return nil, err
	}
	def, ok := getAtPath(m, keys)
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", path)
	}
	return def, nil
}

// coerceValue shapes raw to the type the setting decodes into. Ids stay
// strings even when they look numeric, and durations accept "30s".
func coerceValue(def any, raw string) (any, error) {
	v := parseValue(raw)
	switch def.(type) {
	case string:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return raw, nil
	case float64:
		if s, ok := v.(string); ok {
			d, err := time.ParseDuration(s)
			if err != nil {
				return nil, fmt.Errorf("expected a number or duration, got %q", raw)
			}
			return int64(d), nil
		}
	case bool:
		if _, ok := v.(bool); !ok {
			return nil, fmt.Errorf("expected true or false, got %q", raw)
		}
	}
	return v, nil
}

func redact(path string, val any) any {
	if obj, ok := val.(map[string]any); ok {
		out := make(map[string]any, len(obj))
		for k, v := range obj {
			child := k
			if path != "" {
				child = path + "." + k
			}
			out[k] = redact(child, v)
		}
		return out
	}
	if s, ok := val.(string); ok && s != "" && secretPaths[path] {
		return Redacted
	}
	return val
}

func loadFileConfigMap() (map[string]any, string, error) {
	cfgPath, err := config.ConfigPath()
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, cfgPath, nil
		}
		return nil, "", err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, "", err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, cfgPath, nil
}

func saveFileConfigMap(cfgPath string, m map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(cfgPath, data, 0o600)
}

func parsePath(path string) ([]string, error) {
	var out []string
	for _, k := range strings.Split(strings.TrimSpace(path), ".") {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out = append(out, k)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("path is empty")
	}
	return out, nil
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func getAtPath(root map[string]any, keys []string) (any, bool) {
	cur := any(root)
	for _, k := range keys {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := obj[k]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func setAtPath(root map[string]any, keys []string, value any) {
	obj := root
	for _, k := range keys[:len(keys)-1] {
		child, ok := obj[k].(map[string]any)
		if !ok {
			child = map[string]any{}
			obj[k] = child
		}
		obj = child
	}
	obj[keys[len(keys)-1]] = value
}

func unsetAtPath(root map[string]any, keys []string) bool {
	obj := root
	for _, k := range keys[:len(keys)-1] {
		child, ok := obj[k].(map[string]any)
		if !ok {
			return false
		}
		obj = child
	}
	last := keys[len(keys)-1]
	if _, ok := obj[last]; !ok {
		return false
	}
	delete(obj, last)
	return true
}
