package config

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/rumbeacon/internal/config/layer"
)

// Section is a read-only view of one configuration map, usually a plugin's
// <PluginName> block.
type Section struct {
	name string
	data map[string]any
}

// NewSection wraps data. Tests and scripted plugins use it directly.
func NewSection(name string, data map[string]any) Section {
	return Section{name: name, data: layer.Clone(data)}
}

// Name returns the section name.
func (s Section) Name() string { return s.name }

// Empty reports whether the section has no keys.
func (s Section) Empty() bool { return len(s.data) == 0 }

// Has reports whether key (a dot path) is set.
func (s Section) Has(key string) bool {
	_, ok := layer.GetByPath(s.data, key)
	return ok
}

// Get returns the raw value at key.
func (s Section) Get(key string) (any, bool) {
	return layer.GetByPath(s.data, key)
}

// Keys returns the top-level keys in sorted order.
func (s Section) Keys() []string {
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a copy of the section data.
func (s Section) Map() map[string]any { return layer.Clone(s.data) }

// Sub returns the nested section at key.
func (s Section) Sub(key string) Section {
	m, _ := s.data[key].(map[string]any)
	return Section{name: key, data: m}
}

// Enabled returns the section's "enabled" flag and whether it was set.
func (s Section) Enabled() (enabled, set bool) {
	v, ok := s.data["enabled"]
	if !ok {
		return true, false
	}
	b, ok := toBool(v)
	if !ok {
		return true, false
	}
	return b, true
}

// String returns key as a string.
func (s Section) String(key, def string) string {
	v, ok := s.Get(key)
	if !ok || v == nil {
		return def
	}
	switch tv := v.(type) {
	case string:
		return tv
	case bool:
		return strconv.FormatBool(tv)
	case int64:
		return strconv.FormatInt(tv, 10)
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	}
	return def
}

// Bool returns key as a bool. Strings such as "true" and "off" are accepted.
func (s Section) Bool(key string, def bool) bool {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	if b, ok := toBool(v); ok {
		return b
	}
	return def
}

// Int returns key as an int.
func (s Section) Int(key string, def int) int {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	if f, ok := toFloat(v); ok {
		return int(f)
	}
	return def
}

// Float returns key as a float64.
func (s Section) Float(key string, def float64) float64 {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	if f, ok := toFloat(v); ok {
		return f
	}
	return def
}

// Duration reads key as milliseconds, or as a Go duration string.
func (s Section) Duration(key string, def time.Duration) time.Duration {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	if str, ok := v.(string); ok {
		if d, err := time.ParseDuration(str); err == nil {
			return d
		}
	}
	if f, ok := toFloat(v); ok {
		return time.Duration(f * float64(time.Millisecond))
	}
	return def
}

// Strings returns key as a string list. A single string is a one-item list.
func (s Section) Strings(key string) []string {
	v, ok := s.Get(key)
	if !ok {
		return nil
	}
	switch tv := v.(type) {
	case string:
		return []string{tv}
	case []string:
		return append([]string(nil), tv...)
	case []any:
		out := make([]string, 0, len(tv))
		for _, item := range tv {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// List returns key as a list of raw values.
func (s Section) List(key string) []any {
	v, ok := s.Get(key)
	if !ok {
		return nil
	}
	if l, ok := v.([]any); ok {
		return l
	}
	return []any{v}
}

func toBool(v any) (bool, bool) {
	switch tv := v.(type) {
	case bool:
		return tv, true
	case string:
		switch strings.ToLower(tv) {
		case "true", "yes", "on", "1":
			return true, true
		case "false", "no", "off", "0":
			return false, true
		}
	case int64:
		return tv != 0, true
	case float64:
		return tv != 0, true
	case int:
		return tv != 0, true
	}
	return false, false
}

func toFloat(v any) (float64, bool) {
	switch tv := v.(type) {
	case int:
		return float64(tv), true
	case int64:
		return float64(tv), true
	case float64:
		return tv, true
	case string:
		f, err := strconv.ParseFloat(tv, 64)
		return f, err == nil
	}
	return 0, false
}
