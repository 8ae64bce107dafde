package loader

import (
	"os"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// DefaultEnvPrefix prefixes every recognised environment variable.
const DefaultEnvPrefix = "RUMBEACON_"

// Env loads configuration from environment variables.
//
// RUMBEACON_BEACON_URL sets beacon_url. A double underscore separates
// sections: RUMBEACON_AUTOXHR__ALWAYS_SEND_XHR sets AutoXHR.alwaysSendXhr
// when AutoXHR is a known section.
type Env struct {
	prefix   string
	sections map[string]string
	environ  func() []string
}

// NewEnv creates an environment loader. sections lists the canonical
// spelling of plugin section names.
func NewEnv(prefix string, sections ...string) *Env {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	e := &Env{
		prefix:   prefix,
		sections: make(map[string]string, len(sections)),
		environ:  os.Environ,
	}
	for _, s := range sections {
		e.sections[strings.ToUpper(s)] = s
	}
	return e
}

// Load implements Loader.
func (e *Env) Load() (map[string]any, error) {
	out := make(map[string]any)
	for _, kv := range e.environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, e.prefix) {
			continue
		}
		path := e.path(strings.TrimPrefix(name, e.prefix))
		if len(path) == 0 {
			continue
		}
		set(out, path, parseEnvValue(value))
	}
	return out, nil
}

func (e *Env) path(name string) []string {
	parts := strings.Split(name, "__")
	if len(parts) == 1 {
		if parts[0] == "" {
			return nil
		}
		return []string{strings.ToLower(parts[0])}
	}

	section, ok := e.sections[strings.ToUpper(parts[0])]
	if !ok {
		section = strings.ToLower(parts[0])
	}
	path := []string{section}
	for _, p := range parts[1:] {
		if p == "" {
			return nil
		}
		path = append(path, camel(p))
	}
	return path
}

// camel turns ALWAYS_SEND_XHR into alwaysSendXhr.
func camel(s string) string {
	words := strings.Split(strings.ToLower(s), "_")
	var b strings.Builder
	for i, w := range words {
		if w == "" {
			continue
		}
		if i > 0 {
			b.WriteString(strings.ToUpper(w[:1]))
			b.WriteString(w[1:])
			continue
		}
		b.WriteString(w)
	}
	return b.String()
}

func parseEnvValue(s string) any {
	switch strings.ToLower(s) {
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	if (strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{")) && gjson.Valid(s) {
		return normalize(gjson.Parse(s).Value())
	}
	return s
}

func set(data map[string]any, path []string, value any) {
	cur := data
	for _, key := range path[:len(path)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[key] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = value
}
