// Package layer stacks configuration sources.
//
// Each source (built-in defaults, a config file, the environment, runtime
// overrides) is a Layer holding a nested map. The Manager merges layers in
// priority order; higher priorities win.
package layer

// Standard layer priorities.
const (
	PriorityBuiltin  = 0
	PriorityFile     = 100
	PriorityEnv      = 200
	PriorityOverride = 300
)

// Source identifies where a layer came from.
type Source uint8

const (
	SourceBuiltin Source = iota
	SourceFile
	SourceEnv
	SourceOverride
)

func (s Source) String() string {
	switch s {
	case SourceBuiltin:
		return "builtin"
	case SourceFile:
		return "file"
	case SourceEnv:
		return "environment"
	case SourceOverride:
		return "override"
	}
	return "unknown"
}

// DefaultPriority returns the priority used for source.
func DefaultPriority(s Source) int {
	switch s {
	case SourceFile:
		return PriorityFile
	case SourceEnv:
		return PriorityEnv
	case SourceOverride:
		return PriorityOverride
	}
	return PriorityBuiltin
}

// Layer is one configuration source.
type Layer struct {
	Name     string
	Source   Source
	Priority int
	// Path is set for file layers.
	Path string
	Data map[string]any
}

// New creates an empty layer with the default priority for source.
func New(name string, source Source) *Layer {
	return &Layer{
		Name:     name,
		Source:   source,
		Priority: DefaultPriority(source),
		Data:     make(map[string]any),
	}
}

// WithData creates a layer holding a deep copy of data.
func WithData(name string, source Source, data map[string]any) *Layer {
	l := New(name, source)
	if data != nil {
		l.Data = Clone(data)
	}
	return l
}

// Clone deep-copies a configuration map.
func Clone(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = cloneValue(v)
	}
	return dst
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return Clone(tv)
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = cloneValue(item)
		}
		return out
	}
	return v
}
