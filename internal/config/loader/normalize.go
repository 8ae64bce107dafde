package loader

import "fmt"

// normalize converts decoder-specific containers into map[string]any and
// []any so every format merges the same way.
func normalize(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		if tv == nil {
			return map[string]any{}
		}
		for k, item := range tv {
			tv[k] = normalize(item)
		}
		return tv
	case map[any]any:
		out := make(map[string]any, len(tv))
		for k, item := range tv {
			out[fmt.Sprint(k)] = normalize(item)
		}
		return out
	case []any:
		for i, item := range tv {
			tv[i] = normalize(item)
		}
		return tv
	case []map[string]any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = normalize(item)
		}
		return out
	case []string:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = item
		}
		return out
	}
	return v
}
