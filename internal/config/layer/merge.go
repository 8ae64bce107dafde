package layer

import (
	"reflect"
	"sort"
	"strings"
)

// DeepMerge merges src into dst and returns dst. Nested maps merge key by
// key; any other value in src replaces the one in dst.
func DeepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, sv := range src {
		sm, srcIsMap := sv.(map[string]any)
		dm, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[k] = DeepMerge(dm, sm)
			continue
		}
		dst[k] = cloneValue(sv)
	}
	return dst
}

// GetByPath looks up a dot-separated path such as "RT.cookie".
func GetByPath(data map[string]any, path string) (any, bool) {
	if data == nil || path == "" {
		return nil, false
	}
	var cur any = data
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetByPath stores value at path, creating intermediate maps and replacing
// non-map values that are in the way.
func SetByPath(data map[string]any, path string, value any) {
	if data == nil || path == "" {
		return
	}
	keys := strings.Split(path, ".")
	cur := data
	for _, key := range keys[:len(keys)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[key] = next
		}
		cur = next
	}
	cur[keys[len(keys)-1]] = value
}

// DeleteByPath removes path and reports whether it existed.
func DeleteByPath(data map[string]any, path string) bool {
	keys := strings.Split(path, ".")
	cur := data
	for _, key := range keys[:len(keys)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			return false
		}
		cur = next
	}
	last := keys[len(keys)-1]
	if _, ok := cur[last]; !ok {
		return false
	}
	delete(cur, last)
	return true
}

// Flatten returns every leaf of data keyed by its dot path.
func Flatten(data map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			p := k
			if prefix != "" {
				p = prefix + "." + k
			}
			if nested, ok := v.(map[string]any); ok {
				walk(p, nested)
				continue
			}
			out[p] = v
		}
	}
	walk("", data)
	return out
}

// ChangedPaths returns the sorted leaf paths whose values differ between
// old and new, including additions and removals.
func ChangedPaths(old, new map[string]any) []string {
	of, nf := Flatten(old), Flatten(new)
	var changed []string
	for p, nv := range nf {
		if ov, ok := of[p]; !ok || !reflect.DeepEqual(ov, nv) {
			changed = append(changed, p)
		}
	}
	for p := range of {
		if _, ok := nf[p]; !ok {
			changed = append(changed, p)
		}
	}
	sort.Strings(changed)
	return changed
}
