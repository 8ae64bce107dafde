package beacon

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Encode serialises vars as an application/x-www-form-urlencoded payload:
// priority -1 variables in registration order, then unprioritised variables
// sorted by name, then priority 1 variables in registration order.
func Encode(v *Vars) string {
	return encode(v.values, v.first, v.last)
}

func encode(values map[string]any, first, last []string) string {
	used := make(map[string]bool, len(values))
	parts := make([]string, 0, len(values))

	emit := func(name string) {
		if used[name] {
			return
		}
		val, ok := values[name]
		if !ok {
			return
		}
		used[name] = true
		parts = append(parts, escape(name)+"="+escape(FormatValue(val)))
	}

	for _, name := range first {
		emit(name)
	}

	lastSet := make(map[string]bool, len(last))
	for _, name := range last {
		lastSet[name] = true
	}
	middle := make([]string, 0, len(values))
	for name := range values {
		if !used[name] && !lastSet[name] {
			middle = append(middle, name)
		}
	}
	sort.Strings(middle)
	for _, name := range middle {
		emit(name)
	}

	for _, name := range last {
		emit(name)
	}
	return strings.Join(parts, "&")
}

// FormatValue renders a variable value as it appears on the wire.
// Composite values use the JSURL encoding.
func FormatValue(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case time.Duration:
		return strconv.FormatInt(v.Milliseconds(), 10)
	case time.Time:
		return strconv.FormatInt(v.UnixMilli(), 10)
	case fmt.Stringer:
		return v.String()
	}
	if s, ok := JSURL(val); ok {
		return s
	}
	return fmt.Sprint(val)
}

// escape percent-encodes s the way encodeURIComponent does.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
