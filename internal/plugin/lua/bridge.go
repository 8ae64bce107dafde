package lua

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Bridge converts values between Go and Lua.
type Bridge struct {
	L *lua.LState
}

// NewBridge creates a Bridge for L.
func NewBridge(L *lua.LState) *Bridge {
	return &Bridge{L: L}
}

// ToGo converts a Lua value. Integral numbers become int64, tables become
// []any when they are sequences and map[string]any otherwise.
func (b *Bridge) ToGo(lv lua.LValue) any {
	return b.toGo(lv, make(map[*lua.LTable]bool))
}

func (b *Bridge) toGo(lv lua.LValue, seen map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if seen[v] {
			return nil
		}
		seen[v] = true
		defer delete(seen, v)
		return b.tableToGo(v, seen)
	case *lua.LUserData:
		return v.Value
	}
	return nil
}

func (b *Bridge) tableToGo(t *lua.LTable, seen map[*lua.LTable]bool) any {
	n := t.Len()
	count := 0
	t.ForEach(func(_, _ lua.LValue) { count++ })

	if n > 0 && n == count {
		arr := make([]any, n)
		for i := 1; i <= n; i++ {
			arr[i-1] = b.toGo(t.RawGetInt(i), seen)
		}
		return arr
	}

	m := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		key := k.String()
		if kn, ok := k.(lua.LNumber); ok {
			key = fmt.Sprint(float64(kn))
		}
		m[key] = b.toGo(v, seen)
	})
	return m
}

// ToLua converts a Go value. Maps and slices become tables; durations
// become milliseconds and times become Unix milliseconds.
func (b *Bridge) ToLua(v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case time.Duration:
		return lua.LNumber(float64(val) / float64(time.Millisecond))
	case time.Time:
		return lua.LNumber(val.UnixMilli())
	case []any:
		t := b.L.NewTable()
		for _, item := range val {
			t.Append(b.ToLua(item))
		}
		return t
	case []string:
		t := b.L.NewTable()
		for _, item := range val {
			t.Append(lua.LString(item))
		}
		return t
	case map[string]any:
		t := b.L.NewTable()
		for k, item := range val {
			t.RawSetString(k, b.ToLua(item))
		}
		return t
	case mapper:
		return b.ToLua(val.Map())
	case reader:
		t := b.L.NewTable()
		for _, name := range val.Names() {
			item, _ := val.Get(name)
			t.RawSetString(name, b.ToLua(item))
		}
		return t
	case fmt.Stringer:
		return lua.LString(val.String())
	}
	return b.reflectToLua(reflect.ValueOf(v))
}

// mapper and reader cover beacon snapshots and variable stores.
type mapper interface {
	Map() map[string]any
}

type reader interface {
	Names() []string
	Get(name string) (any, bool)
}

func (b *Bridge) reflectToLua(rv reflect.Value) lua.LValue {
	if rv.IsValid() && rv.CanInterface() {
		switch v := rv.Interface().(type) {
		case time.Time, time.Duration:
			return b.ToLua(v)
		}
	}
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return lua.LNil
		}
		return b.reflectToLua(rv.Elem())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return lua.LNumber(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return lua.LNumber(rv.Float())
	case reflect.Bool:
		return lua.LBool(rv.Bool())
	case reflect.String:
		return lua.LString(rv.String())
	case reflect.Slice, reflect.Array:
		t := b.L.NewTable()
		for i := 0; i < rv.Len(); i++ {
			t.Append(b.reflectToLua(rv.Index(i)))
		}
		return t
	case reflect.Map:
		t := b.L.NewTable()
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j]) })
		for _, k := range keys {
			t.RawSetString(fmt.Sprint(k.Interface()), b.reflectToLua(rv.MapIndex(k)))
		}
		return t
	case reflect.Struct:
		t := b.L.NewTable()
		rt := rv.Type()
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			if !f.IsExported() {
				continue
			}
			t.RawSetString(f.Name, b.reflectToLua(rv.Field(i)))
		}
		return t
	}
	return lua.LNil
}
