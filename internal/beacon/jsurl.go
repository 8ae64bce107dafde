package beacon

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// ErrJSURLSyntax is returned by ParseJSURL for malformed input.
var ErrJSURLSyntax = errors.New("jsurl: syntax error")

// JSURL encodes maps and slices in the compact JSURL notation, which stays
// short after URL encoding. It reports false for values that are not
// composite.
func JSURL(val any) (string, bool) {
	rv := reflect.ValueOf(val)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		var b strings.Builder
		writeJSURL(&b, rv)
		return b.String(), true
	}
	return "", false
}

func writeJSURL(b *strings.Builder, rv reflect.Value) {
	for rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			b.WriteString("~null")
			return
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Invalid:
		b.WriteString("~null")
	case reflect.Bool:
		b.WriteString("~" + strconv.FormatBool(rv.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.WriteString("~" + strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		b.WriteString("~" + strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsInf(f, 0) || math.IsNaN(f) {
			b.WriteString("~null")
			return
		}
		if math.Abs(f) < 1e21 {
			b.WriteString("~" + strconv.FormatFloat(f, 'f', -1, 64))
			return
		}
		b.WriteString("~" + strings.Replace(strconv.FormatFloat(f, 'g', -1, 64), "e+", "e", 1))
	case reflect.String:
		b.WriteString("~'" + jsurlEscape(rv.String()))
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			b.WriteString("~null")
			return
		}
		b.WriteString("~(")
		if rv.Len() == 0 {
			b.WriteString("~")
		}
		for i := 0; i < rv.Len(); i++ {
			writeJSURL(b, rv.Index(i))
		}
		b.WriteString(")")
	case reflect.Map:
		if rv.IsNil() {
			b.WriteString("~null")
			return
		}
		keys := make([]string, 0, rv.Len())
		byKey := make(map[string]reflect.Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := fmt.Sprint(iter.Key().Interface())
			keys = append(keys, k)
			byKey[k] = iter.Value()
		}
		sort.Strings(keys)
		b.WriteString("~(")
		for i, k := range keys {
			if i > 0 {
				b.WriteString("~")
			}
			b.WriteString(jsurlEscape(k))
			writeJSURL(b, byKey[k])
		}
		b.WriteString(")")
	default:
		b.WriteString("~'" + jsurlEscape(fmt.Sprint(rv.Interface())))
	}
}

// jsurlEscape keeps [A-Za-z0-9_.-]; '$' becomes '!', other bytes become
// *XX and runes above 0xFF become **XXXX.
func jsurlEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '_', r == '-', r == '.':
			b.WriteRune(r)
		case r == '$':
			b.WriteByte('!')
		case r < 0x100:
			fmt.Fprintf(&b, "*%02x", r)
		case r < 0x10000:
			fmt.Fprintf(&b, "**%04x", r)
		default:
			// Encode as a UTF-16 surrogate pair.
			r -= 0x10000
			fmt.Fprintf(&b, "**%04x**%04x", 0xD800+(r>>10), 0xDC00+(r&0x3FF))
		}
	}
	return b.String()
}

// ParseJSURL decodes a JSURL string. Objects decode to map[string]any,
// arrays to []any and numbers to float64.
func ParseJSURL(s string) (any, error) {
	p := &jsurlParser{s: s}
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.s) {
		return nil, fmt.Errorf("%w: trailing data at %d", ErrJSURLSyntax, p.pos)
	}
	return v, nil
}

type jsurlParser struct {
	s   string
	pos int
}

func (p *jsurlParser) errorf(msg string) error {
	return fmt.Errorf("%w: %s at %d", ErrJSURLSyntax, msg, p.pos)
}

func (p *jsurlParser) peek() byte {
	if p.pos >= len(p.s) {
		return 0
	}
	return p.s[p.pos]
}

func (p *jsurlParser) expect(c byte) error {
	if p.peek() != c {
		return p.errorf(fmt.Sprintf("expected %q", c))
	}
	p.pos++
	return nil
}

func (p *jsurlParser) value() (any, error) {
	if err := p.expect('~'); err != nil {
		return nil, err
	}
	switch c := p.peek(); c {
	case '(':
		p.pos++
		if p.peek() == '~' {
			// Array, or the empty array "~(~)".
			if p.pos+1 < len(p.s) && p.s[p.pos+1] == ')' {
				p.pos += 2
				return []any{}, nil
			}
			var arr []any
			for p.peek() != ')' {
				v, err := p.value()
				if err != nil {
					return nil, err
				}
				arr = append(arr, v)
			}
			p.pos++
			return arr, nil
		}
		obj := map[string]any{}
		if p.peek() == ')' {
			p.pos++
			return obj, nil
		}
		for {
			key, err := p.word()
			if err != nil {
				return nil, err
			}
			v, err := p.value()
			if err != nil {
				return nil, err
			}
			obj[key] = v
			if p.peek() == ')' {
				p.pos++
				return obj, nil
			}
			if err := p.expect('~'); err != nil {
				return nil, err
			}
		}
	case '\'':
		p.pos++
		return p.word()
	default:
		start := p.pos
		for p.pos < len(p.s) && p.s[p.pos] != '~' && p.s[p.pos] != ')' {
			p.pos++
		}
		tok := p.s[start:p.pos]
		switch tok {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null":
			return nil, nil
		}
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, p.errorf("bad number " + strconv.Quote(tok))
		}
		return f, nil
	}
}

// word decodes an escaped string up to the next '~' or ')'.
func (p *jsurlParser) word() (string, error) {
	var b strings.Builder
	var pending []uint16
	flush := func() {
		if len(pending) > 0 {
			b.WriteString(decodeUTF16(pending))
			pending = nil
		}
	}
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		switch {
		case c == '~' || c == ')':
			flush()
			return b.String(), nil
		case c == '!':
			flush()
			b.WriteByte('$')
			p.pos++
		case c == '*':
			if strings.HasPrefix(p.s[p.pos:], "**") {
				if p.pos+6 > len(p.s) {
					return "", p.errorf("short escape")
				}
				n, err := strconv.ParseUint(p.s[p.pos+2:p.pos+6], 16, 16)
				if err != nil {
					return "", p.errorf("bad escape")
				}
				pending = append(pending, uint16(n))
				p.pos += 6
				continue
			}
			flush()
			if p.pos+3 > len(p.s) {
				return "", p.errorf("short escape")
			}
			n, err := strconv.ParseUint(p.s[p.pos+1:p.pos+3], 16, 8)
			if err != nil {
				return "", p.errorf("bad escape")
			}
			b.WriteRune(rune(n))
			p.pos += 3
		default:
			flush()
			b.WriteByte(c)
			p.pos++
		}
	}
	flush()
	return b.String(), nil
}

func decodeUTF16(units []uint16) string {
	var b strings.Builder
	for i := 0; i < len(units); i++ {
		u := rune(units[i])
		if u >= 0xD800 && u < 0xDC00 && i+1 < len(units) {
			lo := rune(units[i+1])
			if lo >= 0xDC00 && lo < 0xE000 {
				b.WriteRune(0x10000 + (u-0xD800)<<10 + (lo - 0xDC00))
				i++
				continue
			}
		}
		b.WriteRune(u)
	}
	return b.String()
}
