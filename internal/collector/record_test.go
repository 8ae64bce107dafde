package collector

import (
	"errors"
	"net/url"
	"testing"

	"github.com/dshills/rumbeacon/internal/beacon"
)

func TestDecode(t *testing.T) {
	errs, ok := beacon.JSURL([]map[string]any{{"m": "boom", "n": 2}})
	if !ok {
		t.Fatal("JSURL did not encode the error list")
	}

	values := url.Values{
		beacon.VarURL:       {"https://example.com/a"},
		beacon.VarPageID:    {"ab12cd34"},
		beacon.VarInitiator: {"xhr"},
		"vis.st":            {"visible"},
		"t_done":            {"1200"},
		"err":               {errs},
	}
	rec, err := Decode(values)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if rec.URL != "https://example.com/a" || rec.PageID != "ab12cd34" || rec.Initiator != "xhr" {
		t.Errorf("columns = %q %q %q", rec.URL, rec.PageID, rec.Initiator)
	}

	tests := []struct {
		name string
		want string
	}{
		{"vis.st", "visible"},
		{"t_done", "1200"},
		{beacon.VarInitiator, "xhr"},
	}
	for _, tt := range tests {
		if got := rec.Var(tt.name).String(); got != tt.want {
			t.Errorf("Var(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}

	list := rec.Var("err")
	if !list.IsArray() {
		t.Fatalf("err = %s, want array", list.Raw)
	}
	first := list.Array()[0]
	if first.Get("m").String() != "boom" || first.Get("n").Int() != 2 {
		t.Errorf("err[0] = %s", first.Raw)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name   string
		values url.Values
		want   error
	}{
		{"empty", url.Values{}, ErrEmptyBeacon},
		{"bad jsurl", url.Values{"err": {"~(m~'x"}}, ErrBadBeacon},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.values)
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEscapePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"t_done", "t_done"},
		{"vis.st", `vis\.st`},
		{"a*b?c", `a\*b\?c`},
	}
	for _, tt := range tests {
		if got := escapePath(tt.in); got != tt.want {
			t.Errorf("escapePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
