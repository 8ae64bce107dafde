package lua

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Predicate is a compiled boolean expression evaluated against a table of
// arguments named args.
type Predicate struct {
	expr  string
	state *State
	fn    *lua.LFunction
}

// CompilePredicate compiles expr. An expression without a return statement
// is treated as a single returned value.
func CompilePredicate(expr string, opts ...StateOption) (*Predicate, error) {
	body := strings.TrimSpace(expr)
	if body == "" {
		return nil, ErrEmptyPredicate
	}
	if !strings.Contains(body, "return") {
		body = "return " + body
	}

	s := NewState(opts...)
	if err := s.DoString("__predicate = function(args)\n" + body + "\nend"); err != nil {
		s.Close()
		return nil, fmt.Errorf("compile predicate %q: %w", expr, err)
	}
	fn, ok := s.L.GetGlobal("__predicate").(*lua.LFunction)
	if !ok {
		s.Close()
		return nil, fmt.Errorf("compile predicate %q: %w", expr, ErrNotFunction)
	}
	s.L.SetGlobal("__predicate", lua.LNil)
	return &Predicate{expr: expr, state: s, fn: fn}, nil
}

// Expr returns the source expression.
func (p *Predicate) Expr() string { return p.expr }

// Eval runs the predicate.
func (p *Predicate) Eval(args map[string]any) (bool, error) {
	return p.state.CallBool(p.fn, args)
}

// Close releases the interpreter.
func (p *Predicate) Close() error {
	return p.state.Close()
}
