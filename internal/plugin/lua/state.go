package lua

import (
	"context"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// DefaultTimeout bounds a single script call.
const DefaultTimeout = 250 * time.Millisecond

// State wraps a sandboxed gopher-lua interpreter.
type State struct {
	L       *lua.LState
	timeout time.Duration
	sandbox *Sandbox
	bridge  *Bridge
	closed  bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithTimeout sets the per-call timeout. Zero disables it.
func WithTimeout(d time.Duration) StateOption {
	return func(s *State) {
		if d >= 0 {
			s.timeout = d
		}
	}
}

// NewState creates a sandboxed state.
func NewState(opts ...StateOption) *State {
	s := &State{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(s)
	}

	s.L = lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		s.L.Push(s.L.NewFunction(lib.fn))
		s.L.Push(lua.LString(lib.name))
		s.L.Call(1, 0)
	}

	s.sandbox = NewSandbox(s.L)
	s.sandbox.Install()
	s.bridge = NewBridge(s.L)
	return s
}

// Bridge returns the Go/Lua value converter.
func (s *State) Bridge() *Bridge { return s.bridge }

// Sandbox returns the sandbox.
func (s *State) Sandbox() *Sandbox { return s.sandbox }

// DoString runs a chunk.
func (s *State) DoString(code string) error {
	if s.closed {
		return ErrStateClosed
	}
	return s.guard(func() error { return s.L.DoString(code) })
}

// DoFile runs a file.
func (s *State) DoFile(path string) error {
	if s.closed {
		return ErrStateClosed
	}
	return s.guard(func() error { return s.L.DoFile(path) })
}

// HasFunction reports whether the global name is a function.
func (s *State) HasFunction(name string) bool {
	if s.closed {
		return false
	}
	return s.L.GetGlobal(name).Type() == lua.LTFunction
}

// Call invokes the global function name with Go arguments and returns its
// first result converted to Go.
func (s *State) Call(name string, args ...any) (any, error) {
	if s.closed {
		return nil, ErrStateClosed
	}
	fn, ok := s.L.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrNotFunction)
	}
	return s.CallFunction(fn, args...)
}

// CallFunction invokes fn with Go arguments and returns its first result.
func (s *State) CallFunction(fn *lua.LFunction, args ...any) (any, error) {
	if s.closed {
		return nil, ErrStateClosed
	}
	var ret lua.LValue = lua.LNil
	err := s.guard(func() error {
		largs := make([]lua.LValue, len(args))
		for i, a := range args {
			largs[i] = s.bridge.ToLua(a)
		}
		if err := s.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, largs...); err != nil {
			return err
		}
		ret = s.L.Get(-1)
		s.L.Pop(1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.bridge.ToGo(ret), nil
}

// CallBool is CallFunction with Lua truthiness applied to the result.
func (s *State) CallBool(fn *lua.LFunction, args ...any) (bool, error) {
	if s.closed {
		return false, ErrStateClosed
	}
	var ok bool
	err := s.guard(func() error {
		largs := make([]lua.LValue, len(args))
		for i, a := range args {
			largs[i] = s.bridge.ToLua(a)
		}
		if err := s.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, largs...); err != nil {
			return err
		}
		ok = lua.LVAsBool(s.L.Get(-1))
		s.L.Pop(1)
		return nil
	})
	return ok, err
}

// RegisterModule installs a preloaded module and exposes it as a global.
func (s *State) RegisterModule(name string, funcs map[string]lua.LGFunction) {
	if s.closed {
		return
	}
	mod := s.L.SetFuncs(s.L.NewTable(), funcs)
	s.L.PreloadModule(name, func(L *lua.LState) int {
		L.Push(mod)
		return 1
	})
	s.sandbox.Allow(name)
	s.L.SetGlobal(name, mod)
}

// Close releases the interpreter.
func (s *State) Close() error {
	if s.closed {
		return nil
	}
	s.L.Close()
	s.closed = true
	return nil
}

// guard applies the timeout and converts panics into errors.
func (s *State) guard(fn func() error) (err error) {
	if s.timeout > 0 && s.L.Context() == nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.L.SetContext(ctx)
		defer s.L.RemoveContext()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}
