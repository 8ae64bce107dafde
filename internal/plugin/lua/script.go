package lua

import (
	"errors"
	"fmt"
	"os"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/dshills/rumbeacon/internal/beacon"
	"github.com/dshills/rumbeacon/internal/config"
	"github.com/dshills/rumbeacon/internal/plugin"
)

// ModuleName is the name of the module exposed to scripts.
const ModuleName = "rum"

// Script entry points.
const (
	fnInit        = "init"
	fnIsComplete  = "is_complete"
	fnReadyToSend = "ready_to_send"
)

// Host is the agent surface available to scripts.
type Host interface {
	AddVar(name string, value any, singleBeacon bool)
	RemoveVar(names ...string)
	Subscribe(event string, fn func(data any)) error
	SendBeacon()
	Now() time.Time
}

// Script is a plugin implemented in Lua.
type Script struct {
	name   string
	state  *State
	host   Host
	logger *zap.Logger
}

var (
	_ plugin.Plugin        = (*Script)(nil)
	_ plugin.ReadyToSender = (*Script)(nil)
	_ plugin.Closer        = (*Script)(nil)
)

// ScriptOption configures a Script.
type ScriptOption func(*scriptOptions)

type scriptOptions struct {
	logger *zap.Logger
	state  []StateOption
}

// WithScriptLogger sets the logger used by rum.log and for script errors.
func WithScriptLogger(l *zap.Logger) ScriptOption {
	return func(o *scriptOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithStateOptions passes options to the underlying State.
func WithStateOptions(opts ...StateOption) ScriptOption {
	return func(o *scriptOptions) { o.state = append(o.state, opts...) }
}

// LoadScript compiles and runs source. Top-level statements run
// immediately, so scripts may subscribe to events outside of init.
func LoadScript(name, source string, host Host, opts ...ScriptOption) (*Script, error) {
	if name == "" {
		return nil, fmt.Errorf("lua script: %w", plugin.ErrInvalidPlugin)
	}
	if host == nil {
		return nil, errors.New("lua script: nil host")
	}
	o := scriptOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Script{
		name:   name,
		state:  NewState(o.state...),
		host:   host,
		logger: o.logger.With(zap.String("plugin", name)),
	}
	s.state.RegisterModule(ModuleName, s.module())

	if err := s.state.DoString(source); err != nil {
		s.state.Close()
		return nil, fmt.Errorf("lua script %s: %w", name, err)
	}
	return s, nil
}

// LoadScriptFile reads path and loads it with LoadScript.
func LoadScriptFile(name, path string, host Host, opts ...ScriptOption) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lua script %s: %w", name, err)
	}
	return LoadScript(name, string(data), host, opts...)
}

// Name implements plugin.Plugin.
func (s *Script) Name() string { return s.name }

// Init calls init(cfg) when the script defines it.
func (s *Script) Init(cfg config.Section) error {
	if !s.state.HasFunction(fnInit) {
		return nil
	}
	_, err := s.state.Call(fnInit, cfg.Map())
	return err
}

// IsComplete calls is_complete(vars). Scripts without it are always
// complete; a failing call is logged and treated as complete.
func (s *Script) IsComplete(vars beacon.Reader) bool {
	return s.predicate(fnIsComplete, readerMap(vars))
}

// ReadyToSend calls ready_to_send() when defined.
func (s *Script) ReadyToSend() bool {
	return s.predicate(fnReadyToSend)
}

// Close releases the interpreter.
func (s *Script) Close() error {
	return s.state.Close()
}

func (s *Script) predicate(name string, args ...any) bool {
	if !s.state.HasFunction(name) {
		return true
	}
	fn := s.state.L.GetGlobal(name).(*lua.LFunction)
	ok, err := s.state.CallBool(fn, args...)
	if err != nil {
		s.logger.Warn("script call failed", zap.String("fn", name), zap.Error(err))
		return true
	}
	return ok
}

func (s *Script) module() map[string]lua.LGFunction {
	return map[string]lua.LGFunction{
		"add_var":     s.luaAddVar,
		"remove_var":  s.luaRemoveVar,
		"subscribe":   s.luaSubscribe,
		"send_beacon": s.luaSendBeacon,
		"now":         s.luaNow,
		"log":         s.luaLog,
	}
}

// rum.add_var(name, value [, single]) or rum.add_var(table [, single])
func (s *Script) luaAddVar(L *lua.LState) int {
	b := s.state.Bridge()
	if t, ok := L.Get(1).(*lua.LTable); ok {
		single := L.OptBool(2, false)
		t.ForEach(func(k, v lua.LValue) {
			s.host.AddVar(k.String(), b.ToGo(v), single)
		})
		return 0
	}
	name := L.CheckString(1)
	s.host.AddVar(name, b.ToGo(L.Get(2)), L.OptBool(3, false))
	return 0
}

// rum.remove_var(name, ...) or rum.remove_var({name, ...})
func (s *Script) luaRemoveVar(L *lua.LState) int {
	var names []string
	for i := 1; i <= L.GetTop(); i++ {
		switch v := L.Get(i).(type) {
		case lua.LString:
			names = append(names, string(v))
		case *lua.LTable:
			v.ForEach(func(_, item lua.LValue) {
				names = append(names, item.String())
			})
		}
	}
	s.host.RemoveVar(names...)
	return 0
}

// rum.subscribe(event, fn)
func (s *Script) luaSubscribe(L *lua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)
	err := s.host.Subscribe(name, func(data any) {
		if _, err := s.state.CallFunction(fn, data); err != nil {
			s.logger.Warn("script handler failed", zap.String("event", name), zap.Error(err))
		}
	})
	if err != nil {
		L.RaiseError("subscribe %s: %s", name, err.Error())
	}
	return 0
}

func (s *Script) luaSendBeacon(L *lua.LState) int {
	s.host.SendBeacon()
	return 0
}

func (s *Script) luaNow(L *lua.LState) int {
	L.Push(lua.LNumber(s.host.Now().UnixMilli()))
	return 1
}

func (s *Script) luaLog(L *lua.LState) int {
	s.logger.Info(L.CheckString(1))
	return 0
}

func readerMap(r beacon.Reader) map[string]any {
	if r == nil {
		return map[string]any{}
	}
	m := make(map[string]any, r.Len())
	for _, name := range r.Names() {
		v, _ := r.Get(name)
		m[name] = v
	}
	return m
}
