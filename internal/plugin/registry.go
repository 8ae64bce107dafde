package plugin

import (
	"errors"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/dshills/rumbeacon/internal/beacon"
)

// Registry holds plugins in registration order.
//
// Like the rest of the agent core, a Registry is owned by the run loop and
// is not safe for concurrent use.
type Registry struct {
	entries []*entry
	byName  map[string]*entry
	report  func(error)
	logger  *zap.Logger
}

type entry struct {
	plugin Plugin
	state  State
	inits  int
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithReporter sets the function that receives plugin failures.
func WithReporter(fn func(error)) RegistryOption {
	return func(r *Registry) { r.report = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		byName: make(map[string]*entry),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds p.
func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return ErrNilPlugin
	}
	name := p.Name()
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidPlugin)
	}
	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("plugin %q: %w", name, ErrAlreadyRegistered)
	}
	e := &entry{plugin: p, state: StateRegistered}
	r.entries = append(r.entries, e)
	r.byName[name] = e
	return nil
}

// Get returns the named plugin.
func (r *Registry) Get(name string) (Plugin, bool) {
	e, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return e.plugin, true
}

// Names returns plugin names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.plugin.Name()
	}
	return names
}

// State returns the lifecycle state of the named plugin.
func (r *Registry) State(name string) (State, error) {
	e, ok := r.byName[name]
	if !ok {
		return 0, fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
	}
	return e.state, nil
}

// InitCount returns how many times Init ran for the named plugin.
func (r *Registry) InitCount(name string) int {
	if e, ok := r.byName[name]; ok {
		return e.inits
	}
	return 0
}

// Init initialises every plugin once with its configuration section.
//
// "enabled = false" disables a plugin (calling Disable on the transition)
// and skips its Init. A disabled plugin stays disabled until a later Init
// sees "enabled = true", which calls Enable and initialises it again.
// Failures are reported one by one and returned joined.
func (r *Registry) Init(cfg Sections) error {
	var errs []error
	for _, e := range r.entries {
		name := e.plugin.Name()
		sec := cfg.Section(name)
		enabled, set := sec.Enabled()

		if set && !enabled {
			if e.state != StateDisabled {
				e.state = StateDisabled
				if err := r.call(name, "disable", func() error {
					if d, ok := e.plugin.(Disabler); ok {
						d.Disable()
					}
					return nil
				}); err != nil {
					errs = append(errs, err)
				}
				r.logger.Debug("plugin disabled", zap.String("plugin", name))
			}
			continue
		}

		if e.state == StateDisabled {
			if !set || !enabled {
				continue
			}
			if err := r.call(name, "enable", func() error {
				if en, ok := e.plugin.(Enabler); ok {
					en.Enable()
				}
				return nil
			}); err != nil {
				errs = append(errs, err)
			}
			r.logger.Debug("plugin re-enabled", zap.String("plugin", name))
		}

		e.inits++
		if err := r.call(name, "init", func() error { return e.plugin.Init(sec) }); err != nil {
			e.state = StateError
			errs = append(errs, err)
			continue
		}
		e.state = StateActive
	}
	return errors.Join(errs...)
}

// ReadyToSend reports whether every enabled plugin either lacks the
// ReadyToSender capability or reports ready.
func (r *Registry) ReadyToSend() bool {
	for _, e := range r.entries {
		if !e.state.Enabled() {
			continue
		}
		rs, ok := e.plugin.(ReadyToSender)
		if !ok {
			continue
		}
		ready := true
		if err := r.call(e.plugin.Name(), "ready_to_send", func() error {
			ready = rs.ReadyToSend()
			return nil
		}); err != nil {
			continue
		}
		if !ready {
			return false
		}
	}
	return true
}

// IsComplete asks every enabled plugin whether the beacon may be sent and
// returns the names of those that are not ready. A plugin that panics is
// reported and treated as complete so it cannot block beacons forever.
func (r *Registry) IsComplete(vars beacon.Reader) (bool, []string) {
	var pending []string
	for _, e := range r.entries {
		if !e.state.Enabled() {
			continue
		}
		complete := true
		_ = r.call(e.plugin.Name(), "is_complete", func() error {
			complete = e.plugin.IsComplete(vars)
			return nil
		})
		if !complete {
			pending = append(pending, e.plugin.Name())
		}
	}
	return len(pending) == 0, pending
}

// Close closes every plugin with the Closer capability in reverse
// registration order.
func (r *Registry) Close() error {
	var errs []error
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		c, ok := e.plugin.(Closer)
		if !ok {
			continue
		}
		if err := r.call(e.plugin.Name(), "close", c.Close); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// call runs fn inside the plugin failure boundary.
func (r *Registry) call(name, op string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &PluginError{
				Plugin: name,
				Op:     op,
				Err:    fmt.Errorf("%w: %v\n%s", ErrPluginPanic, rec, debug.Stack()),
			}
		}
		if err != nil {
			r.logger.Warn("plugin failed", zap.String("plugin", name), zap.String("op", op), zap.Error(err))
			if r.report != nil {
				r.report(err)
			}
		}
	}()
	if err := fn(); err != nil {
		return &PluginError{Plugin: name, Op: op, Err: err}
	}
	return nil
}

var _ beacon.Gate = (*Registry)(nil)
