package plugin

import (
	"github.com/dshills/rumbeacon/internal/beacon"
	"github.com/dshills/rumbeacon/internal/config"
)

// Plugin is a beacon collaborator.
type Plugin interface {
	// Name is the plugin name and the name of its configuration section.
	Name() string

	// Init is called once per agent init with the plugin's section.
	Init(cfg config.Section) error

	// IsComplete reports whether the plugin has everything it needs for
	// the beacon about to be sent.
	IsComplete(vars beacon.Reader) bool
}

// ReadyToSender gates beacon assembly before it starts.
type ReadyToSender interface {
	ReadyToSend() bool
}

// Enabler is called when configuration re-enables a disabled plugin.
type Enabler interface {
	Enable()
}

// Disabler is called when configuration disables a plugin.
type Disabler interface {
	Disable()
}

// Closer releases plugin resources.
type Closer interface {
	Close() error
}

// Sections supplies configuration sections by plugin name.
type Sections interface {
	Section(name string) config.Section
}

// Func adapts functions into a Plugin. Nil functions are no-ops and a nil
// CompleteFn reports complete.
type Func struct {
	PluginName string
	InitFn     func(cfg config.Section) error
	CompleteFn func(vars beacon.Reader) bool
}

// Name implements Plugin.
func (f *Func) Name() string { return f.PluginName }

// Init implements Plugin.
func (f *Func) Init(cfg config.Section) error {
	if f.InitFn == nil {
		return nil
	}
	return f.InitFn(cfg)
}

// IsComplete implements Plugin.
func (f *Func) IsComplete(vars beacon.Reader) bool {
	if f.CompleteFn == nil {
		return true
	}
	return f.CompleteFn(vars)
}
