package plugin

import (
	"errors"
	"fmt"
)

// Registry errors.
var (
	// ErrNilPlugin is returned when registering a nil plugin.
	ErrNilPlugin = errors.New("plugin is nil")

	// ErrInvalidPlugin is returned for a plugin with an empty name.
	ErrInvalidPlugin = errors.New("invalid plugin")

	// ErrAlreadyRegistered is returned when a name is registered twice.
	ErrAlreadyRegistered = errors.New("plugin is already registered")

	// ErrPluginNotFound is returned for unknown plugin names.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrPluginPanic marks a recovered panic inside plugin code.
	ErrPluginPanic = errors.New("plugin panicked")
)

// PluginError wraps a failure inside a plugin lifecycle method.
type PluginError struct {
	Plugin string
	Op     string
	Err    error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Plugin, e.Op, e.Err)
}

func (e *PluginError) Unwrap() error {
	return e.Err
}
