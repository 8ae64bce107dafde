package plugin

// State is the lifecycle state of a registered plugin.
type State int

// Plugin states.
const (
	// StateRegistered - registered, Init not yet called.
	StateRegistered State = iota

	// StateActive - initialised and taking part in readiness checks.
	StateActive

	// StateDisabled - disabled by configuration; skipped by Init and the
	// readiness gate.
	StateDisabled

	// StateError - the last Init failed. The plugin still takes part in
	// readiness checks.
	StateError
)

func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateActive:
		return "active"
	case StateDisabled:
		return "disabled"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Enabled reports whether the plugin takes part in readiness checks.
func (s State) Enabled() bool {
	return s != StateDisabled
}
