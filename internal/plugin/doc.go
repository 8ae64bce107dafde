// Package plugin holds the plugin contract and the registry that turns
// plugin readiness into the beacon gate.
//
// A plugin is any type with a name, an Init taking its configuration
// section, and an IsComplete check run at transmission time. Optional
// capabilities are discovered with type assertions:
//
//	ReadyToSender  ReadyToSend() bool   pre-assembly gate
//	Enabler        Enable()             re-enabled by configuration
//	Disabler       Disable()            disabled by configuration
//	Closer         Close() error        released on agent dispose
//
// Registry.Init is safe against misbehaving plugins: errors and panics are
// wrapped in PluginError, reported and joined, and never stop the other
// plugins from initialising.
package plugin
