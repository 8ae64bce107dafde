// Package event provides the named-event bus that connects the agent core to
// its plugins and collectors.
//
// The bus is the agent's nervous system: page lifecycle signals, beacon
// assembly, SPA navigation and XHR tracking are all announced as named
// events, and plugins react by subscribing to them.
//
// # Event Names
//
// Names are case-insensitive and normalised to lower case. A small set of
// legacy aliases is translated to canonical names:
//
//	onload          -> page_ready
//	onunload        -> page_unload
//	onbeforeunload  -> before_unload
//	xhr_complete    -> xhr_load
//
// Subscribing to an unknown name creates it, so plugins may subscribe before
// the producer registers the event.
//
// # Delivery
//
// FireEvent invokes every subscriber synchronously, in registration order,
// before it returns. Each call runs inside a failure boundary: returned errors
// and panics are reported and never propagate to the caller or stop the
// remaining subscribers. Subscribers added during a firing are not invoked by
// that firing. Once subscribers are removed after the firing completes.
//
// Before delivering anything other than the beacon lifecycle events
// (before_beacon, beacon, before_early_beacon) the bus flushes any queued
// beacon, so listeners never observe a half-sent beacon.
//
// # Identity
//
// A handler may be registered only once per event for a given callback data
// and scope. Identity is the handler's code pointer unless WithID supplies an
// explicit one; method values of different receivers share a code pointer,
// so subscribers that are methods should pass their receiver with WithScope.
//
// # Thread Safety
//
// A Bus is owned by the agent's run loop and is not safe for concurrent use.
// Code on other goroutines must post work into the loop.
package event
