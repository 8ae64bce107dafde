// Package beacon assembles and transmits beacons.
//
// A beacon is one outbound batch of key/value variables. Vars is the mutable
// store plugins write into; Encode serialises it into an
// application/x-www-form-urlencoded payload honouring variable priorities;
// Transmitter owns the single-flight send lock, the plugin completeness gate
// and transport selection.
//
// The send pipeline:
//
//	SendBeacon ──► queued flag ──► (microtask) RealSend
//	                                   │
//	        gate: every plugin IsComplete? ── no ──► return, vars untouched
//	                                   │
//	        URL vars, session and metadata stamps
//	                                   │
//	        before_beacon ──► snapshot ──► rate limit / allow-list
//	                                   │
//	        GET image | native beacon | XHR POST ──► beacon event
//
// Only one beacon may be queued at a time. Producers that need to send while
// InQueue reports true subscribe to the beacon event and retry afterwards.
package beacon
