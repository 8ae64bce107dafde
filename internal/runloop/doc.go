// Package runloop provides the cooperative, single-writer scheduler that owns
// all instrumentation state.
//
// Every piece of mutable state in the agent (the beacon variable store, the
// pending-event list, the event bus subscriber lists) is touched only from
// tasks running on one Loop. Host code on other goroutines hands work to the
// loop with Post; timers registered with AfterFunc deliver their callbacks as
// loop tasks. This keeps the state machines free of locks while still letting
// network callbacks arrive from arbitrary goroutines.
//
// # Tasks and Microtasks
//
// Post enqueues a task. Defer enqueues a microtask: microtasks queued while a
// task runs are drained before the next task starts. Beacon coalescing relies
// on this ordering.
//
// # Deterministic Time
//
// A Loop built with a FakeClock can be stepped with Advance. Due timers fire
// in deadline order and the loop is drained after each firing, so settle
// timers and load callbacks interleave the way they would in real time.
package runloop
