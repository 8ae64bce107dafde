package agent

import "errors"

var (
	// ErrCrossOrigin marks script errors without detail. They are dropped
	// instead of being reported.
	ErrCrossOrigin = errors.New("cross-origin script error")

	// ErrTaskPanic is reported when a loop task panics.
	ErrTaskPanic = errors.New("loop task panicked")

	// ErrDisposed is returned by calls made after Dispose.
	ErrDisposed = errors.New("agent disposed")
)
