package mutation

import (
	"errors"
	"fmt"
)

var (
	// ErrCallbackPanic is matched by CallbackError when a callback panicked.
	ErrCallbackPanic = errors.New("event callback panicked")

	// ErrNilResource is returned for a nil resource.
	ErrNilResource = errors.New("nil resource")
)

// CallbackError wraps a failure in a per-event callback.
type CallbackError struct {
	Index int
	Type  Type
	Op    string
	Value any
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("mutation: %s event %d %s: %v", e.Type, e.Index, e.Op, e.Value)
}

// Is matches ErrCallbackPanic.
func (e *CallbackError) Is(target error) bool {
	return target == ErrCallbackPanic
}
