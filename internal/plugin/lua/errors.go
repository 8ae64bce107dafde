package lua

import "errors"

// Errors for Lua state operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrNotFunction is returned when a global expected to be a function is not.
	ErrNotFunction = errors.New("lua value is not a function")

	// ErrEmptyPredicate is returned for an empty predicate expression.
	ErrEmptyPredicate = errors.New("empty predicate expression")
)
