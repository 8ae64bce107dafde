package beacon

import "errors"

// Errors reported by the transmitter.
var (
	// ErrNotAllowed is returned when the destination fails the URL allow-list.
	ErrNotAllowed = errors.New("beacon url not allowed")

	// ErrNoURL is returned when no beacon URL is configured.
	ErrNoURL = errors.New("no beacon url configured")

	// ErrNoTransport is returned when no transport can carry the beacon.
	ErrNoTransport = errors.New("no beacon transport available")

	// ErrInvalidPattern wraps an allow-list pattern that failed to compile.
	ErrInvalidPattern = errors.New("invalid beacon url pattern")
)
