package config

import "errors"

// Errors returned by configuration operations.
var (
	// ErrInvalidPath indicates an empty or malformed setting path.
	ErrInvalidPath = errors.New("invalid setting path")

	// ErrInvalidOverride indicates an override document that is not a JSON object.
	ErrInvalidOverride = errors.New("override must be a JSON object")

	// ErrNoFile is returned by Watch when no config file is configured.
	ErrNoFile = errors.New("no config file to watch")
)
