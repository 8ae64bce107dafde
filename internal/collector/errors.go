package collector

import "errors"

var (
	// ErrEmptyBeacon is returned for requests without parameters.
	ErrEmptyBeacon = errors.New("empty beacon")

	// ErrBadBeacon is returned for parameters that cannot be decoded.
	ErrBadBeacon = errors.New("malformed beacon")

	// ErrStoreClosed is returned by store operations after Close.
	ErrStoreClosed = errors.New("store closed")
)
