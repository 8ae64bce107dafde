package transport

import "fmt"

// StatusError is a non-2xx collector response other than 429.
type StatusError struct {
	Method string
	URL    string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("beacon %s %s: HTTP %d", e.Method, e.URL, e.Code)
}
