package github

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the requested GitHub resource does not exist.
// It is never wrapped in an APIError so callers can tell it apart from
// transport and server failures.
var ErrNotFound = errors.New("github: resource not found")

// APIError is a non-2xx response other than 404.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("github: %s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("github: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Temporary reports whether retrying the request later may succeed.
func (e *APIError) Temporary() bool {
	return isRetryableStatus(e.StatusCode)
}
