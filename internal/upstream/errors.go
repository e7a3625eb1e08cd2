package upstream

import (
	"errors"
	"fmt"
)

// ErrAuthentication matches any *AuthError via errors.Is.
var ErrAuthentication = errors.New("upstream authentication failed")

// APIError is returned when a request fails with a non-retryable status or
// the retry budget is exhausted. StatusCode is zero for network failures.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("upstream %s %s: %v", e.Method, e.Path, e.Err)
	}
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("upstream %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, body)
}

func (e *APIError) Unwrap() error { return e.Err }

// Temporary reports whether the failure was a server or network error.
func (e *APIError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// AuthError wraps a failed credential exchange.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("%v: %v", ErrAuthentication, e.Err) }

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool { return target == ErrAuthentication }

// StatusCode extracts the HTTP status from an *APIError, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
