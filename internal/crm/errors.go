package crm

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth is returned when login does not yield a usable session.
	ErrAuth = errors.New("crm: authentication failed")

	// ErrTokensMissing is wrapped in an HTTPError when a response does not
	// carry the rotated session tokens. The old tokens are invalid by then,
	// so the session cannot continue.
	ErrTokensMissing = errors.New("crm: response carried no session tokens")
)

// HTTPError describes a failed CRM request. StatusCode is zero for transport
// failures (connection refused, reset, bad URL, ...).
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       []byte
	Err        error
}

func (e *HTTPError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("crm: %s %s: %v", e.Method, e.Path, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("crm: %s %s: status %d: %v", e.Method, e.Path, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("crm: %s %s: status %d", e.Method, e.Path, e.StatusCode)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// Transport reports whether the request never produced a response.
func (e *HTTPError) Transport() bool {
	return e.StatusCode == 0
}
