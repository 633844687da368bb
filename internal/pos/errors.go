package pos

import (
	"errors"
	"fmt"
)

// Sentinel errors for POS operations.
//
//	if errors.Is(err, pos.ErrUnexpectedStatus) {
//	    // the API answered with a non-2xx status
//	}
var (
	// ErrNotConfigured indicates missing credentials or store id.
	ErrNotConfigured = errors.New("pos: client not configured")

	// ErrAuth indicates the token request failed or returned no token.
	ErrAuth = errors.New("pos: authentication failed")

	// ErrUnexpectedStatus indicates a non-2xx response.
	ErrUnexpectedStatus = errors.New("pos: unexpected response status")

	// ErrDecode indicates a response body could not be decoded.
	ErrDecode = errors.New("pos: invalid response body")

	// ErrTokenCache indicates the token file could not be read or written.
	ErrTokenCache = errors.New("pos: token cache")
)

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: %s %s: %d", ErrUnexpectedStatus.Error(), e.Method, e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s %s: %d: %s", ErrUnexpectedStatus.Error(), e.Method, e.Endpoint, e.StatusCode, e.Body)
}

// Is makes errors.Is(err, ErrUnexpectedStatus) match.
func (e *StatusError) Is(target error) bool {
	return target == ErrUnexpectedStatus
}

// Temporary reports whether the request may succeed if retried.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500
}
