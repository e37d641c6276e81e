package tracker

import (
	"errors"
	"fmt"
	"net/http"
)

// Payload guard errors. Both are fatal for the page that produced them.
var (
	// ErrResponseTooLarge is returned when a response body exceeds the byte limit.
	ErrResponseTooLarge = errors.New("response too large")
	// ErrResponseTooComplex is returned when a payload exceeds the node limit.
	ErrResponseTooComplex = errors.New("response too complex")
)

// AuthenticationError reports rejected or malformed credentials. Never retried.
type AuthenticationError struct {
	Tracker    string
	StatusCode int // 0 when the failure was not an HTTP status
	Message    string
}

func (e *AuthenticationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "invalid credentials"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s authentication failed (HTTP %d): %s", e.Tracker, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s authentication failed: %s", e.Tracker, msg)
}

// TransportError reports a network-level failure: timeout, connection reset or
// refused, DNS failure, truncated response. Callers may retry it.
type TransportError struct {
	Op   string // HTTP method
	URL  string // Request URL with query string removed
	Kind string // "timeout", "connection", "dns" or "network"
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %s error: %v", e.Op, e.URL, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a timeout.
func (e *TransportError) Timeout() bool { return e.Kind == "timeout" }

// APIError reports an application-level HTTP failure (non-2xx status that is
// not an authentication problem).
type APIError struct {
	StatusCode int
	URL        string
	Body       string // Truncated response body
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("API returned %d for %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("API returned %d for %s: %s", e.StatusCode, e.URL, e.Body)
}

// Retryable reports whether the status is a throttling or server-side error.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ParseError reports a malformed but well-sized payload.
type ParseError struct {
	Format string // "json" or "xml"
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s response: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ConflictError is returned when an import is started for a project that
// already has an active import.
type ConflictError struct {
	ProjectID int64
	SessionID int64 // The active session, when known
}

func (e *ConflictError) Error() string {
	if e.SessionID != 0 {
		return fmt.Sprintf("project %d already has an active import (session %d)", e.ProjectID, e.SessionID)
	}
	return fmt.Sprintf("project %d already has an active import", e.ProjectID)
}

// IsRetryable reports whether err is worth retrying: network-level transport
// failures and throttled or server-side API errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Retryable()
	}
	return false
}

// IsAuthError reports whether err is an AuthenticationError.
func IsAuthError(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// ErrUnknownTracker is returned when a tracker name is not registered.
type ErrUnknownTracker struct {
	Name      string
	Available []string
}

func (e *ErrUnknownTracker) Error() string {
	return fmt.Sprintf("unknown tracker %q (available: %v)", e.Name, e.Available)
}

// ErrNotAuthenticated is returned when a tracker is used before Authenticate.
type ErrNotAuthenticated struct {
	Tracker string
}

func (e *ErrNotAuthenticated) Error() string {
	return e.Tracker + " tracker not authenticated; call Authenticate() first"
}
