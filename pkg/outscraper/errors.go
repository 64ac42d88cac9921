package outscraper

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidArgument is matched by every *ArgumentError.
	ErrInvalidArgument = errors.New("outscraper: invalid argument")
	// ErrTimeout is matched by every *TimeoutError.
	ErrTimeout = errors.New("outscraper: timeout exceeded")
	// ErrInvalidJSON is wrapped by a *TransportError when the body cannot be decoded.
	ErrInvalidJSON = errors.New("response body is not valid JSON")
)

// ArgumentError reports a missing or malformed input detected before any
// network call was made.
type ArgumentError struct {
	Name   string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("outscraper: %s %s", e.Name, e.Reason)
}

func (e *ArgumentError) Is(target error) bool {
	return target == ErrInvalidArgument
}

func invalidArgument(name, reason string) error {
	return &ArgumentError{Name: name, Reason: reason}
}

// TransportError is returned when the HTTP exchange itself failed: the
// connection broke, the request timed out, or the body was not JSON.
type TransportError struct {
	Method     string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("outscraper: %s %s: status %d: %v", e.Method, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("outscraper: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// APIError carries the errorMessage of an envelope flagged with "error": true.
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// TimeoutError is returned when a task is still pending after the whole poll
// budget was spent.
type TimeoutError struct {
	RequestID string
	Attempts  int
	Waited    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("outscraper: request %s still pending after %d checks (%s)", e.RequestID, e.Attempts, e.Waited)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}
