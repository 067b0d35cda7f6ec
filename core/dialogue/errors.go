package dialogue

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendUnavailable matches failures to reach the dialogue backend,
	// including timeouts.
	ErrBackendUnavailable = errors.New("dialogue backend unavailable")
	// ErrBackendProtocol matches replies that are not a well-formed turn
	// response, including non-success statuses.
	ErrBackendProtocol = errors.New("dialogue backend protocol error")
)

// UnavailableError is returned when the request could not be completed.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %v", ErrBackendUnavailable, e.Err)
}

func (e *UnavailableError) Unwrap() []error {
	return []error{ErrBackendUnavailable, e.Err}
}

// ProtocolError is returned when the backend answered with something other
// than a valid turn response. Payload holds the offending body.
type ProtocolError struct {
	StatusCode int
	Reason     string
	Payload    string
}

func (e *ProtocolError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", ErrBackendProtocol, e.Reason, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", ErrBackendProtocol, e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return ErrBackendProtocol
}
