package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotConnected is returned by a channel with no live connection.
var ErrNotConnected = errors.New("not connected")

// TimeoutError indicates a transport operation timed out.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s: %s", e.Duration, e.Operation)
}

// ConnectionError wraps a failure on a specific peer connection.
type ConnectionError struct {
	Addr    string
	Session string
	Err     error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Session != "" {
		return fmt.Sprintf("connection %s (session %s): %v", e.Addr, e.Session, e.Err)
	}
	return fmt.Sprintf("connection %s: %v", e.Addr, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}
