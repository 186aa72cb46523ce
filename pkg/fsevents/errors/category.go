// Package errors categorizes failures seen by the event pipeline and
// retries the transient ones.
//
// Two layers:
//   - Categorization: transient (reconnect or retry will help), permanent,
//     or protocol (the peer sent something we cannot use)
//   - Retry: exponential backoff with jitter for dialing the peer
//
// Nothing here is surfaced to filesystem callers. Transport and protocol
// failures are logged, counted and recovered from inside the pipeline.
package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates a retry or reconnect will likely help.
	// Examples: connection reset, dial timeout, peer closed the stream.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help.
	// Examples: invalid configuration, cancelled context.
	CategoryPermanent

	// CategoryProtocol indicates a malformed or unexpected peer message.
	// The message is dropped; the connection stays up.
	CategoryProtocol
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	case CategoryProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Retries is the number of attempts that have been made.
	Retries int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Retries)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Retries)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorized creates a new categorized error.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{
		Err:      err,
		Category: category,
		Context:  context,
	}
}

// Transient creates a transient error.
func Transient(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryTransient, context)
}

// Permanent creates a permanent error.
func Permanent(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryPermanent, context)
}

// Protocol creates a protocol error.
func Protocol(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryProtocol, context)
}

// protocolViolation is implemented by decode errors for peer messages.
type protocolViolation interface {
	error
	ProtocolViolation()
}

// Categorize determines how an error should be handled.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent // shouldn't happen, fail safe
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	var violation protocolViolation
	if errors.As(err, &violation) {
		return CategoryProtocol
	}

	// Context errors first: a cancelled dial is also a net.Error.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CategoryPermanent
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return CategoryTransient
	}

	if errors.Is(err, ErrNotConnected) {
		return CategoryTransient
	}

	// Connection-level failures
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return CategoryTransient
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return CategoryTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTransient
	}

	// Unknown errors are permanent (fail safe)
	return CategoryPermanent
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}

// IsProtocol reports whether the error came from a malformed peer message.
func IsProtocol(err error) bool {
	return Categorize(err) == CategoryProtocol
}
