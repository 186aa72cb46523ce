package fsevents

import "errors"

// Sentinel errors returned by Manager.
var (
	// ErrClosed indicates the manager has been closed.
	ErrClosed = errors.New("event manager closed")

	// ErrUnknownSubscription indicates an id that no active subscription has.
	ErrUnknownSubscription = errors.New("unknown subscription")

	// ErrUnknownPolicy indicates an aggregation policy name other than
	// "key" or "null".
	ErrUnknownPolicy = errors.New("unknown aggregation policy")

	// ErrUnexpectedMessage indicates an inbound message of a kind only the
	// client sends.
	ErrUnexpectedMessage = errors.New("unexpected message kind")
)
