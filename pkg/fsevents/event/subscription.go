package event

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for subscriptions.
var (
	// ErrNoThreshold indicates a subscription with every threshold disabled.
	ErrNoThreshold = errors.New("subscription has no threshold")

	// ErrTypeMismatch indicates a subscription added to a stream of another family.
	ErrTypeMismatch = errors.New("subscription type does not match stream")

	// ErrInvalidType indicates a subscription with an unknown event family.
	ErrInvalidType = errors.New("invalid subscription type")

	// ErrTimeResolution indicates a time threshold below TimeResolution.
	ErrTimeResolution = errors.New("time threshold below resolution")
)

// TimeResolution is the smallest enabled TimeThreshold. Thresholds travel
// to the peer in whole milliseconds.
const TimeResolution = time.Millisecond

// Subscription describes when accumulated events must be emitted.
// A zero threshold is disabled; at least one must be set.
type Subscription struct {
	// ID correlates the local and peer descriptors of one subscribe call.
	ID int64

	// Type is the event family the subscription applies to.
	Type Type

	// FileID restricts the subscription to one aggregation key.
	// Empty matches every key.
	FileID string

	// CountThreshold triggers emission when a key's occurrence count reaches it.
	CountThreshold uint64

	// SizeThreshold triggers emission when a key's requested bytes reach it.
	SizeThreshold uint64

	// TimeThreshold bounds the delay between a fold and its emission.
	// When enabled it must be at least TimeResolution.
	TimeThreshold time.Duration
}

// SubscriptionOption configures a Subscription built with NewSubscription.
type SubscriptionOption func(*Subscription)

// WithCountThreshold sets the occurrence count threshold.
func WithCountThreshold(n uint64) SubscriptionOption {
	return func(s *Subscription) {
		s.CountThreshold = n
	}
}

// WithSizeThreshold sets the requested-bytes threshold.
func WithSizeThreshold(n uint64) SubscriptionOption {
	return func(s *Subscription) {
		s.SizeThreshold = n
	}
}

// WithTimeThreshold sets the emission interval.
func WithTimeThreshold(d time.Duration) SubscriptionOption {
	return func(s *Subscription) {
		s.TimeThreshold = d
	}
}

// ForFile restricts the subscription to a single file.
func ForFile(fileID string) SubscriptionOption {
	return func(s *Subscription) {
		s.FileID = fileID
	}
}

// NewSubscription creates a subscription for the given family.
// The ID is left zero; Manager.Subscribe assigns it.
//
// Example:
//
//	sub := event.NewSubscription(event.TypeRead,
//	    event.WithCountThreshold(100),
//	    event.WithTimeThreshold(500*time.Millisecond),
//	)
func NewSubscription(t Type, opts ...SubscriptionOption) Subscription {
	s := Subscription{Type: t}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Validate checks the family and that at least one threshold is set.
func (s Subscription) Validate() error {
	if !s.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, s.Type)
	}
	if s.TimeThreshold > 0 && s.TimeThreshold < TimeResolution {
		return fmt.Errorf("%w: %s", ErrTimeResolution, s.TimeThreshold)
	}
	if s.CountThreshold == 0 && s.SizeThreshold == 0 && s.TimeThreshold <= 0 {
		return ErrNoThreshold
	}
	return nil
}

// Matches reports whether the subscription applies to events with the given key.
func (s Subscription) Matches(key string) bool {
	return s.FileID == "" || s.FileID == key
}

// Wildcard reports whether the subscription applies to every key.
func (s Subscription) Wildcard() bool {
	return s.FileID == ""
}

// trigger returns the name of the threshold agg has reached, or "".
func (s Subscription) trigger(agg Aggregate) string {
	if s.CountThreshold > 0 && agg.Occurrences() >= s.CountThreshold {
		return FlushCount
	}
	if s.SizeThreshold > 0 && agg.RequestedBytes() >= s.SizeThreshold {
		return FlushSize
	}
	return ""
}

func (s Subscription) String() string {
	key := s.FileID
	if key == "" {
		key = "*"
	}
	return fmt.Sprintf("subscription(%d, %s, file=%s, count=%d, size=%d, time=%s)",
		s.ID, s.Type, key, s.CountThreshold, s.SizeThreshold, s.TimeThreshold)
}
