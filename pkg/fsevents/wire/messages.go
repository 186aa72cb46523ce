package wire

import (
	"fmt"
	"time"

	"github.com/randalmurphal/fsevents/pkg/fsevents/event"
)

// Kind identifies the message carried by an Envelope.
type Kind uint8

// Message kinds. Values are part of the wire contract.
const (
	KindEmission           Kind = 1
	KindSubscriptionAdd    Kind = 2
	KindSubscriptionRemove Kind = 3
	KindConfirmation       Kind = 4
	KindHello              Kind = 5
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindEmission:
		return "emission"
	case KindSubscriptionAdd:
		return "subscription_add"
	case KindSubscriptionRemove:
		return "subscription_remove"
	case KindConfirmation:
		return "confirmation"
	case KindHello:
		return "hello"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Envelope is the outer frame of every message.
type Envelope struct {
	Kind       Kind   `cbor:"kind"`
	Body       []byte `cbor:"body"`
	Compressed bool   `cbor:"compressed,omitempty"`

	// Size is the uncompressed body length, set when Compressed is true.
	Size int `cbor:"size,omitempty"`
}

// Message is implemented by every wire message.
type Message interface {
	Kind() Kind
}

// Emission carries one flushed aggregate.
type Emission struct {
	DeliveryID uint64     `cbor:"delivery_id"`
	Type       event.Type `cbor:"type"`
	FileID     string     `cbor:"file_id"`
	Counter    uint64     `cbor:"counter"`
	Size       uint64     `cbor:"size"`
	Blocks     [][2]int64 `cbor:"blocks"`
	FileSize   *int64     `cbor:"file_size,omitempty"`
}

// Kind returns KindEmission.
func (Emission) Kind() Kind { return KindEmission }

// SubscriptionAdd announces a subscription to the other side.
type SubscriptionAdd struct {
	ID                  int64      `cbor:"id"`
	CountThreshold      uint64     `cbor:"count_threshold"`
	SizeThreshold       uint64     `cbor:"size_threshold"`
	TimeThresholdMillis int64      `cbor:"time_threshold_ms"`
	Type                event.Type `cbor:"type"`

	// FileID is empty for a wildcard subscription.
	FileID string `cbor:"file_id,omitempty"`
}

// Kind returns KindSubscriptionAdd.
func (SubscriptionAdd) Kind() Kind { return KindSubscriptionAdd }

// SubscriptionRemove cancels a subscription by id.
type SubscriptionRemove struct {
	ID int64 `cbor:"id"`
}

// Kind returns KindSubscriptionRemove.
func (SubscriptionRemove) Kind() Kind { return KindSubscriptionRemove }

// Confirmation acknowledges every delivery up to and including DeliveryID.
type Confirmation struct {
	DeliveryID uint64 `cbor:"delivery_id"`
}

// Kind returns KindConfirmation.
func (Confirmation) Kind() Kind { return KindConfirmation }

// Hello is the first message a client writes on every connection. Delivery
// and subscription ids are scoped to ClientID, so two clients, or two runs
// of the same client, never collide at the peer.
type Hello struct {
	ClientID string `cbor:"client_id"`
}

// Kind returns KindHello.
func (Hello) Kind() Kind { return KindHello }

// NewEmission builds the emission message for agg. The delivery id is
// assigned later by the communicator.
func NewEmission(agg event.Aggregate) Emission {
	ranges := agg.Ranges()
	blocks := make([][2]int64, len(ranges))
	for i, r := range ranges {
		blocks[i] = [2]int64{r.Start, r.End}
	}
	msg := Emission{
		Type:    agg.Type(),
		FileID:  agg.Key(),
		Counter: agg.Occurrences(),
		Size:    agg.RequestedBytes(),
		Blocks:  blocks,
	}
	if w, ok := agg.(event.WriteAggregate); ok && w.FileSize != nil {
		size := *w.FileSize
		msg.FileSize = &size
	}
	return msg
}

// Ranges returns the emitted blocks as a ByteRanges set.
func (m Emission) Ranges() event.ByteRanges {
	var out event.ByteRanges
	for _, b := range m.Blocks {
		out = out.Add(b[0], b[1])
	}
	return out
}

// NewSubscriptionAdd builds the announcement for sub. The time threshold
// is rounded up to whole milliseconds so an enabled threshold never
// arrives as zero.
func NewSubscriptionAdd(sub event.Subscription) SubscriptionAdd {
	return SubscriptionAdd{
		ID:                  sub.ID,
		CountThreshold:      sub.CountThreshold,
		SizeThreshold:       sub.SizeThreshold,
		TimeThresholdMillis: ceilMillis(sub.TimeThreshold),
		Type:                sub.Type,
		FileID:              sub.FileID,
	}
}

func ceilMillis(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Millisecond - 1) / time.Millisecond)
}

// Subscription converts the announcement back into a descriptor.
func (m SubscriptionAdd) Subscription() event.Subscription {
	return event.Subscription{
		ID:             m.ID,
		Type:           m.Type,
		FileID:         m.FileID,
		CountThreshold: m.CountThreshold,
		SizeThreshold:  m.SizeThreshold,
		TimeThreshold:  time.Duration(m.TimeThresholdMillis) * time.Millisecond,
	}
}
