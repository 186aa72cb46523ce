// Package peer is a reference implementation of the remote side of the
// fsevents protocol.
//
// Server accepts client connections, records every emission in a Store, confirms cumulatively and lets the operator push
// subscriptions to connected clients. Every connection opens with a hello
// naming the client; receipts and client subscriptions are keyed by it. Tests and the loopback example use
// it as the counterpart of a Manager.
package peer

import (
	"errors"
	"time"

	"github.com/randalmurphal/fsevents/pkg/fsevents/wire"
)

// Store records received emissions. Delivery ids are scoped to the client
// that sent them: an (client, delivery id) pair is recorded at most once,
// so retransmitted emissions are recognised as duplicates while another
// client's id 1 is not.
// Implementations must be safe for concurrent use.
type Store interface {
	// Record stores msg under client and its delivery id. It reports false
	// without storing anything when the pair was already recorded.
	Record(client string, msg wire.Emission) (bool, error)

	// Load returns the emission client recorded under id.
	// Returns ErrNotFound if the pair was never recorded.
	Load(client string, id uint64) (wire.Emission, error)

	// List returns receipt metadata ordered by client, then delivery id.
	List() ([]Receipt, error)

	// Close releases any resources (connections, files).
	Close() error
}

// Receipt describes a recorded emission without its block list.
type Receipt struct {
	ClientID   string
	DeliveryID uint64
	FileID     string
	Type       string
	Counter    uint64
	Size       uint64
	ReceivedAt time.Time
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates no emission was recorded under the id.
	ErrNotFound = errors.New("receipt not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("receipt store closed")
)

func receiptOf(client string, msg wire.Emission, at time.Time) Receipt {
	return Receipt{
		ClientID:   client,
		DeliveryID: msg.DeliveryID,
		FileID:     msg.FileID,
		Type:       string(msg.Type),
		Counter:    msg.Counter,
		Size:       msg.Size,
		ReceivedAt: at,
	}
}
