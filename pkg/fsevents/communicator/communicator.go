// Package communicator delivers serialized emissions to the peer at least
// once.
//
// Every emission gets the next delivery id and stays pending until the
// peer confirms it. Confirmations are cumulative: confirming id N
// releases every pending delivery with an id up to N. After a reconnect
// the still-pending deliveries are transmitted again in id order, so the
// peer must tolerate duplicates, either by merging (aggregates are
// associative) or by de-duplicating on delivery id.
//
// Between a disconnect and the end of the following retransmit, new
// deliveries are recorded but held back. The peer therefore sees ids in
// increasing order on every connection, which is what makes confirming
// the highest received id safe.
package communicator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/randalmurphal/fsevents/pkg/fsevents/observability"
)

// ErrUnknownDelivery indicates a confirmation for an id that was never
// issued.
var ErrUnknownDelivery = errors.New("unknown delivery id")

// Channel is the outbound side of the transport.
type Channel interface {
	// Transmit sends one encoded message. A nil error means the bytes were
	// handed to the connection, not that the peer processed them.
	Transmit(ctx context.Context, payload []byte) error
}

// ChannelFunc adapts a function to the Channel interface.
type ChannelFunc func(ctx context.Context, payload []byte) error

// Transmit implements Channel.
func (f ChannelFunc) Transmit(ctx context.Context, payload []byte) error {
	return f(ctx, payload)
}

// Payload is a message that can be encoded once its delivery id is known.
type Payload interface {
	Encode(deliveryID uint64) ([]byte, error)
}

// Pending is a delivery awaiting confirmation.
type Pending struct {
	DeliveryID uint64
	Data       []byte
	SentAt     time.Time

	// Attempts counts transmissions, including failed ones.
	Attempts int
}

// Config configures a Communicator.
type Config struct {
	Channel Channel // Required.
	Logger  *slog.Logger
	Metrics observability.MetricsRecorder
	Spans   observability.SpanManager
}

// Communicator assigns delivery ids, tracks pending deliveries and
// retransmits them after reconnects. Send may be called from many
// goroutines; confirmations are expected from a single reader.
type Communicator struct {
	channel Channel
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager

	mu      sync.Mutex
	lastID  uint64
	pending []*Pending // ascending DeliveryID
	resync  bool       // hold sends until Reconnected succeeds

	// sendMu orders transmissions so the peer sees ids in increasing order
	// and a retransmit cannot interleave with a new send.
	sendMu sync.Mutex
}

// New creates a communicator.
func New(cfg Config) (*Communicator, error) {
	if cfg.Channel == nil {
		return nil, fmt.Errorf("communicator: channel is required")
	}
	c := &Communicator{
		channel: cfg.Channel,
		logger:  observability.EnrichLogger(cfg.Logger, "communicator", ""),
		metrics: cfg.Metrics,
		spans:   cfg.Spans,
	}
	if c.metrics == nil {
		c.metrics = observability.NoopMetrics{}
	}
	if c.spans == nil {
		c.spans = observability.NoopSpanManager{}
	}
	return c, nil
}

// Send assigns the next delivery id to p, records it as pending and
// transmits it. A transmit failure is logged and the delivery stays
// pending for the next reconnect; only an encoding failure is returned,
// in which case no id is consumed. While a reconnect is outstanding the
// delivery is only recorded.
func (c *Communicator) Send(ctx context.Context, p Payload) (uint64, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	id := c.lastID + 1
	data, err := p.Encode(id)
	if err != nil {
		c.mu.Unlock()
		return 0, fmt.Errorf("encode delivery %d: %w", id, err)
	}
	c.lastID = id
	entry := &Pending{DeliveryID: id, Data: data, SentAt: time.Now()}
	c.pending = append(c.pending, entry)
	held := c.resync
	if !held {
		entry.Attempts = 1
	}
	c.mu.Unlock()

	if held {
		observability.LogHeld(c.logger, id)
		return id, nil
	}

	err = c.channel.Transmit(ctx, data)
	c.metrics.RecordDelivery(ctx, len(data), err)
	if err != nil {
		c.Disconnected()
		observability.LogTransmitError(c.logger, id, err)
	} else {
		observability.LogDelivery(c.logger, id, len(data))
	}
	return id, nil
}

// Disconnected holds new deliveries until the next successful
// Reconnected. The transport calls it when a connection drops.
func (c *Communicator) Disconnected() {
	c.mu.Lock()
	c.resync = true
	c.mu.Unlock()
}

// Holding reports whether new deliveries are being held for a reconnect.
func (c *Communicator) Holding() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resync
}

// Notify transmits an unconfirmed control message. It bypasses the
// pending registry and returns the transmit error.
func (c *Communicator) Notify(ctx context.Context, data []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.channel.Transmit(ctx, data)
}

// OnConfirmation releases every pending delivery with an id up to and
// including id, and returns how many were released. Confirming an id that
// was never issued returns ErrUnknownDelivery and changes nothing.
// Repeated or stale confirmations release nothing.
func (c *Communicator) OnConfirmation(id uint64) (int, error) {
	c.mu.Lock()
	if id == 0 || id > c.lastID {
		last := c.lastID
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: %d (last issued %d)", ErrUnknownDelivery, id, last)
	}
	n := sort.Search(len(c.pending), func(i int) bool { return c.pending[i].DeliveryID > id })
	clear(c.pending[:n])
	c.pending = c.pending[n:]
	remaining := len(c.pending)
	c.mu.Unlock()

	c.metrics.RecordConfirmation(context.Background(), n)
	observability.LogConfirmation(c.logger, id, n, remaining)
	return n, nil
}

// Reconnected retransmits every pending delivery in id order. It stops at
// the first failure and returns it; the remaining deliveries stay pending
// for the next reconnect and new ones stay held. It returns the number
// retransmitted.
func (c *Communicator) Reconnected(ctx context.Context) (int, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	batch := append([]*Pending(nil), c.pending...)
	c.mu.Unlock()

	ctx, span := c.spans.StartReconnectSpan(ctx, len(batch))
	elapsed := observability.TimedOperation()

	var sent int
	var err error
	for _, entry := range batch {
		if err = ctx.Err(); err != nil {
			break
		}
		c.mu.Lock()
		entry.Attempts++
		c.mu.Unlock()
		if err = c.channel.Transmit(ctx, entry.Data); err != nil {
			err = fmt.Errorf("retransmit delivery %d: %w", entry.DeliveryID, err)
			break
		}
		sent++
	}

	if err == nil {
		c.mu.Lock()
		c.resync = false
		c.mu.Unlock()
	} else {
		c.Disconnected()
	}

	c.metrics.RecordRetransmit(ctx, sent, err)
	observability.LogRetransmit(c.logger, sent, len(batch)-sent, elapsed(), err)
	c.spans.EndSpanWithError(span, err)
	return sent, err
}

// PendingCount returns the number of unconfirmed deliveries.
func (c *Communicator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Pending returns a snapshot of unconfirmed deliveries in id order.
func (c *Communicator) Pending() []Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Pending, len(c.pending))
	for i, p := range c.pending {
		out[i] = *p
	}
	return out
}

// LastDeliveryID returns the most recently issued delivery id, zero if
// none.
func (c *Communicator) LastDeliveryID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastID
}
