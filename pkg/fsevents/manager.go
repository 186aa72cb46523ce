package fsevents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/randalmurphal/fsevents/pkg/fsevents/communicator"
	"github.com/randalmurphal/fsevents/pkg/fsevents/event"
	"github.com/randalmurphal/fsevents/pkg/fsevents/observability"
	"github.com/randalmurphal/fsevents/pkg/fsevents/scheduler"
	"github.com/randalmurphal/fsevents/pkg/fsevents/wire"
)

// Manager is the client's event surface. It owns one stream per event
// family and the communicator that delivers their emissions.
//
// All methods are safe for concurrent use.
type Manager struct {
	comm    *communicator.Communicator
	codec   *wire.Codec
	reads   *event.Stream[event.ReadAggregate]
	writes  *event.Stream[event.WriteAggregate]
	logger  *slog.Logger
	metrics observability.MetricsRecorder

	// clientID scopes delivery and subscription ids at the peer. It is
	// fresh per manager because delivery ids restart at 1.
	clientID string

	// ownSched is set when the manager created its scheduler.
	ownSched *scheduler.TickerScheduler

	mu       sync.Mutex
	nextID   int64
	subs     map[int64]registration
	peerSubs map[int64]int64 // peer-assigned id -> local id
	closed   bool
}

// registration is one active subscription.
type registration struct {
	local event.Subscription
	peer  event.Subscription

	// fromPeer marks subscriptions the peer pushed. They are not
	// announced back.
	fromPeer bool
	peerID   int64
}

// New creates a manager that transmits over channel.
func New(channel communicator.Channel, opts ...Option) (*Manager, error) {
	cfg := defaultManagerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	metrics := cfg.metrics
	if metrics == nil {
		if cfg.metricsEnabled {
			metrics = observability.NewMetricsRecorder()
		} else {
			metrics = observability.NoopMetrics{}
		}
	}
	var spans observability.SpanManager = observability.NoopSpanManager{}
	if cfg.tracingEnabled {
		spans = observability.NewSpanManager()
	}

	comm, err := communicator.New(communicator.Config{
		Channel: channel,
		Logger:  cfg.logger,
		Metrics: metrics,
		Spans:   spans,
	})
	if err != nil {
		return nil, err
	}

	m := &Manager{
		comm:     comm,
		codec:    wire.NewCodec(cfg.compressionThreshold),
		logger:   observability.EnrichLogger(cfg.logger, "manager", ""),
		metrics:  metrics,
		clientID: uuid.NewString(),
		subs:     make(map[int64]registration),
		peerSubs: make(map[int64]int64),
	}

	sched := cfg.scheduler
	if sched == nil {
		m.ownSched = scheduler.New()
		sched = m.ownSched
	}

	var readAgg event.Aggregator[event.ReadAggregate]
	var writeAgg event.Aggregator[event.WriteAggregate]
	switch cfg.policy {
	case PolicyKey:
		readAgg, writeAgg = event.KeyAggregator[event.ReadAggregate]{}, event.KeyAggregator[event.WriteAggregate]{}
	case PolicyNull:
		readAgg, writeAgg = event.NullAggregator[event.ReadAggregate]{}, event.NullAggregator[event.WriteAggregate]{}
	default:
		m.closeScheduler()
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, cfg.policy)
	}

	m.reads, err = event.NewStream(event.StreamConfig[event.ReadAggregate]{
		Type:       event.TypeRead,
		Aggregator: readAgg,
		Emit:       func(agg event.ReadAggregate) { m.deliver(agg) },
		Scheduler:  sched,
		Logger:     cfg.logger,
		Metrics:    metrics,
		Spans:      spans,
	})
	if err != nil {
		m.closeScheduler()
		return nil, err
	}
	m.writes, err = event.NewStream(event.StreamConfig[event.WriteAggregate]{
		Type:       event.TypeWrite,
		Aggregator: writeAgg,
		Emit:       func(agg event.WriteAggregate) { m.deliver(agg) },
		Scheduler:  sched,
		Logger:     cfg.logger,
		Metrics:    metrics,
		Spans:      spans,
	})
	if err != nil {
		m.closeScheduler()
		return nil, err
	}
	return m, nil
}

// deliver hands a flushed aggregate to the communicator. It runs under
// the flushing stream's lock.
func (m *Manager) deliver(agg event.Aggregate) {
	if _, err := m.comm.Send(context.Background(), m.codec.Emission(agg)); err != nil && m.logger != nil {
		m.logger.Error("emission dropped",
			slog.String("file_id", agg.Key()),
			slog.String("error", err.Error()),
		)
	}
}

// EmitRead records a read of size bytes at offset.
func (m *Manager) EmitRead(fileID string, offset int64, size uint64) {
	m.reads.Push(event.NewRead(fileID, offset, size))
}

// EmitWrite records a write of size bytes at offset.
func (m *Manager) EmitWrite(fileID string, offset int64, size uint64) {
	m.writes.Push(event.NewWrite(fileID, offset, size))
}

// EmitWriteSized records a write that left the file fileSize bytes long.
func (m *Manager) EmitWriteSized(fileID string, offset int64, size uint64, fileSize int64) {
	m.writes.Push(event.NewSizedWrite(fileID, offset, size, fileSize))
}

// EmitTruncate records a truncate to fileSize. Truncates share the write
// stream.
func (m *Manager) EmitTruncate(fileID string, fileSize int64) {
	m.writes.Push(event.NewTruncate(fileID, fileSize))
}

// Subscribe registers local with the stream of its family and announces
// peer to the remote side. Both descriptors get the returned id; any ID
// they carry is ignored.
//
// A failed announcement is logged, not returned: the subscription is
// active locally and is announced again on the next reconnect.
func (m *Manager) Subscribe(ctx context.Context, local, peer event.Subscription) (int64, error) {
	if err := local.Validate(); err != nil {
		return 0, fmt.Errorf("local descriptor: %w", err)
	}
	if err := peer.Validate(); err != nil {
		return 0, fmt.Errorf("peer descriptor: %w", err)
	}
	if local.Type != peer.Type {
		return 0, fmt.Errorf("%w: local %s, peer %s", event.ErrTypeMismatch, local.Type, peer.Type)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	m.nextID++
	id := m.nextID
	local.ID, peer.ID = id, id
	if err := m.addLocked(local); err != nil {
		m.mu.Unlock()
		return 0, err
	}
	m.subs[id] = registration{local: local, peer: peer}
	m.mu.Unlock()

	m.announce(ctx, wire.NewSubscriptionAdd(peer))
	return id, nil
}

// Unsubscribe cancels the subscription with the given id. Aggregates
// accumulated under it are dropped if no other subscription of its
// family remains.
func (m *Manager) Unsubscribe(ctx context.Context, id int64) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	reg, ok := m.subs[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownSubscription, id)
	}
	m.removeLocked(id, reg)
	m.mu.Unlock()

	if !reg.fromPeer {
		m.announce(ctx, wire.SubscriptionRemove{ID: id})
	}
	return nil
}

// addLocked registers sub with its stream. Caller holds m.mu.
func (m *Manager) addLocked(sub event.Subscription) error {
	var err error
	switch sub.Type {
	case event.TypeRead:
		_, err = m.reads.AddSubscription(sub)
	case event.TypeWrite:
		_, err = m.writes.AddSubscription(sub)
	default:
		err = fmt.Errorf("%w: %q", event.ErrInvalidType, sub.Type)
	}
	return err
}

// removeLocked drops a registration and its stream entry. Caller holds m.mu.
func (m *Manager) removeLocked(id int64, reg registration) {
	switch reg.local.Type {
	case event.TypeRead:
		m.reads.RemoveSubscription(id)
	case event.TypeWrite:
		m.writes.RemoveSubscription(id)
	}
	delete(m.subs, id)
	if reg.fromPeer {
		delete(m.peerSubs, reg.peerID)
	}
}

// announce transmits a subscription control message.
func (m *Manager) announce(ctx context.Context, msg wire.Message) {
	data, err := m.codec.Encode(msg)
	if err == nil {
		err = m.comm.Notify(ctx, data)
	}
	if err != nil && m.logger != nil {
		m.logger.Warn("subscription announcement failed",
			slog.String("kind", msg.Kind().String()),
			slog.String("error", err.Error()),
		)
	}
}

// HandleInbound processes one message from the peer. Confirmations go to
// the communicator; subscription messages add or remove peer-driven
// subscriptions.
//
// Nothing the peer sends can break the manager: an unusable message is
// logged, counted and returned as a *wire.ProtocolError, and state is
// left unchanged.
func (m *Manager) HandleInbound(ctx context.Context, data []byte) error {
	msg, err := wire.Decode(data)
	if err == nil {
		err = m.dispatch(msg)
	}
	if err != nil {
		kind := "unknown"
		var perr *wire.ProtocolError
		if errors.As(err, &perr) && perr.Kind != 0 {
			kind = perr.Kind.String()
		}
		m.metrics.RecordProtocolError(ctx, kind)
		observability.LogProtocolError(m.logger, kind, err)
	}
	return err
}

func (m *Manager) dispatch(msg wire.Message) error {
	switch msg := msg.(type) {
	case wire.Confirmation:
		if _, err := m.comm.OnConfirmation(msg.DeliveryID); err != nil {
			return &wire.ProtocolError{Kind: msg.Kind(), Err: err}
		}
		return nil

	case wire.SubscriptionAdd:
		if err := m.addPeerSubscription(msg); err != nil {
			return &wire.ProtocolError{Kind: msg.Kind(), Err: err}
		}
		return nil

	case wire.SubscriptionRemove:
		m.mu.Lock()
		defer m.mu.Unlock()
		localID, ok := m.peerSubs[msg.ID]
		if !ok {
			return &wire.ProtocolError{Kind: msg.Kind(), Err: fmt.Errorf("%w: peer id %d", ErrUnknownSubscription, msg.ID)}
		}
		m.removeLocked(localID, m.subs[localID])
		return nil

	default:
		return &wire.ProtocolError{Kind: msg.Kind(), Err: ErrUnexpectedMessage}
	}
}

// addPeerSubscription applies a subscription pushed by the peer. A
// repeated announcement of the same peer id replaces the earlier one. The
// replacement is registered before the old subscription goes away, so
// state accumulated for keys both match survives, and a rejected
// replacement leaves the old one in place.
func (m *Manager) addPeerSubscription(msg wire.SubscriptionAdd) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	sub := msg.Subscription()
	sub.ID = m.nextID + 1
	if err := m.addLocked(sub); err != nil {
		return err
	}
	m.nextID = sub.ID

	if old, ok := m.peerSubs[msg.ID]; ok {
		m.removeLocked(old, m.subs[old])
	}
	m.subs[sub.ID] = registration{local: sub, peer: msg.Subscription(), fromPeer: true, peerID: msg.ID}
	m.peerSubs[msg.ID] = sub.ID
	return nil
}

// ClientID returns the identity this manager presents to the peer.
func (m *Manager) ClientID() string {
	return m.clientID
}

// Hello returns the encoded greeting that must open every connection to
// the peer, before any emission or subscription message. Wire it as the
// transport's handshake.
func (m *Manager) Hello() ([]byte, error) {
	return m.codec.Encode(wire.Hello{ClientID: m.clientID})
}

// Reconnected restores peer state after the transport reconnects: every
// locally created subscription is announced again, then unconfirmed
// deliveries are retransmitted in order. It returns the number of
// deliveries retransmitted.
func (m *Manager) Reconnected(ctx context.Context) (int, error) {
	m.mu.Lock()
	var announce []event.Subscription
	for _, reg := range m.subs {
		if !reg.fromPeer {
			announce = append(announce, reg.peer)
		}
	}
	m.mu.Unlock()
	sort.Slice(announce, func(i, j int) bool { return announce[i].ID < announce[j].ID })

	for _, sub := range announce {
		data, err := m.codec.Encode(wire.NewSubscriptionAdd(sub))
		if err != nil {
			return 0, err
		}
		if err := m.comm.Notify(ctx, data); err != nil {
			m.comm.Disconnected()
			return 0, fmt.Errorf("announce subscription %d: %w", sub.ID, err)
		}
	}
	return m.comm.Reconnected(ctx)
}

// Disconnected holds new deliveries until the next Reconnected.
func (m *Manager) Disconnected() {
	m.comm.Disconnected()
}

// Flush emits everything accumulated in both streams regardless of
// thresholds.
func (m *Manager) Flush() {
	m.reads.PeriodicEmission()
	m.writes.PeriodicEmission()
}

// Close stops the periodic timers. Later emits are discarded and
// Subscribe returns ErrClosed. Accumulated state is kept; call Flush
// before Close to send it. Close is idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.reads.Close()
	m.writes.Close()
	m.closeScheduler()
	return nil
}

func (m *Manager) closeScheduler() {
	if m.ownSched != nil {
		m.ownSched.Close()
	}
}

// Subscriptions returns the local descriptors of every active
// subscription, ordered by id.
func (m *Manager) Subscriptions() []event.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]event.Subscription, 0, len(m.subs))
	for _, reg := range m.subs {
		out = append(out, reg.local)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PendingDeliveries returns the number of emissions awaiting confirmation.
func (m *Manager) PendingDeliveries() int {
	return m.comm.PendingCount()
}

// LastDeliveryID returns the most recently issued delivery id.
func (m *Manager) LastDeliveryID() uint64 {
	return m.comm.LastDeliveryID()
}
