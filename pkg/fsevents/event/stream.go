package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/randalmurphal/fsevents/pkg/fsevents/observability"
	"github.com/randalmurphal/fsevents/pkg/fsevents/scheduler"
)

// Flush reasons.
const (
	FlushCount    = observability.ReasonCount
	FlushSize     = observability.ReasonSize
	FlushPeriodic = observability.ReasonPeriodic
)

// ErrDuplicateSubscription indicates a subscription id already registered
// with the stream.
var ErrDuplicateSubscription = errors.New("duplicate subscription id")

// StreamConfig configures a Stream.
type StreamConfig[A Aggregate] struct {
	// Type is the event family the stream accepts. Required.
	Type Type

	// Aggregator is the folding policy. Defaults to KeyAggregator.
	Aggregator Aggregator[A]

	// Emit receives every flushed aggregate. It is called with the stream
	// lock held and must not call back into the stream.
	Emit func(A)

	// Scheduler drives PeriodicEmission. Nil disables the timer; callers
	// then invoke PeriodicEmission themselves.
	Scheduler scheduler.Scheduler

	Logger  *slog.Logger
	Metrics observability.MetricsRecorder
	Spans   observability.SpanManager
}

// Stream accumulates events of one family per aggregation key and flushes
// them according to the active subscriptions.
//
// A key has an entry only while it holds unflushed state: folds create it,
// flushes delete it. All methods are safe for concurrent use.
type Stream[A Aggregate] struct {
	typ     Type
	agg     Aggregator[A]
	emit    func(A)
	sched   scheduler.Scheduler
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager

	mu      sync.Mutex
	subs    map[int64]Subscription
	nextID  int64
	entries map[string]A
	period  time.Duration
	cancel  func()
	closed  bool
}

// NewStream creates a stream from cfg.
func NewStream[A Aggregate](cfg StreamConfig[A]) (*Stream[A], error) {
	if !cfg.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, cfg.Type)
	}
	s := &Stream[A]{
		typ:     cfg.Type,
		agg:     cfg.Aggregator,
		emit:    cfg.Emit,
		sched:   cfg.Scheduler,
		logger:  observability.EnrichLogger(cfg.Logger, "stream", string(cfg.Type)),
		metrics: cfg.Metrics,
		spans:   cfg.Spans,
		subs:    make(map[int64]Subscription),
		entries: make(map[string]A),
	}
	if s.agg == nil {
		s.agg = KeyAggregator[A]{}
	}
	if s.emit == nil {
		s.emit = func(A) {}
	}
	if s.metrics == nil {
		s.metrics = observability.NoopMetrics{}
	}
	if s.spans == nil {
		s.spans = observability.NoopSpanManager{}
	}
	return s, nil
}

// Type returns the family the stream accepts.
func (s *Stream[A]) Type() Type {
	return s.typ
}

// Push folds evt into the entry for its key.
//
// The event is discarded when no active subscription matches its key. After
// the fold, the key is flushed at once if any matching subscription's count
// or size threshold is reached.
func (s *Stream[A]) Push(evt Folder[A]) {
	key := evt.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.admits(key) {
		s.metrics.RecordPush(context.Background(), string(s.typ), false)
		return
	}
	s.metrics.RecordPush(context.Background(), string(s.typ), true)

	current, ok := s.entries[key]
	if !ok {
		current = s.agg.Identity()
	}
	next := s.agg.Fold(current, evt)
	s.entries[key] = next

	for _, sub := range s.subs {
		if !sub.Matches(key) {
			continue
		}
		if reason := sub.trigger(next); reason != "" {
			s.flushLocked(key, reason)
			return
		}
	}
}

// admits reports whether any subscription matches key. Caller holds s.mu.
func (s *Stream[A]) admits(key string) bool {
	for _, sub := range s.subs {
		if sub.Matches(key) {
			return true
		}
	}
	return false
}

// flushLocked hands off the state of key and deletes the entry.
// Caller holds s.mu.
func (s *Stream[A]) flushLocked(key, reason string) {
	state, ok := s.entries[key]
	if !ok {
		return
	}
	delete(s.entries, key)

	out := s.agg.Emit(state)
	observability.LogFlush(s.logger, key, reason, out.Occurrences(), out.RequestedBytes())
	s.metrics.RecordFlush(context.Background(), string(s.typ), reason, out.Occurrences(), out.RequestedBytes())
	s.emit(out)
}

// AddSubscription registers sub and returns its id. A zero ID is replaced
// by the next stream-local id. The timer is rescheduled when the minimum
// time threshold changes.
//
// Accumulation for the subscription starts now: nothing pushed earlier was
// retained.
func (s *Stream[A]) AddSubscription(sub Subscription) (int64, error) {
	if err := sub.Validate(); err != nil {
		return 0, err
	}
	if sub.Type != s.typ {
		return 0, fmt.Errorf("%w: %s subscription on %s stream", ErrTypeMismatch, sub.Type, s.typ)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.ID == 0 {
		s.nextID++
		for s.subs[s.nextID].ID != 0 {
			s.nextID++
		}
		sub.ID = s.nextID
	} else if _, exists := s.subs[sub.ID]; exists {
		return 0, fmt.Errorf("%w: %d", ErrDuplicateSubscription, sub.ID)
	}

	s.subs[sub.ID] = sub
	s.reschedule()
	observability.LogSubscription(s.logger, "added", sub.ID, s.period)
	return sub.ID, nil
}

// RemoveSubscription deregisters the subscription with the given id and
// reports whether it existed.
//
// Entries no remaining subscription matches are dropped without being
// emitted. Removing the last subscription therefore drops every entry and
// stops the timer.
func (s *Stream[A]) RemoveSubscription(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[id]; !ok {
		return false
	}
	delete(s.subs, id)

	dropped := 0
	for key := range s.entries {
		if !s.admits(key) {
			delete(s.entries, key)
			dropped++
		}
	}
	if dropped > 0 {
		observability.LogDropped(s.logger, dropped)
	}
	s.reschedule()
	observability.LogSubscription(s.logger, "removed", id, s.period)
	return true
}

// reschedule recomputes the timer period and restarts the timer if it
// changed. Caller holds s.mu.
func (s *Stream[A]) reschedule() {
	var period time.Duration
	for _, sub := range s.subs {
		if sub.TimeThreshold > 0 && (period == 0 || sub.TimeThreshold < period) {
			period = sub.TimeThreshold
		}
	}
	if period == s.period && (s.cancel != nil || period == 0 || s.sched == nil) {
		return
	}

	s.stopTimer()
	s.period = period
	if period > 0 && s.sched != nil && !s.closed {
		s.cancel = s.sched.Schedule(period, s.PeriodicEmission)
	}
}

func (s *Stream[A]) stopTimer() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// PeriodicEmission flushes every key holding unflushed state, in key order,
// regardless of thresholds. With nothing accumulated it does nothing.
func (s *Stream[A]) PeriodicEmission() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 {
		return
	}

	_, span := s.spans.StartEmissionSpan(context.Background(), string(s.typ))
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		s.flushLocked(key, FlushPeriodic)
	}
	s.spans.EndSpanWithError(span, nil)
}

// Period returns the effective timer period, zero when no subscription sets
// a time threshold.
func (s *Stream[A]) Period() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.period
}

// SubscriptionCount returns the number of active subscriptions.
func (s *Stream[A]) SubscriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Subscriptions returns the active subscriptions ordered by id.
func (s *Stream[A]) Subscriptions() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PendingKeys returns the keys holding unflushed state, sorted.
func (s *Stream[A]) PendingKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Close stops the timer. Later pushes are discarded; accumulated state is
// kept so a final PeriodicEmission can still flush it. Close is idempotent.
func (s *Stream[A]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.stopTimer()
}
