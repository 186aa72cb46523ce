package observability

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	fserrors "github.com/randalmurphal/fsevents/pkg/fsevents/errors"
)

// Flush reasons reported with RecordFlush.
const (
	ReasonCount    = "count"
	ReasonSize     = "size"
	ReasonPeriodic = "periodic"
)

// MetricsRecorder records fsevents metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordPush records an event pushed to a stream and whether a
	// subscription admitted it.
	RecordPush(ctx context.Context, stream string, admitted bool)

	// RecordFlush records an aggregate handed off for delivery.
	RecordFlush(ctx context.Context, stream, reason string, occurrences, sizeBytes uint64)

	// RecordDelivery records a new pending delivery and whether its first
	// transmit failed.
	RecordDelivery(ctx context.Context, payloadBytes int, err error)

	// RecordConfirmation records pending deliveries released by a confirmation.
	RecordConfirmation(ctx context.Context, released int)

	// RecordRetransmit records deliveries resent after a reconnect.
	RecordRetransmit(ctx context.Context, sent int, err error)

	// RecordProtocolError records a dropped inbound message.
	RecordProtocolError(ctx context.Context, kind string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	eventsPushed      metric.Int64Counter
	eventsDiscarded   metric.Int64Counter
	flushes           metric.Int64Counter
	flushOccurrences  metric.Int64Histogram
	deliveriesSent    metric.Int64Counter
	deliveriesPending metric.Int64UpDownCounter
	confirmed         metric.Int64Counter
	retransmitted     metric.Int64Counter
	transmitErrors    metric.Int64Counter
	emissionSize      metric.Int64Histogram
	protocolErrors    metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("fsevents")
	m := &otelMetrics{}
	var err error

	if m.eventsPushed, err = meter.Int64Counter("fsevents.events.pushed",
		metric.WithDescription("Number of events admitted by a stream"),
	); err != nil {
		return nil, err
	}

	if m.eventsDiscarded, err = meter.Int64Counter("fsevents.events.discarded",
		metric.WithDescription("Number of events discarded for lack of a subscription"),
	); err != nil {
		return nil, err
	}

	if m.flushes, err = meter.Int64Counter("fsevents.flushes",
		metric.WithDescription("Number of aggregates flushed"),
	); err != nil {
		return nil, err
	}

	if m.flushOccurrences, err = meter.Int64Histogram("fsevents.flush.occurrences",
		metric.WithDescription("Events folded into each flushed aggregate"),
	); err != nil {
		return nil, err
	}

	if m.deliveriesSent, err = meter.Int64Counter("fsevents.deliveries.sent",
		metric.WithDescription("Number of deliveries assigned an id"),
	); err != nil {
		return nil, err
	}

	if m.deliveriesPending, err = meter.Int64UpDownCounter("fsevents.deliveries.pending",
		metric.WithDescription("Deliveries awaiting confirmation"),
	); err != nil {
		return nil, err
	}

	if m.confirmed, err = meter.Int64Counter("fsevents.deliveries.confirmed",
		metric.WithDescription("Deliveries released by peer confirmation"),
	); err != nil {
		return nil, err
	}

	if m.retransmitted, err = meter.Int64Counter("fsevents.deliveries.retransmitted",
		metric.WithDescription("Deliveries resent after reconnect"),
	); err != nil {
		return nil, err
	}

	if m.transmitErrors, err = meter.Int64Counter("fsevents.transmit.errors",
		metric.WithDescription("Failed transmit attempts"),
	); err != nil {
		return nil, err
	}

	if m.emissionSize, err = meter.Int64Histogram("fsevents.emission.size_bytes",
		metric.WithDescription("Serialized emission size in bytes"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.protocolErrors, err = meter.Int64Counter("fsevents.protocol.errors",
		metric.WithDescription("Inbound messages dropped as malformed"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordPush records a pushed event.
func (m *otelMetrics) RecordPush(ctx context.Context, stream string, admitted bool) {
	attrs := metric.WithAttributes(attribute.String("stream", stream))
	if admitted {
		m.eventsPushed.Add(ctx, 1, attrs)
		return
	}
	m.eventsDiscarded.Add(ctx, 1, attrs)
}

// RecordFlush records a flushed aggregate.
func (m *otelMetrics) RecordFlush(ctx context.Context, stream, reason string, occurrences, _ uint64) {
	attrs := []attribute.KeyValue{
		attribute.String("stream", stream),
		attribute.String("reason", reason),
	}
	m.flushes.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.flushOccurrences.Record(ctx, int64(occurrences), metric.WithAttributes(attrs...))
}

// RecordDelivery records a new pending delivery.
func (m *otelMetrics) RecordDelivery(ctx context.Context, payloadBytes int, err error) {
	m.deliveriesSent.Add(ctx, 1)
	m.deliveriesPending.Add(ctx, 1)
	m.emissionSize.Record(ctx, int64(payloadBytes))
	if err != nil {
		m.recordTransmitError(ctx, "send", err)
	}
}

// RecordConfirmation records released deliveries.
func (m *otelMetrics) RecordConfirmation(ctx context.Context, released int) {
	if released == 0 {
		return
	}
	m.confirmed.Add(ctx, int64(released))
	m.deliveriesPending.Add(ctx, -int64(released))
}

// RecordRetransmit records resent deliveries.
func (m *otelMetrics) RecordRetransmit(ctx context.Context, sent int, err error) {
	m.retransmitted.Add(ctx, int64(sent))
	if err != nil {
		m.recordTransmitError(ctx, "retransmit", err)
	}
}

func (m *otelMetrics) recordTransmitError(ctx context.Context, phase string, err error) {
	m.transmitErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("phase", phase),
		attribute.String("category", fserrors.Categorize(err).String()),
	))
}

// RecordProtocolError records a dropped inbound message.
func (m *otelMetrics) RecordProtocolError(ctx context.Context, kind string) {
	m.protocolErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
