package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordPush does nothing.
func (NoopMetrics) RecordPush(_ context.Context, _ string, _ bool) {}

// RecordFlush does nothing.
func (NoopMetrics) RecordFlush(_ context.Context, _, _ string, _, _ uint64) {}

// RecordDelivery does nothing.
func (NoopMetrics) RecordDelivery(_ context.Context, _ int, _ error) {}

// RecordConfirmation does nothing.
func (NoopMetrics) RecordConfirmation(_ context.Context, _ int) {}

// RecordRetransmit does nothing.
func (NoopMetrics) RecordRetransmit(_ context.Context, _ int, _ error) {}

// RecordProtocolError does nothing.
func (NoopMetrics) RecordProtocolError(_ context.Context, _ string) {}

// NoopSpanManager is a SpanManager that does nothing.
// Use when tracing is disabled to avoid overhead.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

// noopSpan is a span that does nothing.
var noopSpan = noop.Span{}

// StartEmissionSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartEmissionSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartReconnectSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartReconnectSpan(ctx context.Context, _ int) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
