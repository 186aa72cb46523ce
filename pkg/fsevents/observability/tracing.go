package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the fsevents tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("fsevents")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
//
// Spans cover periodic emission and reconnect recovery. Individual pushes
// are not traced.
type SpanManager interface {
	// StartEmissionSpan starts a span for a periodic emission of a stream.
	StartEmissionSpan(ctx context.Context, stream string) (context.Context, trace.Span)

	// StartReconnectSpan starts a span covering resubscription and
	// retransmission after a reconnect.
	StartReconnectSpan(ctx context.Context, pending int) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartEmissionSpan starts a span for a periodic emission.
func (m *otelSpanManager) StartEmissionSpan(ctx context.Context, stream string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "fsevents.emission."+stream,
		trace.WithAttributes(
			attribute.String("stream", stream),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartReconnectSpan starts a span for reconnect recovery.
func (m *otelSpanManager) StartReconnectSpan(ctx context.Context, pending int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "fsevents.reconnect",
		trace.WithAttributes(
			attribute.Int("deliveries.pending", pending),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
