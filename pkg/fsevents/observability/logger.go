// Package observability provides logging, metrics, and tracing for fsevents.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
// Logging helpers accept a nil logger and do nothing.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds component context to a logger.
// Returns a new logger with component and stream fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "stream", "read")
//	enriched.Debug("flushing") // includes component, stream
func EnrichLogger(logger *slog.Logger, component, stream string) *slog.Logger {
	if logger == nil {
		return nil
	}
	if stream == "" {
		return logger.With(slog.String("component", component))
	}
	return logger.With(
		slog.String("component", component),
		slog.String("stream", stream),
	)
}

// LogFlush logs an aggregate handed off for delivery.
func LogFlush(logger *slog.Logger, key, reason string, occurrences, sizeBytes uint64) {
	if logger == nil {
		return
	}
	logger.Debug("aggregate flushed",
		slog.String("file_id", key),
		slog.String("reason", reason),
		slog.Uint64("occurrences", occurrences),
		slog.Uint64("size_bytes", sizeBytes),
	)
}

// LogDropped logs accumulated state discarded because no subscription
// matches its key any more.
func LogDropped(logger *slog.Logger, keys int) {
	if logger == nil || keys == 0 {
		return
	}
	logger.Debug("accumulated aggregates dropped",
		slog.Int("keys", keys),
	)
}

// LogSubscription logs a subscription being added or removed.
func LogSubscription(logger *slog.Logger, op string, id int64, period time.Duration) {
	if logger == nil {
		return
	}
	logger.Debug("subscription "+op,
		slog.Int64("subscription_id", id),
		slog.Duration("period", period),
	)
}

// LogDelivery logs an emission assigned a delivery id.
func LogDelivery(logger *slog.Logger, deliveryID uint64, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("delivery sent",
		slog.Uint64("delivery_id", deliveryID),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogHeld logs a delivery recorded while a reconnect is outstanding. It
// goes out with the retransmit.
func LogHeld(logger *slog.Logger, deliveryID uint64) {
	if logger == nil {
		return
	}
	logger.Debug("delivery held until reconnect",
		slog.Uint64("delivery_id", deliveryID),
	)
}

// LogTransmitError logs a transmit failure. Failures are non-fatal: the
// payload stays pending until the next reconnect.
func LogTransmitError(logger *slog.Logger, deliveryID uint64, err error) {
	if logger == nil {
		return
	}
	logger.Warn("transmit failed",
		slog.Uint64("delivery_id", deliveryID),
		slog.String("error", err.Error()),
	)
}

// LogConfirmation logs a cumulative confirmation from the peer.
func LogConfirmation(logger *slog.Logger, deliveryID uint64, released, pending int) {
	if logger == nil {
		return
	}
	logger.Debug("delivery confirmed",
		slog.Uint64("delivery_id", deliveryID),
		slog.Int("released", released),
		slog.Int("pending", pending),
	)
}

// LogRetransmit logs the outcome of retransmitting pending deliveries.
func LogRetransmit(logger *slog.Logger, sent, pending int, elapsed time.Duration, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Warn("retransmit interrupted",
			slog.Int("sent", sent),
			slog.Int("pending", pending),
			slog.Duration("duration", elapsed),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Info("pending deliveries retransmitted",
		slog.Int("sent", sent),
		slog.Duration("duration", elapsed),
	)
}

// LogProtocolError logs a malformed inbound message that was dropped.
func LogProtocolError(logger *slog.Logger, kind string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("inbound message dropped",
		slog.String("kind", kind),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	elapsed := done()
func TimedOperation() func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		return time.Since(start)
	}
}
