package fsevents

import (
	"log/slog"

	"github.com/randalmurphal/fsevents/pkg/fsevents/observability"
	"github.com/randalmurphal/fsevents/pkg/fsevents/scheduler"
	"github.com/randalmurphal/fsevents/pkg/fsevents/wire"
)

// Aggregation policies accepted by WithAggregator.
const (
	// PolicyKey folds every event for a key into one aggregate.
	PolicyKey = "key"

	// PolicyNull emits every admitted event as its own aggregate.
	PolicyNull = "null"
)

// managerConfig holds configuration for a Manager.
type managerConfig struct {
	logger               *slog.Logger
	metricsEnabled       bool
	metrics              observability.MetricsRecorder
	tracingEnabled       bool
	scheduler            scheduler.Scheduler
	policy               string
	compressionThreshold int
}

// defaultManagerConfig returns the default manager configuration.
func defaultManagerConfig() managerConfig {
	return managerConfig{
		policy:               PolicyKey,
		compressionThreshold: wire.DefaultCompressionThreshold,
	}
}

// Option configures a Manager.
type Option func(*managerConfig)

// WithLogger sets the logger for stream, delivery and protocol events.
// Default: no logging
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
//	mgr, err := fsevents.New(channel, fsevents.WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(c *managerConfig) {
		c.logger = logger
	}
}

// WithMetrics enables OpenTelemetry metrics collection.
// Default: false
//
// Metrics go to the global meter provider; configure it with
// otel.SetMeterProvider before creating the manager.
func WithMetrics(enabled bool) Option {
	return func(c *managerConfig) {
		c.metricsEnabled = enabled
	}
}

// WithMetricsRecorder sets a custom metrics recorder. It takes precedence
// over WithMetrics.
func WithMetricsRecorder(recorder observability.MetricsRecorder) Option {
	return func(c *managerConfig) {
		c.metrics = recorder
	}
}

// WithTracing enables OpenTelemetry spans around periodic emissions and
// reconnects.
// Default: false
func WithTracing(enabled bool) Option {
	return func(c *managerConfig) {
		c.tracingEnabled = enabled
	}
}

// WithScheduler sets the facility that drives periodic emission.
// Default: a ticker scheduler owned by the manager and stopped by Close
func WithScheduler(s scheduler.Scheduler) Option {
	return func(c *managerConfig) {
		c.scheduler = s
	}
}

// WithAggregator selects the aggregation policy by name, PolicyKey or
// PolicyNull.
// Default: PolicyKey
func WithAggregator(policy string) Option {
	return func(c *managerConfig) {
		c.policy = policy
	}
}

// WithCompressionThreshold sets the body size in bytes above which
// outbound messages are zstd-compressed. Zero or less disables
// compression.
// Default: 1024
func WithCompressionThreshold(n int) Option {
	return func(c *managerConfig) {
		c.compressionThreshold = n
	}
}
