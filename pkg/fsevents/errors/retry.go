package errors

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig describes a backoff schedule for an operation that may fail
// transiently, such as dialing the peer.
type RetryConfig struct {
	// MaxAttempts caps the attempts, the first one included. Zero or less
	// keeps trying until the context ends.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// BackoffFactor multiplies the delay after every failed attempt.
	BackoffFactor float64

	// Jitter spreads each delay by up to ±Jitter of its length (0.0-1.0).
	Jitter float64

	// RetryableFunc replaces IsRetryable when set.
	RetryableFunc func(error) bool

	// OnRetry runs before each sleep with the 1-based number of the
	// attempt that failed.
	OnRetry func(attempt int, err error)
}

// DefaultRetry gives up after five attempts.
var DefaultRetry = RetryConfig{
	MaxAttempts:    5,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// ReconnectRetry keeps redialing the peer until the context ends.
var ReconnectRetry = RetryConfig{
	InitialBackoff: 200 * time.Millisecond,
	MaxBackoff:     10 * time.Second,
	BackoffFactor:  1.5,
	Jitter:         0.2,
}

// RetryResult is the outcome of WithRetryContext.
type RetryResult[T any] struct {
	Value    T
	Err      error // nil on success, otherwise a *CategorizedError
	Attempts int
	Duration time.Duration
}

// backoff yields the delay before each retry.
type backoff struct {
	cfg  RetryConfig
	next time.Duration
}

func (b *backoff) delay() time.Duration {
	d := b.next
	b.next = time.Duration(float64(b.next) * b.cfg.BackoffFactor)
	if b.cfg.MaxBackoff > 0 && b.next > b.cfg.MaxBackoff {
		b.next = b.cfg.MaxBackoff
	}
	if b.cfg.Jitter > 0 {
		d += time.Duration(float64(d) * b.cfg.Jitter * (rand.Float64()*2 - 1))
	}
	return d
}

// exhausted reports whether attempt (0-based) was the last one allowed.
func (c RetryConfig) exhausted(attempt int) bool {
	return c.MaxAttempts > 0 && attempt >= c.MaxAttempts-1
}

// WithRetryContext runs fn until it succeeds, fails with an error that is
// not retryable, runs out of attempts or ctx ends. Sleeps between attempts
// follow cfg's backoff schedule and are cut short by ctx.
func WithRetryContext[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) RetryResult[T] {
	start := time.Now()
	retryable := cfg.RetryableFunc
	if retryable == nil {
		retryable = IsRetryable
	}
	fail := func(err error, category Category, attempts int, reason string) RetryResult[T] {
		return RetryResult[T]{
			Err:      &CategorizedError{Err: err, Category: category, Retries: attempts, Context: reason},
			Attempts: attempts,
			Duration: time.Since(start),
		}
	}

	b := &backoff{cfg: cfg, next: cfg.InitialBackoff}
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fail(err, CategoryPermanent, attempt, "context cancelled")
		}

		value, err := fn(ctx)
		if err == nil {
			return RetryResult[T]{Value: value, Attempts: attempt + 1, Duration: time.Since(start)}
		}
		if !retryable(err) {
			return fail(err, Categorize(err), attempt+1, "")
		}
		if cfg.exhausted(attempt) {
			return fail(err, Categorize(err), attempt+1, "max retries exceeded")
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err)
		}

		timer := time.NewTimer(b.delay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return fail(ctx.Err(), CategoryPermanent, attempt+1, "context cancelled during backoff")
		case <-timer.C:
		}
	}
}

// RetryOption adjusts a RetryConfig.
type RetryOption func(*RetryConfig)

// WithMaxAttempts sets MaxAttempts.
func WithMaxAttempts(n int) RetryOption {
	return func(cfg *RetryConfig) { cfg.MaxAttempts = n }
}

// WithInitialBackoff sets InitialBackoff.
func WithInitialBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) { cfg.InitialBackoff = d }
}

// WithMaxBackoff sets MaxBackoff.
func WithMaxBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) { cfg.MaxBackoff = d }
}

// WithJitter sets Jitter.
func WithJitter(j float64) RetryOption {
	return func(cfg *RetryConfig) { cfg.Jitter = j }
}

// WithOnRetry sets OnRetry.
func WithOnRetry(fn func(attempt int, err error)) RetryOption {
	return func(cfg *RetryConfig) { cfg.OnRetry = fn }
}

// NewRetryConfig returns base with opts applied.
func NewRetryConfig(base RetryConfig, opts ...RetryOption) RetryConfig {
	for _, opt := range opts {
		opt(&base)
	}
	return base
}
