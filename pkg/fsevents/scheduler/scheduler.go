// Package scheduler drives periodic tasks for event streams.
//
// Streams never start timers themselves. They ask a Scheduler to run
// their periodic emission at the stream's current minimum interval and
// cancel the task when the interval changes or the last subscription goes
// away. Production code uses the ticker-backed Scheduler returned by New;
// tests use Fake and fire ticks by hand.
package scheduler

import (
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler runs tasks periodically.
type Scheduler interface {
	// Schedule runs task every period until the returned cancel function
	// is called. Cancel is idempotent and does not wait for a running
	// task to finish, so it may be called while holding locks the task
	// also takes. A task may still run once after cancel returns.
	Schedule(period time.Duration, task func()) (cancel func())
}

// TickerScheduler runs each scheduled task on its own goroutine driven by
// a time.Ticker.
type TickerScheduler struct {
	wg      sync.WaitGroup
	closed  atomic.Bool
	closeCh chan struct{}
	once    sync.Once
}

// Compile-time interface check.
var _ Scheduler = (*TickerScheduler)(nil)

// New creates a ticker-backed scheduler.
func New() *TickerScheduler {
	return &TickerScheduler{
		closeCh: make(chan struct{}),
	}
}

// Schedule implements Scheduler. Non-positive periods and schedules on a
// closed scheduler return a no-op cancel.
func (s *TickerScheduler) Schedule(period time.Duration, task func()) func() {
	if period <= 0 || s.closed.Load() {
		return func() {}
	}

	stopCh := make(chan struct{})
	var stopOnce sync.Once

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				// A tick may race with cancel; check before running.
				select {
				case <-stopCh:
					return
				default:
				}
				task()

			case <-stopCh:
				return

			case <-s.closeCh:
				return
			}
		}
	}()

	return func() {
		stopOnce.Do(func() { close(stopCh) })
	}
}

// Close stops every scheduled task and waits for their goroutines to exit.
// Must not be called from inside a task.
func (s *TickerScheduler) Close() {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.closeCh)
	})
	s.wg.Wait()
}
