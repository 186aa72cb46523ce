package scheduler

import (
	"slices"
	"sync"
	"time"
)

// Fake is a deterministic Scheduler for tests. Nothing runs until Tick is
// called.
//
// Fake is safe for concurrent use.
type Fake struct {
	mu     sync.Mutex
	nextID int
	tasks  map[int]*fakeTask

	scheduled int
	cancelled int
}

type fakeTask struct {
	period time.Duration
	task   func()
}

// Compile-time interface check.
var _ Scheduler = (*Fake)(nil)

// NewFake creates an empty fake scheduler.
func NewFake() *Fake {
	return &Fake{
		tasks: make(map[int]*fakeTask),
	}
}

// Schedule implements Scheduler.
func (f *Fake) Schedule(period time.Duration, task func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := f.nextID
	f.tasks[id] = &fakeTask{period: period, task: task}
	f.scheduled++

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, ok := f.tasks[id]; ok {
				delete(f.tasks, id)
				f.cancelled++
			}
		})
	}
}

// Tick runs every active task once, in scheduling order. Tasks run
// without the fake's lock held, so they may schedule or cancel.
func (f *Fake) Tick() {
	f.mu.Lock()
	ids := make([]int, 0, len(f.tasks))
	for id := range f.tasks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	tasks := make([]func(), 0, len(ids))
	for _, id := range ids {
		tasks = append(tasks, f.tasks[id].task)
	}
	f.mu.Unlock()

	for _, task := range tasks {
		task()
	}
}

// Active returns the number of scheduled, uncancelled tasks.
func (f *Fake) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

// Periods returns the periods of active tasks, sorted ascending.
func (f *Fake) Periods() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	periods := make([]time.Duration, 0, len(f.tasks))
	for _, t := range f.tasks {
		periods = append(periods, t.period)
	}
	slices.Sort(periods)
	return periods
}

// Scheduled returns how many times Schedule has been called.
func (f *Fake) Scheduled() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scheduled
}

// Cancelled returns how many scheduled tasks have been cancelled.
func (f *Fake) Cancelled() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}
