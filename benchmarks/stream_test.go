package benchmarks

import (
	"fmt"
	"testing"

	"github.com/randalmurphal/fsevents/pkg/fsevents/event"
)

// fileIDs returns n distinct aggregation keys.
func fileIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("inode-%d", i)
	}
	return ids
}

func newReadStream(b *testing.B, subs ...event.Subscription) *event.Stream[event.ReadAggregate] {
	b.Helper()
	s, err := event.NewStream(event.StreamConfig[event.ReadAggregate]{Type: event.TypeRead})
	if err != nil {
		b.Fatal(err)
	}
	for _, sub := range subs {
		if _, err := s.AddSubscription(sub); err != nil {
			b.Fatal(err)
		}
	}
	b.Cleanup(s.Close)
	return s
}

// BenchmarkFold_Sequential folds adjacent reads into one aggregate.
func BenchmarkFold_Sequential(b *testing.B) {
	agg := event.KeyAggregator[event.ReadAggregate]{}
	state := agg.Identity()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		state = agg.Fold(state, event.NewRead("f", int64(i%1024)*4096, 4096))
	}
}

// BenchmarkFold_Scattered folds reads that leave gaps, growing the range set.
func BenchmarkFold_Scattered(b *testing.B) {
	agg := event.KeyAggregator[event.ReadAggregate]{}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		state := agg.Identity()
		for j := int64(0); j < 64; j++ {
			state = agg.Fold(state, event.NewRead("f", j*8192, 4096))
		}
	}
}

// BenchmarkPush_NoSubscription measures the discard path.
func BenchmarkPush_NoSubscription(b *testing.B) {
	s := newReadStream(b)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Push(event.NewRead("f", 0, 4096))
	}
}

// BenchmarkPush_CountThreshold pushes across 64 keys with a flush every 100
// operations per key.
func BenchmarkPush_CountThreshold(b *testing.B) {
	s := newReadStream(b, event.NewSubscription(event.TypeRead, event.WithCountThreshold(100)))
	ids := fileIDs(64)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Push(event.NewRead(ids[i%len(ids)], int64(i)*4096, 4096))
	}
}

// BenchmarkPush_Parallel measures lock contention with concurrent pushers.
func BenchmarkPush_Parallel(b *testing.B) {
	s := newReadStream(b, event.NewSubscription(event.TypeRead, event.WithCountThreshold(1000)))
	ids := fileIDs(64)
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			s.Push(event.NewRead(ids[i%len(ids)], int64(i)*4096, 4096))
			i++
		}
	})
}

// BenchmarkPeriodicEmission flushes 1000 pending keys.
func BenchmarkPeriodicEmission(b *testing.B) {
	s := newReadStream(b, event.NewSubscription(event.TypeRead, event.WithCountThreshold(1<<30)))
	ids := fileIDs(1000)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		for _, id := range ids {
			s.Push(event.NewRead(id, 0, 4096))
		}
		b.StartTimer()
		s.PeriodicEmission()
	}
}
