// Package event provides the filesystem event model and the per-family
// aggregation engine.
//
// # Overview
//
//   - Read, Write and Truncate: immutable events reported after a successful
//     filesystem operation
//   - ReadAggregate and WriteAggregate: merged state for one file
//   - Aggregator: the fold policy (KeyAggregator groups, NullAggregator
//     passes single events through)
//   - Subscription: count, size and time thresholds that decide when state
//     is emitted
//   - Stream: the engine that applies events and subscriptions for one family
//
// # Event Families
//
// Events fold into exactly one aggregate type. Reads fold into
// ReadAggregate. Writes and truncates share WriteAggregate, since a
// truncate changes the size a later write reports:
//
//	agg := event.FoldAll[event.WriteAggregate](event.KeyAggregator[event.WriteAggregate]{},
//	    event.NewWrite("f", 0, 10),
//	    event.NewWrite("f", 10, 5),
//	    event.NewTruncate("f", 10),
//	)
//	// agg.Count == 3, agg.Size == 15, *agg.FileSize == 10, agg.Blocks == {[0,15)}
//
// Passing a Truncate to a Stream[ReadAggregate] does not compile.
//
// # Streams
//
// A Stream admits events only while a matching subscription exists:
//
//	s, _ := event.NewStream(event.StreamConfig[event.ReadAggregate]{
//	    Type: event.TypeRead,
//	    Emit: func(a event.ReadAggregate) { ... },
//	    Scheduler: scheduler.New(),
//	})
//	id, _ := s.AddSubscription(event.NewSubscription(event.TypeRead,
//	    event.WithCountThreshold(100),
//	    event.WithTimeThreshold(time.Second),
//	))
//	s.Push(event.NewRead("inode-42", 0, 4096))
//
// Count and size thresholds are checked after every fold and flush the key
// inline. The time threshold is served by the scheduler, which calls
// PeriodicEmission at the smallest interval among the subscriptions and
// flushes every key regardless of thresholds.
//
// Removing the last subscription discards accumulated state without
// emitting it.
package event
