package event

import "fmt"

// Aggregate is the merged form of zero or more events sharing a key.
type Aggregate interface {
	// Key returns the aggregation key, empty for the identity aggregate.
	Key() string

	// Type returns the event family.
	Type() Type

	// Occurrences is the number of folded events.
	Occurrences() uint64

	// RequestedBytes is the sum of requested sizes, not deduplicated.
	// Size thresholds compare against this value.
	RequestedBytes() uint64

	// Ranges is the union of all touched byte ranges.
	Ranges() ByteRanges
}

// ReadAggregate accumulates read events for one file.
type ReadAggregate struct {
	FileID string
	Count  uint64
	Size   uint64
	Blocks ByteRanges
}

// Key returns the file identifier.
func (a ReadAggregate) Key() string { return a.FileID }

// Type returns TypeRead.
func (a ReadAggregate) Type() Type { return TypeRead }

// Occurrences returns the number of folded reads.
func (a ReadAggregate) Occurrences() uint64 { return a.Count }

// RequestedBytes returns the total bytes requested by the folded reads.
func (a ReadAggregate) RequestedBytes() uint64 { return a.Size }

// Ranges returns the set of bytes read.
func (a ReadAggregate) Ranges() ByteRanges { return a.Blocks }

func (a ReadAggregate) String() string {
	return fmt.Sprintf("read_aggregate(%s, count=%d, size=%d, blocks=%s)",
		a.FileID, a.Count, a.Size, a.Blocks)
}

// WriteAggregate accumulates write and truncate events for one file.
// FileSize is the last reported file size, nil when no event carried one.
type WriteAggregate struct {
	FileID   string
	Count    uint64
	Size     uint64
	Blocks   ByteRanges
	FileSize *int64
}

// Key returns the file identifier.
func (a WriteAggregate) Key() string { return a.FileID }

// Type returns TypeWrite.
func (a WriteAggregate) Type() Type { return TypeWrite }

// Occurrences returns the number of folded writes and truncates.
func (a WriteAggregate) Occurrences() uint64 { return a.Count }

// RequestedBytes returns the total bytes requested by the folded writes.
func (a WriteAggregate) RequestedBytes() uint64 { return a.Size }

// Ranges returns the set of bytes written.
func (a WriteAggregate) Ranges() ByteRanges { return a.Blocks }

func (a WriteAggregate) String() string {
	if a.FileSize != nil {
		return fmt.Sprintf("write_aggregate(%s, count=%d, size=%d, blocks=%s, file_size=%d)",
			a.FileID, a.Count, a.Size, a.Blocks, *a.FileSize)
	}
	return fmt.Sprintf("write_aggregate(%s, count=%d, size=%d, blocks=%s)",
		a.FileID, a.Count, a.Size, a.Blocks)
}

// Aggregator is the folding policy used by a Stream.
type Aggregator[A Aggregate] interface {
	// Fold merges evt into current and returns the new state.
	// Implementations must not modify current.
	Fold(current A, evt Folder[A]) A

	// Emit returns the value to hand off when state is flushed.
	Emit(state A) A

	// Identity returns the empty state.
	Identity() A
}

// KeyAggregator groups events by key: occurrence counts and requested sizes
// add up, byte ranges are unioned. It is the default policy.
type KeyAggregator[A Aggregate] struct{}

// Fold implements Aggregator.
func (KeyAggregator[A]) Fold(current A, evt Folder[A]) A {
	next := current
	evt.foldInto(&next)
	return next
}

// Emit implements Aggregator.
func (KeyAggregator[A]) Emit(state A) A { return state }

// Identity implements Aggregator.
func (KeyAggregator[A]) Identity() A {
	var zero A
	return zero
}

// NullAggregator performs no grouping: each fold yields the aggregate of the
// folded event alone.
type NullAggregator[A Aggregate] struct{}

// Fold implements Aggregator. The current state is ignored.
func (NullAggregator[A]) Fold(_ A, evt Folder[A]) A {
	var next A
	evt.foldInto(&next)
	return next
}

// Emit implements Aggregator.
func (NullAggregator[A]) Emit(state A) A { return state }

// Identity implements Aggregator.
func (NullAggregator[A]) Identity() A {
	var zero A
	return zero
}

// FoldAll folds events into the identity of agg, in order.
func FoldAll[A Aggregate](agg Aggregator[A], events ...Folder[A]) A {
	state := agg.Identity()
	for _, evt := range events {
		state = agg.Fold(state, evt)
	}
	return state
}

// Compile-time interface checks.
var (
	_ Aggregator[ReadAggregate]  = KeyAggregator[ReadAggregate]{}
	_ Aggregator[WriteAggregate] = KeyAggregator[WriteAggregate]{}
	_ Aggregator[ReadAggregate]  = NullAggregator[ReadAggregate]{}
	_ Aggregator[WriteAggregate] = NullAggregator[WriteAggregate]{}
)
