package event

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Range is a half-open byte interval [Start, End).
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Len returns the number of bytes covered by the range.
func (r Range) Len() int64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// String returns the interval in [start,end) notation.
func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// ByteRanges is a sorted set of disjoint, non-adjacent half-open intervals.
//
// Methods never modify the receiver. Add and Union return a new slice, so a
// ByteRanges value may be shared between aggregates without copying.
type ByteRanges []Range

// Span returns the ranges containing exactly [start, end).
func Span(start, end int64) ByteRanges {
	return ByteRanges(nil).Add(start, end)
}

// Extent returns the interval touched by an operation of size bytes at
// offset. A negative offset is treated as 0 and the end saturates at
// math.MaxInt64 instead of overflowing.
func Extent(offset int64, size uint64) (start, end int64) {
	start = max(offset, 0)
	if size > uint64(math.MaxInt64-start) {
		return start, math.MaxInt64
	}
	return start, start + int64(size)
}

// Add returns the union of r and [start, end). Empty intervals are ignored.
// Touching intervals are merged, so [0,10) + [10,15) yields [0,15).
func (r ByteRanges) Add(start, end int64) ByteRanges {
	if end <= start {
		return r
	}

	// First range that ends at or after start can merge with the new one.
	i := sort.Search(len(r), func(i int) bool { return r[i].End >= start })
	j := i
	for j < len(r) && r[j].Start <= end {
		start = min(start, r[j].Start)
		end = max(end, r[j].End)
		j++
	}

	out := make(ByteRanges, 0, len(r)-(j-i)+1)
	out = append(out, r[:i]...)
	out = append(out, Range{Start: start, End: end})
	out = append(out, r[j:]...)
	return out
}

// Union returns the union of r and other.
func (r ByteRanges) Union(other ByteRanges) ByteRanges {
	if len(other) == 0 {
		return r
	}
	if len(r) == 0 {
		return other
	}
	out := r
	for _, rg := range other {
		out = out.Add(rg.Start, rg.End)
	}
	return out
}

// Contains reports whether offset lies inside one of the ranges.
func (r ByteRanges) Contains(offset int64) bool {
	i := sort.Search(len(r), func(i int) bool { return r[i].End > offset })
	return i < len(r) && r[i].Start <= offset
}

// Covered returns the total number of distinct bytes in the set.
func (r ByteRanges) Covered() int64 {
	var total int64
	for _, rg := range r {
		total += rg.Len()
	}
	return total
}

// Equal reports whether both sets contain the same intervals.
// A nil set equals an empty one.
func (r ByteRanges) Equal(other ByteRanges) bool {
	if len(r) != len(other) {
		return false
	}
	for i := range r {
		if r[i] != other[i] {
			return false
		}
	}
	return true
}

// String renders the set as {[a,b) [c,d)}.
func (r ByteRanges) String() string {
	parts := make([]string, len(r))
	for i, rg := range r {
		parts[i] = rg.String()
	}
	return "{" + strings.Join(parts, " ") + "}"
}
