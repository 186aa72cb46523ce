package event_test

import (
	"math"
	"testing"

	"github.com/randalmurphal/fsevents/pkg/fsevents/event"
)

func TestByteRanges_Add(t *testing.T) {
	tests := []struct {
		name string
		base event.ByteRanges
		add  event.Range
		want event.ByteRanges
	}{
		{
			name: "into empty",
			add:  event.Range{Start: 0, End: 10},
			want: event.ByteRanges{{0, 10}},
		},
		{
			name: "empty interval ignored",
			base: event.ByteRanges{{0, 10}},
			add:  event.Range{Start: 5, End: 5},
			want: event.ByteRanges{{0, 10}},
		},
		{
			name: "adjacent merges",
			base: event.ByteRanges{{0, 10}},
			add:  event.Range{Start: 10, End: 15},
			want: event.ByteRanges{{0, 15}},
		},
		{
			name: "adjacent on the left merges",
			base: event.ByteRanges{{10, 20}},
			add:  event.Range{Start: 0, End: 10},
			want: event.ByteRanges{{0, 20}},
		},
		{
			name: "disjoint kept sorted",
			base: event.ByteRanges{{0, 5}, {20, 30}},
			add:  event.Range{Start: 10, End: 12},
			want: event.ByteRanges{{0, 5}, {10, 12}, {20, 30}},
		},
		{
			name: "bridges several ranges",
			base: event.ByteRanges{{0, 5}, {10, 12}, {20, 30}, {40, 50}},
			add:  event.Range{Start: 3, End: 25},
			want: event.ByteRanges{{0, 30}, {40, 50}},
		},
		{
			name: "contained range is a no-op",
			base: event.ByteRanges{{0, 100}},
			add:  event.Range{Start: 10, End: 20},
			want: event.ByteRanges{{0, 100}},
		},
		{
			name: "appended after last",
			base: event.ByteRanges{{0, 5}},
			add:  event.Range{Start: 6, End: 8},
			want: event.ByteRanges{{0, 5}, {6, 8}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.base.Add(tt.add.Start, tt.add.End)
			if !got.Equal(tt.want) {
				t.Errorf("Add(%v) to %v = %v, want %v", tt.add, tt.base, got, tt.want)
			}
		})
	}
}

func TestByteRanges_AddDoesNotModifyReceiver(t *testing.T) {
	base := event.ByteRanges{{0, 5}, {10, 15}}
	_ = base.Add(5, 10)

	want := event.ByteRanges{{0, 5}, {10, 15}}
	if !base.Equal(want) {
		t.Errorf("receiver changed to %v", base)
	}
}

func TestByteRanges_Union(t *testing.T) {
	a := event.ByteRanges{{0, 5}, {20, 25}}
	b := event.ByteRanges{{5, 10}, {30, 35}}

	got := a.Union(b)
	want := event.ByteRanges{{0, 10}, {20, 25}, {30, 35}}
	if !got.Equal(want) {
		t.Errorf("Union = %v, want %v", got, want)
	}
	if !b.Union(a).Equal(want) {
		t.Errorf("Union is not commutative: %v", b.Union(a))
	}
	if !a.Union(nil).Equal(a) {
		t.Errorf("Union with nil changed the set")
	}
}

func TestByteRanges_Queries(t *testing.T) {
	r := event.ByteRanges{{0, 10}, {20, 25}}

	if !r.Contains(0) || !r.Contains(9) || !r.Contains(22) {
		t.Error("expected offsets inside ranges to be contained")
	}
	if r.Contains(10) || r.Contains(15) || r.Contains(25) || r.Contains(-1) {
		t.Error("expected offsets outside ranges not to be contained")
	}
	if got := r.Covered(); got != 15 {
		t.Errorf("Covered = %d, want 15", got)
	}
	if got := r.String(); got != "{[0,10) [20,25)}" {
		t.Errorf("String = %q", got)
	}
	if !event.ByteRanges(nil).Equal(event.ByteRanges{}) {
		t.Error("nil should equal empty")
	}
}

func TestSpan(t *testing.T) {
	if got := event.Span(3, 7); !got.Equal(event.ByteRanges{{3, 7}}) {
		t.Errorf("Span(3,7) = %v", got)
	}
	if got := event.Span(7, 3); len(got) != 0 {
		t.Errorf("Span(7,3) = %v, want empty", got)
	}
}

func TestExtent(t *testing.T) {
	tests := []struct {
		name       string
		offset     int64
		size       uint64
		start, end int64
	}{
		{"plain", 10, 5, 10, 15},
		{"zero size", 10, 0, 10, 10},
		{"saturates at max", math.MaxInt64 - 5, 10, math.MaxInt64 - 5, math.MaxInt64},
		{"exactly max", math.MaxInt64 - 10, 10, math.MaxInt64 - 10, math.MaxInt64},
		{"size beyond int64", 0, math.MaxUint64, 0, math.MaxInt64},
		{"negative offset clamped", -5, 10, 0, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := event.Extent(tt.offset, tt.size)
			if start != tt.start || end != tt.end {
				t.Errorf("Extent(%d, %d) = [%d,%d), want [%d,%d)", tt.offset, tt.size, start, end, tt.start, tt.end)
			}
		})
	}
}
