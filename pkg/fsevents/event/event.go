package event

import "fmt"

// Type identifies an event family. Subscriptions, streams and wire messages
// are all keyed by family: truncates travel with writes.
type Type string

// Event families.
const (
	TypeRead  Type = "read"
	TypeWrite Type = "write"
)

// Valid reports whether t names a known family.
func (t Type) Valid() bool {
	return t == TypeRead || t == TypeWrite
}

// Event is a single filesystem occurrence reported after a successful
// operation. Events are immutable values.
type Event interface {
	// Key returns the aggregation key (the file identifier).
	Key() string

	// Occurrences returns how many operations the event stands for.
	// Always 1 for a raw event.
	Occurrences() uint64

	// Type returns the family the event aggregates into.
	Type() Type
}

// Folder is an event that can be folded into aggregates of type A.
//
// The only method that matters is unexported, so the set of folders is
// closed: Read folds into ReadAggregate, Write and Truncate fold into
// WriteAggregate, and nothing else compiles.
type Folder[A any] interface {
	Event
	foldInto(agg *A)
}

// Read is a completed read of Size bytes at Offset.
type Read struct {
	FileID string
	Offset int64
	Size   uint64
}

// NewRead creates a read event. A negative offset is clamped to 0.
func NewRead(fileID string, offset int64, size uint64) Read {
	return Read{FileID: fileID, Offset: max(offset, 0), Size: size}
}

// Key returns the file identifier.
func (e Read) Key() string { return e.FileID }

// Occurrences returns 1.
func (e Read) Occurrences() uint64 { return 1 }

// Type returns TypeRead.
func (e Read) Type() Type { return TypeRead }

func (e Read) String() string {
	return fmt.Sprintf("read(%s, offset=%d, size=%d)", e.FileID, e.Offset, e.Size)
}

func (e Read) foldInto(agg *ReadAggregate) {
	if agg.FileID == "" {
		agg.FileID = e.FileID
	}
	agg.Count++
	agg.Size += e.Size
	agg.Blocks = agg.Blocks.Add(Extent(e.Offset, e.Size))
}

// Write is a completed write of Size bytes at Offset. FileSize is the size
// of the file after the write when the caller knows it cheaply, nil otherwise.
type Write struct {
	FileID   string
	Offset   int64
	Size     uint64
	FileSize *int64
}

// NewWrite creates a write event with an unknown resulting file size.
// A negative offset is clamped to 0.
func NewWrite(fileID string, offset int64, size uint64) Write {
	return Write{FileID: fileID, Offset: max(offset, 0), Size: size}
}

// NewSizedWrite creates a write event that also reports the resulting file size.
func NewSizedWrite(fileID string, offset int64, size uint64, fileSize int64) Write {
	return Write{FileID: fileID, Offset: max(offset, 0), Size: size, FileSize: &fileSize}
}

// Key returns the file identifier.
func (e Write) Key() string { return e.FileID }

// Occurrences returns 1.
func (e Write) Occurrences() uint64 { return 1 }

// Type returns TypeWrite.
func (e Write) Type() Type { return TypeWrite }

func (e Write) String() string {
	if e.FileSize != nil {
		return fmt.Sprintf("write(%s, offset=%d, size=%d, file_size=%d)", e.FileID, e.Offset, e.Size, *e.FileSize)
	}
	return fmt.Sprintf("write(%s, offset=%d, size=%d)", e.FileID, e.Offset, e.Size)
}

func (e Write) foldInto(agg *WriteAggregate) {
	if agg.FileID == "" {
		agg.FileID = e.FileID
	}
	agg.Count++
	agg.Size += e.Size
	agg.Blocks = agg.Blocks.Add(Extent(e.Offset, e.Size))
	if e.FileSize != nil {
		agg.FileSize = sizePtr(*e.FileSize)
	}
}

// Truncate is a completed truncate leaving the file FileSize bytes long.
type Truncate struct {
	FileID   string
	FileSize int64
}

// NewTruncate creates a truncate event.
func NewTruncate(fileID string, fileSize int64) Truncate {
	return Truncate{FileID: fileID, FileSize: fileSize}
}

// Key returns the file identifier.
func (e Truncate) Key() string { return e.FileID }

// Occurrences returns 1.
func (e Truncate) Occurrences() uint64 { return 1 }

// Type returns TypeWrite.
func (e Truncate) Type() Type { return TypeWrite }

func (e Truncate) String() string {
	return fmt.Sprintf("truncate(%s, file_size=%d)", e.FileID, e.FileSize)
}

// A truncate counts as an occurrence but touches no byte range, and its
// file size is authoritative.
func (e Truncate) foldInto(agg *WriteAggregate) {
	if agg.FileID == "" {
		agg.FileID = e.FileID
	}
	agg.Count++
	agg.FileSize = sizePtr(e.FileSize)
}

func sizePtr(v int64) *int64 {
	return &v
}

// Compile-time family checks.
var (
	_ Folder[ReadAggregate]  = Read{}
	_ Folder[WriteAggregate] = Write{}
	_ Folder[WriteAggregate] = Truncate{}
)
