package records

import (
	"github.com/getsentry/memtrace/internal/frame"
	"github.com/getsentry/memtrace/internal/frametree"
	"github.com/getsentry/memtrace/internal/timeutil"
)

type (
	// Kind discriminates the record types making up a session stream.
	Kind string

	// Allocator tags which allocator entry point produced an event.
	Allocator uint8

	// Header carries the session metadata written once at the start of
	// a stream, and again by a forked child starting its own stream.
	Header struct {
		SessionID      string        `json:"session_id"`
		PID            int           `json:"pid"`
		Start          timeutil.Time `json:"start"`
		NativeTraces   bool          `json:"native_traces"`
		MemoryInterval int64         `json:"memory_interval_ms,omitempty"`
	}

	// Record is one event in the stream. Kind decides which fields are
	// meaningful; unused fields are omitted from the encoded form.
	Record struct {
		Kind      Kind   `json:"kind"`
		Timestamp int64  `json:"ts"`
		ContextID uint64 `json:"ctx,omitempty"`

		// Allocation / Free.
		Address       uint64           `json:"addr,omitempty"`
		Size          uint64           `json:"size,omitempty"`
		Allocator     Allocator        `json:"allocator,omitempty"`
		StackID       frametree.NodeID `json:"stack,omitempty"`
		NativeStackID frametree.NodeID `json:"native_stack,omitempty"`

		// FrameIndex / FramePush.
		FrameID uint64       `json:"frame,omitempty"`
		Frame   *frame.Frame `json:"frame_desc,omitempty"`

		// FramePop.
		Count uint32 `json:"count,omitempty"`

		// ThreadName.
		Name string `json:"name,omitempty"`

		// MemorySample.
		RSS uint64 `json:"rss,omitempty"`

		// Header.
		Header *Header `json:"header,omitempty"`
	}

	// Sink consumes the stream. A failed write is terminal for the
	// session: the coordinator deactivates tracking rather than risking
	// a torn stream. Implementations must serialize concurrent writes or
	// be driven through a single serialized write path.
	Sink interface {
		WriteRecord(r *Record) error
		Flush() error
		Close() error
	}

	// ChildReopener is implemented by sinks that can hand a forked child
	// a fresh target. A parent and its child must never share a sink
	// connection.
	ChildReopener interface {
		ReopenForChild(pid int) error
	}
)

const (
	KindHeader       Kind = "header"
	KindAllocation   Kind = "allocation"
	KindFree         Kind = "free"
	KindFrameIndex   Kind = "frame_index"
	KindFramePush    Kind = "frame_push"
	KindFramePop     Kind = "frame_pop"
	KindMemorySample Kind = "memory_sample"
	KindThreadName   Kind = "thread_name"
)

const (
	AllocatorMalloc Allocator = iota + 1
	AllocatorCalloc
	AllocatorRealloc
	AllocatorFree
	AllocatorAlignedAlloc
	AllocatorMmap
	AllocatorMunmap
	AllocatorPymalloc
)

func (a Allocator) String() string {
	switch a {
	case AllocatorMalloc:
		return "malloc"
	case AllocatorCalloc:
		return "calloc"
	case AllocatorRealloc:
		return "realloc"
	case AllocatorFree:
		return "free"
	case AllocatorAlignedAlloc:
		return "aligned_alloc"
	case AllocatorMmap:
		return "mmap"
	case AllocatorMunmap:
		return "munmap"
	case AllocatorPymalloc:
		return "pymalloc"
	}
	return "unknown"
}
