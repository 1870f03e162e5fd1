package unwind

import (
	"runtime"
)

// initialCapacity is the starting capture depth for a fresh trace
// buffer. Deep stacks grow it; it never shrinks afterwards.
const initialCapacity = 64

type (
	// Trace captures the current native call stack into a reusable
	// buffer. It is owned by a single execution context and must not be
	// shared: reuse is what keeps the capture path allocation-free once
	// the buffer has reached the context's steady-state depth.
	//
	// Storage is innermost-first as the runtime produces it; indexed and
	// iterated access is outermost-first, which is the order the frame
	// tree interns from its root.
	Trace struct {
		pcs      []uintptr
		size     int
		capacity int
	}
)

func NewTrace() *Trace {
	return &Trace{
		pcs:      make([]uintptr, initialCapacity),
		capacity: initialCapacity,
	}
}

// Fill captures the stack of the calling goroutine, discarding skip
// frames on top of Fill's own, and reports whether any frames remain.
//
// The fast path is a single bulk capture into the buffer at its current
// capacity. A completely full buffer is ambiguous (the stack may have
// been truncated), so that case falls back to an exact capture with no
// fixed bound and raises the buffer's default capacity to cover the true
// depth. The fallback runs at most once per new maximum depth.
func (t *Trace) Fill(skip int) bool {
	// +2 hides runtime.Callers and Fill itself.
	n := runtime.Callers(skip+2, t.pcs)
	if n == len(t.pcs) {
		n = t.exact(skip + 2)
	}
	t.size = n
	return n > 0
}

func (t *Trace) exact(skip int) int {
	size := t.capacity
	for {
		size *= 2
		buf := make([]uintptr, size)
		// One deeper than the fast path: exact sits between Fill and
		// runtime.Callers here.
		n := runtime.Callers(skip+1, buf)
		if n < len(buf) {
			t.pcs = buf
			if size > t.capacity {
				t.capacity = size
			}
			return n
		}
	}
}

// Size returns the number of captured frames after skipping.
func (t *Trace) Size() int {
	return t.size
}

// At returns the frame at index i, outermost first.
func (t *Trace) At(i int) uint64 {
	return uint64(t.pcs[t.size-1-i])
}

// Capacity returns the current default capture depth.
func (t *Trace) Capacity() int {
	return t.capacity
}

// AppendTo appends the captured frames to dst, outermost first, and
// returns the extended slice. Passing a reused scratch slice keeps the
// hot path free of allocations.
func (t *Trace) AppendTo(dst []uint64) []uint64 {
	for i := t.size - 1; i >= 0; i-- {
		dst = append(dst, uint64(t.pcs[i]))
	}
	return dst
}
