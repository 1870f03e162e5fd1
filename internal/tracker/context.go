package tracker

import (
	"github.com/getsentry/memtrace/internal/frame"
	"github.com/getsentry/memtrace/internal/records"
	"github.com/getsentry/memtrace/internal/timeutil"
	"github.com/getsentry/memtrace/internal/unwind"
)

type (
	// ExecutionContext is the per-thread handle the interception layer
	// passes into every notification. It owns that thread's interpreter
	// stack mirror, its native trace buffer and the reentrancy guard.
	//
	// A context must only be driven from the thread it was registered
	// for. Different contexts never interfere with each other; state
	// shared across contexts (the frame trees, the frame registry, the
	// sink) carries its own synchronization.
	ExecutionContext struct {
		id      uint64
		stack   []uint64
		trace   *unwind.Trace
		scratch []uint64
		busy    bool
	}
)

// RegisterContext creates the handle for a new execution context. With a
// non-empty name, a thread name record is emitted for reconstruction.
func (t *Tracker) RegisterContext(name string) *ExecutionContext {
	ctx := &ExecutionContext{
		id:    t.nextCtx.Add(1),
		trace: unwind.NewTrace(),
	}
	t.ctxMu.Lock()
	t.contexts[ctx.id] = ctx
	t.ctxMu.Unlock()
	if name != "" {
		t.RegisterThreadName(ctx, name)
	}
	return ctx
}

// ID returns the context identifier embedded in this context's records.
func (c *ExecutionContext) ID() uint64 {
	return c.id
}

// Depth returns the current interpreter mirror depth.
func (c *ExecutionContext) Depth() int {
	return len(c.stack)
}

// PushFrame appends a frame to the context's interpreter stack mirror.
// It reports false when the tracker is not in a state to accept it.
func (t *Tracker) PushFrame(ctx *ExecutionContext, f frame.Frame) bool {
	if !active.Load() {
		return false
	}
	id := f.ID()
	if t.registerFrame(id) {
		t.write(&records.Record{
			Kind:      records.KindFrameIndex,
			Timestamp: timeutil.Nanos(),
			FrameID:   id,
			Frame:     &f,
		})
	}
	ctx.stack = append(ctx.stack, id)
	t.write(&records.Record{
		Kind:      records.KindFramePush,
		Timestamp: timeutil.Nanos(),
		ContextID: ctx.id,
		FrameID:   id,
	})
	return true
}

// PopFrames removes up to count trailing frames from the context's
// mirror. A count beyond the current depth is clamped rather than
// treated as fatal: interpreter-side notifications may race deactivation
// and a desynchronized mirror must never crash the tracked process. The
// excess shows up in Stats().ClampedPops.
func (t *Tracker) PopFrames(ctx *ExecutionContext, count uint32) bool {
	if !active.Load() {
		return false
	}
	n := int(count)
	if depth := len(ctx.stack); n > depth {
		n = depth
		t.clampedPops.Add(1)
	}
	ctx.stack = ctx.stack[:len(ctx.stack)-n]
	t.write(&records.Record{
		Kind:      records.KindFramePop,
		Timestamp: timeutil.Nanos(),
		ContextID: ctx.id,
		Count:     uint32(n),
	})
	return true
}

// RegisterThreadName attaches a human-readable label to the context.
// Best effort; it never fails the caller.
func (t *Tracker) RegisterThreadName(ctx *ExecutionContext, name string) {
	if !active.Load() {
		return
	}
	t.write(&records.Record{
		Kind:      records.KindThreadName,
		Timestamp: timeutil.Nanos(),
		ContextID: ctx.id,
		Name:      name,
	})
}
