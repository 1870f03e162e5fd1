package tracker

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/getsentry/memtrace/internal/records"
	"github.com/getsentry/memtrace/internal/unwind"
)

// The three fork hooks match the standard prepare/parent/child fork
// protocol. The embedding layer wires them to the process's fork
// notification mechanism; a Go library cannot register them itself.

// PrepareFork brings the tracker to a consistent point before the
// process splits: it acquires every internal lock in a fixed order so a
// mid-write is never duplicated half-written into the child.
func (t *Tracker) PrepareFork() {
	t.writeMu.Lock()
	t.ctxMu.Lock()
	t.frameMu.Lock()
}

// ParentFork releases the locks taken by PrepareFork and resumes normal
// operation in the parent.
func (t *Tracker) ParentFork() {
	t.frameMu.Unlock()
	t.ctxMu.Unlock()
	t.writeMu.Unlock()
}

// ChildFork runs in the child after the split. The parent's execution
// contexts do not exist here and its unwind caches describe an address
// space that may now differ, so both are reset. The frame index is
// reset too: the child writes to a fresh stream, and every frame must
// be re-indexed there before a push can reference it. With FollowFork
// the child gets a fresh sink target and its own session header;
// without it, tracking is deactivated in the child entirely. The locks
// are released on every path.
func (t *Tracker) ChildFork() {
	t.frameMu.Unlock()
	t.ctxMu.Unlock()
	t.writeMu.Unlock()

	if !t.opts.FollowFork {
		active.Store(false)
		return
	}

	t.ctxMu.Lock()
	t.contexts = make(map[uint64]*ExecutionContext)
	t.ctxMu.Unlock()
	t.frameMu.Lock()
	t.knownFrames = make(map[uint64]struct{})
	t.frameMu.Unlock()
	unwind.FlushCache()
	t.mods.Invalidate()

	r, ok := t.opts.Sink.(records.ChildReopener)
	if !ok {
		// A sink connection must never be shared between parent and
		// child; without a way to re-target it, the child stops.
		active.Store(false)
		log.Warn().Msg("sink cannot be reopened for the child, deactivating tracking")
		return
	}
	pid := os.Getpid()
	if err := r.ReopenForChild(pid); err != nil {
		active.Store(false)
		log.Warn().Err(err).Int("pid", pid).Msg("failed to reopen the sink for the child, deactivating tracking")
		return
	}
	if err := t.writeHeader(); err != nil {
		active.Store(false)
		log.Warn().Err(err).Msg("failed to write the child session header, deactivating tracking")
	}
}
