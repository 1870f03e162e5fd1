// Package tracker implements the allocation tracking coordinator: the
// single entry point for allocation and deallocation events coming from
// the interception layer. It mirrors the interpreter's call stacks,
// deduplicates stack shapes through a shared frame tree, and streams
// event records to a sink.
//
// Attribution is best effort: the allocation path reads a context's
// frame mirror without taking the locks used by push and pop, so an
// allocation racing a frame transition may occasionally be attributed to
// a slightly stale stack. This eventual-consistency trade is deliberate;
// the alternative is a lock on every allocation.
package tracker

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/getsentry/memtrace/internal/frametree"
	"github.com/getsentry/memtrace/internal/modules"
	"github.com/getsentry/memtrace/internal/records"
	"github.com/getsentry/memtrace/internal/timeutil"
	"github.com/getsentry/memtrace/internal/unwind"
)

var (
	// ErrAlreadyActive is returned by New while another instance exists.
	ErrAlreadyActive = errors.New("another tracker instance is already active")
	// ErrNoSink is returned by New when no record sink was provided.
	ErrNoSink = errors.New("no record sink provided")
	// ErrInvalidInterval is returned by New for a negative interval.
	ErrInvalidInterval = errors.New("invalid memory sampling interval")
)

type (
	Options struct {
		// Sink receives every record of the session.
		Sink records.Sink
		// NativeTraces enables native stack capture on each event.
		NativeTraces bool
		// MemoryInterval is the background memory sampling cadence.
		// Zero disables the sampler.
		MemoryInterval time.Duration
		// FollowFork keeps tracking alive in forked children.
		FollowFork bool
	}

	// Tracker is the process-wide coordinator. At most one live
	// instance exists at a time; New enforces this through an atomic
	// current-instance pointer.
	Tracker struct {
		opts      Options
		sessionID string

		interpTree *frametree.Tree
		nativeTree *frametree.Tree
		mods       *modules.Map

		// writeMu funnels all record writes through a single path so
		// records never interleave mid-record, whichever sink backs the
		// session.
		writeMu sync.Mutex
		werr    error

		ctxMu    sync.Mutex
		contexts map[uint64]*ExecutionContext
		nextCtx  atomic.Uint64

		frameMu     sync.Mutex
		knownFrames map[uint64]struct{}

		sampler   *sampler
		destroyed atomic.Bool
		failed    atomic.Bool

		recordsWritten atomic.Uint64
		clampedPops    atomic.Uint64
		failedCaptures atomic.Uint64
	}

	// Stats is a snapshot of the tracker's diagnostic counters.
	Stats struct {
		RecordsWritten uint64
		ClampedPops    uint64
		FailedCaptures uint64
	}
)

// active is the flag the hot path reads. A single atomic load decides
// whether an event call does any work at all.
var active atomic.Bool

var current atomic.Pointer[Tracker]

// New installs a tracker as the sole active instance and activates
// tracking. It fails without side effects if an instance already exists
// or the options are invalid.
func New(opts Options) (*Tracker, error) {
	if opts.Sink == nil {
		return nil, ErrNoSink
	}
	if opts.MemoryInterval < 0 {
		return nil, ErrInvalidInterval
	}
	t := &Tracker{
		opts:        opts,
		sessionID:   uuid.New().String(),
		interpTree:  frametree.New(),
		nativeTree:  frametree.New(),
		mods:        modules.New(),
		contexts:    make(map[uint64]*ExecutionContext),
		knownFrames: make(map[uint64]struct{}),
	}
	if !current.CompareAndSwap(nil, t) {
		return nil, ErrAlreadyActive
	}

	unwind.Setup()
	if opts.NativeTraces {
		if err := t.mods.Update(); err != nil {
			log.Warn().Err(err).Msg("failed to load the module map, native frames will be unattributed")
		}
	}
	if err := t.writeHeader(); err != nil {
		current.CompareAndSwap(t, nil)
		return nil, fmt.Errorf("writing the session header: %w", err)
	}
	if opts.MemoryInterval > 0 {
		t.sampler = newSampler(t, opts.MemoryInterval)
		t.sampler.start()
	}
	active.Store(true)
	log.Info().Str("session_id", t.sessionID).Msg("tracking activated")
	return t, nil
}

func (t *Tracker) writeHeader() error {
	var interval int64
	if t.opts.MemoryInterval > 0 {
		interval = t.opts.MemoryInterval.Milliseconds()
	}
	return t.opts.Sink.WriteRecord(&records.Record{
		Kind:      records.KindHeader,
		Timestamp: timeutil.Nanos(),
		Header: &records.Header{
			SessionID:      t.sessionID,
			PID:            os.Getpid(),
			Start:          timeutil.Now(),
			NativeTraces:   t.opts.NativeTraces,
			MemoryInterval: interval,
		},
	})
}

// Destroy deactivates tracking, stops the background sampler, flushes
// and closes the sink and releases the singleton so a new instance can
// be created. Idempotent; event calls in flight observe the inactive
// flag and no-op. It returns the first sink error seen during the
// session, if any.
func (t *Tracker) Destroy() error {
	if !t.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	if current.Load() == t {
		active.Store(false)
	}
	if t.sampler != nil {
		t.sampler.stop()
	}
	// Wait out any write already past the active check.
	t.writeMu.Lock()
	werr := t.werr
	t.writeMu.Unlock()

	ferr := t.opts.Sink.Flush()
	cerr := t.opts.Sink.Close()
	current.CompareAndSwap(t, nil)
	log.Info().Str("session_id", t.sessionID).Msg("tracking destroyed")
	if werr != nil {
		return werr
	}
	if ferr != nil {
		return ferr
	}
	return cerr
}

// Active reports whether tracking is currently on. Lock-free.
func Active() bool {
	return active.Load()
}

// Activate resumes tracking on the current instance, if any. A session
// stopped by a terminal write failure stays off: its sink is broken and
// resuming would only hit the same error again.
func Activate() {
	if t := current.Load(); t != nil && !t.failed.Load() {
		active.Store(true)
	}
}

// Deactivate suspends tracking without destroying the instance.
func Deactivate() {
	active.Store(false)
}

// TrackAllocation records one allocation event. Hot path: a single
// atomic load bails out when tracking is off, and the reentrancy guard
// keeps the tracker's own bookkeeping from being tracked in turn.
func (t *Tracker) TrackAllocation(ctx *ExecutionContext, addr, size uint64, kind records.Allocator) {
	t.trackEvent(records.KindAllocation, ctx, addr, size, kind)
}

// TrackDeallocation records one deallocation event.
func (t *Tracker) TrackDeallocation(ctx *ExecutionContext, addr, size uint64, kind records.Allocator) {
	t.trackEvent(records.KindFree, ctx, addr, size, kind)
}

func (t *Tracker) trackEvent(k records.Kind, ctx *ExecutionContext, addr, size uint64, kind records.Allocator) {
	if !active.Load() {
		return
	}
	if ctx.busy {
		return
	}
	ctx.busy = true
	defer func() { ctx.busy = false }()

	rec := records.Record{
		Kind:      k,
		Timestamp: timeutil.Nanos(),
		ContextID: ctx.id,
		Address:   addr,
		Size:      size,
		Allocator: kind,
		StackID:   t.interpTree.Intern(ctx.stack, frametree.Root),
	}
	if t.opts.NativeTraces {
		// Two frames hide trackEvent and its Track* wrapper.
		if ctx.trace.Fill(2) {
			ctx.scratch = ctx.trace.AppendTo(ctx.scratch[:0])
			rec.NativeStackID = t.nativeTree.Intern(ctx.scratch, frametree.Root)
		} else {
			t.failedCaptures.Add(1)
		}
	}
	t.write(&rec)
}

func (t *Tracker) write(r *records.Record) {
	t.writeMu.Lock()
	err := t.opts.Sink.WriteRecord(r)
	if err != nil && t.werr == nil {
		t.werr = err
	}
	t.writeMu.Unlock()
	if err != nil {
		// A torn stream cannot be recovered mid-session; stop
		// contributing to it.
		if t.failed.CompareAndSwap(false, true) {
			active.Store(false)
			log.Warn().Err(err).Msg("record write failed, deactivating tracking")
		}
		return
	}
	t.recordsWritten.Add(1)
}

// Err returns the sink error that deactivated the session, if any.
func (t *Tracker) Err() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.werr
}

// UpdateModuleCache refreshes the loaded-module map after new code has
// been mapped in, so native address attribution stays accurate.
func (t *Tracker) UpdateModuleCache() {
	if err := t.mods.Update(); err != nil {
		log.Warn().Err(err).Msg("failed to update the module map")
	}
	unwind.FlushCache()
}

// InvalidateModuleCache drops the loaded-module map.
func (t *Tracker) InvalidateModuleCache() {
	t.mods.Invalidate()
	unwind.FlushCache()
}

// Modules exposes the module map for consumers resolving native frames.
func (t *Tracker) Modules() *modules.Map {
	return t.mods
}

// Stats returns a snapshot of the diagnostic counters.
func (t *Tracker) Stats() Stats {
	return Stats{
		RecordsWritten: t.recordsWritten.Load(),
		ClampedPops:    t.clampedPops.Load(),
		FailedCaptures: t.failedCaptures.Load(),
	}
}

// registerFrame interns a frame description, reporting whether it was
// new. The first sighting is the only one written to the stream.
func (t *Tracker) registerFrame(id uint64) bool {
	t.frameMu.Lock()
	defer t.frameMu.Unlock()
	if _, ok := t.knownFrames[id]; ok {
		return false
	}
	t.knownFrames[id] = struct{}{}
	return true
}
