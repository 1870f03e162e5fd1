package unwind

import (
	"runtime"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// symbolCacheSize bounds the PC lookup cache, mirroring the bounded
// unwind cache the native backend is configured with.
const symbolCacheSize = 1024

type (
	// Symbol is the resolved source location of a native frame.
	Symbol struct {
		Function string `json:"function"`
		File     string `json:"filename,omitempty"`
		Line     uint32 `json:"lineno,omitempty"`
	}
)

var symbols atomic.Pointer[lru.Cache[uint64, Symbol]]

// Setup configures the unwinding backend for low per-call overhead by
// installing a bounded symbol cache. Failure is reported as a warning;
// tracing continues uncached, just slower.
func Setup() {
	c, err := lru.New[uint64, Symbol](symbolCacheSize)
	if err != nil {
		log.Warn().Err(err).Msg("failed to set up the unwind symbol cache")
		return
	}
	symbols.Store(c)
}

// FlushCache invalidates cached unwind information. Required whenever
// the address space changes unpredictably, such as after returning into
// a forked child or after new code has been loaded.
func FlushCache() {
	if c := symbols.Load(); c != nil {
		c.Purge()
	}
}

// Symbolize resolves a captured native frame to its source location.
// Results are cached; misses fall back to the runtime's symbol tables.
func Symbolize(pc uint64) Symbol {
	c := symbols.Load()
	if c != nil {
		if s, ok := c.Get(pc); ok {
			return s
		}
	}
	var s Symbol
	if fn := runtime.FuncForPC(uintptr(pc)); fn != nil {
		file, line := fn.FileLine(uintptr(pc))
		s = Symbol{Function: fn.Name(), File: file, Line: uint32(line)}
	}
	if c != nil {
		c.Add(pc, s)
	}
	return s
}
