package sink

import (
	"sync"

	"github.com/getsentry/memtrace/internal/records"
)

type (
	// CaptureSink retains records in memory. Used by tests and by tools
	// that inspect a live session.
	CaptureSink struct {
		mu      sync.Mutex
		recs    []records.Record
		err     error
		reopens []int
	}
)

func NewCaptureSink() *CaptureSink {
	return &CaptureSink{}
}

func (s *CaptureSink) WriteRecord(r *records.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.recs = append(s.recs, *r)
	return nil
}

func (s *CaptureSink) Flush() error { return nil }
func (s *CaptureSink) Close() error { return nil }

// FailWith makes every subsequent write return err.
func (s *CaptureSink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Records returns a copy of everything written so far.
func (s *CaptureSink) Records() []records.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]records.Record, len(s.recs))
	copy(out, s.recs)
	return out
}

// OfKind returns the written records of one kind, in write order.
func (s *CaptureSink) OfKind(k records.Kind) []records.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []records.Record
	for _, r := range s.recs {
		if r.Kind == k {
			out = append(out, r)
		}
	}
	return out
}

// ReopenForChild drops the inherited records, modeling the fresh stream
// a forked child must start.
func (s *CaptureSink) ReopenForChild(pid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = nil
	s.reopens = append(s.reopens, pid)
	return nil
}

// Reopens returns the pids ReopenForChild was called with.
func (s *CaptureSink) Reopens() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.reopens))
	copy(out, s.reopens)
	return out
}
