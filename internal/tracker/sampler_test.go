package tracker

import (
	"testing"
	"time"

	"github.com/prometheus/procfs"

	"github.com/getsentry/memtrace/internal/records"
	"github.com/getsentry/memtrace/internal/sink"
)

// Scenario: sample with interval T for roughly 3T. Wake latency makes
// the exact count fuzzy, but it is never zero and never beyond the
// cadence plus one.
func TestSamplerCadence(t *testing.T) {
	if _, err := procfs.Self(); err != nil {
		t.Skipf("procfs unavailable: %v", err)
	}

	const interval = 50 * time.Millisecond
	tr, s := newTestTracker(t, Options{MemoryInterval: interval})

	time.Sleep(3*interval + interval/2)
	if err := tr.Destroy(); err != nil {
		t.Fatalf("destroy: %v", err)
	}

	samples := s.OfKind(records.KindMemorySample)
	if len(samples) == 0 {
		t.Fatal("no memory samples recorded")
	}
	if len(samples) > 4 {
		t.Fatalf("%d samples in ~3 intervals, wanted at most 4", len(samples))
	}
	for i, r := range samples {
		if r.RSS == 0 {
			t.Fatalf("sample %d has zero resident size", i)
		}
	}
}

func TestSamplerStopsPromptly(t *testing.T) {
	s := sink.NewCaptureSink()
	tr, err := New(Options{Sink: s, MemoryInterval: time.Hour})
	if err != nil {
		t.Fatalf("creating tracker: %v", err)
	}
	start := time.Now()
	if err := tr.Destroy(); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	// Shutdown is bounded by wake latency, not the hour-long interval.
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("destroy took %v with a pending sample tick", elapsed)
	}
	if got := s.OfKind(records.KindMemorySample); len(got) != 0 {
		t.Fatalf("%d samples recorded before the first interval elapsed", len(got))
	}
}

func TestSamplerStopIdempotent(t *testing.T) {
	s := newSampler(nil, time.Hour)
	s.start()
	s.stop()
	s.stop()
}
