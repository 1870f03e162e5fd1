package unwind

import (
	"testing"
)

//go:noinline
func recurse(t *Trace, depth int, skip int) bool {
	if depth == 0 {
		return t.Fill(skip)
	}
	return recurse(t, depth-1, skip)
}

func TestFillCapturesFrames(t *testing.T) {
	tr := NewTrace()
	if !tr.Fill(0) {
		t.Fatal("Fill returned false on a live goroutine")
	}
	if tr.Size() == 0 {
		t.Fatal("no frames captured")
	}
	// Fill itself must not appear in the capture.
	for i := 0; i < tr.Size(); i++ {
		s := Symbolize(tr.At(i))
		if s.Function == "github.com/getsentry/memtrace/internal/unwind.(*Trace).Fill" {
			t.Fatalf("Fill's own frame leaked into the capture at index %d", i)
		}
	}
}

func TestFillSkipHidesFrames(t *testing.T) {
	tr := NewTrace()
	if !tr.Fill(0) {
		t.Fatal("Fill returned false")
	}
	full := tr.Size()

	tr2 := NewTrace()
	if !tr2.Fill(1) {
		t.Fatal("Fill(1) returned false")
	}
	if tr2.Size() >= full {
		t.Fatalf("skip=1 captured %d frames, wanted fewer than %d", tr2.Size(), full)
	}
}

func TestFillOrderingOutermostFirst(t *testing.T) {
	tr := NewTrace()
	if !recurse(tr, 3, 0) {
		t.Fatal("Fill returned false")
	}
	scratch := tr.AppendTo(nil)
	if len(scratch) != tr.Size() {
		t.Fatalf("AppendTo produced %d frames, Size is %d", len(scratch), tr.Size())
	}
	for i := range scratch {
		if scratch[i] != tr.At(i) {
			t.Fatalf("AppendTo and At disagree at index %d", i)
		}
	}
	// The innermost captured frame is recurse at depth 0; it must sit at
	// the highest index, not index 0.
	last := Symbolize(tr.At(tr.Size() - 1))
	if last.Function != "github.com/getsentry/memtrace/internal/unwind.recurse" {
		t.Fatalf("innermost frame is %q, wanted recurse", last.Function)
	}
}

func TestFillGrowsOnDeepStack(t *testing.T) {
	tr := NewTrace()
	before := tr.Capacity()
	if !recurse(tr, before+16, 0) {
		t.Fatal("Fill returned false")
	}
	if tr.Size() <= before {
		t.Fatalf("deep capture returned %d frames, wanted more than %d", tr.Size(), before)
	}
	grown := tr.Capacity()
	if grown <= before {
		t.Fatalf("capacity did not grow: %d -> %d", before, grown)
	}

	// The grown capture hides the same frames as the shallow path: neither
	// Fill nor its retry loop may leak into the stack, and the innermost
	// frame is still recurse at depth 0.
	for i := 0; i < tr.Size(); i++ {
		fn := Symbolize(tr.At(i)).Function
		if fn == "github.com/getsentry/memtrace/internal/unwind.(*Trace).Fill" ||
			fn == "github.com/getsentry/memtrace/internal/unwind.(*Trace).exact" {
			t.Fatalf("internal frame %q leaked into the deep capture at index %d", fn, i)
		}
	}
	if fn := Symbolize(tr.At(tr.Size() - 1)).Function; fn != "github.com/getsentry/memtrace/internal/unwind.recurse" {
		t.Fatalf("innermost frame of the deep capture is %q, wanted recurse", fn)
	}

	// Growth is monotonic: a shallow capture afterwards keeps the raised
	// capacity.
	if !tr.Fill(0) {
		t.Fatal("Fill returned false")
	}
	if tr.Capacity() < grown {
		t.Fatalf("capacity shrank: %d -> %d", grown, tr.Capacity())
	}
}

func TestSymbolizeCached(t *testing.T) {
	Setup()
	defer FlushCache()

	tr := NewTrace()
	if !tr.Fill(0) {
		t.Fatal("Fill returned false")
	}
	pc := tr.At(tr.Size() - 1)
	first := Symbolize(pc)
	if first.Function == "" {
		t.Fatal("failed to symbolize a frame from our own binary")
	}
	second := Symbolize(pc)
	if first != second {
		t.Fatalf("cached lookup differs: %+v != %+v", first, second)
	}
}
