package sink

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"testing"

	gojson "github.com/goccy/go-json"
	"github.com/pierrec/lz4/v4"

	"github.com/getsentry/memtrace/internal/records"
	"github.com/getsentry/memtrace/internal/testutil"
)

func readBack(t *testing.T, path string, compressed bool) []records.Record {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening stream: %v", err)
	}
	defer f.Close()
	var r io.Reader = f
	if compressed {
		r = lz4.NewReader(f)
	}
	var out []records.Record
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		var rec records.Record
		if err := gojson.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("decoding record: %v", err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scanning stream: %v", err)
	}
	return out
}

func TestFileSinkRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		compress bool
	}{
		{name: "plain"},
		{name: "lz4", compress: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "stream.out")
			s, err := NewFileSink(path, test.compress)
			if err != nil {
				t.Fatalf("creating sink: %v", err)
			}
			want := []records.Record{
				{Kind: records.KindAllocation, Timestamp: 1, ContextID: 7, Address: 0xdead, Size: 64, Allocator: records.AllocatorMalloc, StackID: 3},
				{Kind: records.KindFree, Timestamp: 2, ContextID: 7, Address: 0xdead, Allocator: records.AllocatorMalloc},
				{Kind: records.KindMemorySample, Timestamp: 3, RSS: 1 << 20},
			}
			for i := range want {
				if err := s.WriteRecord(&want[i]); err != nil {
					t.Fatalf("writing record %d: %v", i, err)
				}
			}
			if err := s.Close(); err != nil {
				t.Fatalf("closing sink: %v", err)
			}
			got := readBack(t, path, test.compress)
			if diff := testutil.Diff(got, want); diff != "" {
				t.Fatalf("stream mismatch: %v", diff)
			}
		})
	}
}

func TestFileSinkWriteAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.out")
	s, err := NewFileSink(path, false)
	if err != nil {
		t.Fatalf("creating sink: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("closing sink: %v", err)
	}
	if err := s.WriteRecord(&records.Record{Kind: records.KindFree}); err == nil {
		t.Fatal("write after close succeeded")
	}
	// Close is idempotent.
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestFileSinkReopenForChild(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stream.out")
	s, err := NewFileSink(path, false)
	if err != nil {
		t.Fatalf("creating sink: %v", err)
	}
	parentRec := records.Record{Kind: records.KindAllocation, Timestamp: 1, Address: 1}
	if err := s.WriteRecord(&parentRec); err != nil {
		t.Fatalf("parent write: %v", err)
	}

	if err := s.ReopenForChild(1234); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	childRec := records.Record{Kind: records.KindAllocation, Timestamp: 2, Address: 2}
	if err := s.WriteRecord(&childRec); err != nil {
		t.Fatalf("child write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("closing child sink: %v", err)
	}

	got := readBack(t, path+".1234", false)
	if diff := testutil.Diff(got, []records.Record{childRec}); diff != "" {
		t.Fatalf("child stream mismatch: %v", diff)
	}
}
