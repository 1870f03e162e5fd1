package sink

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	gojson "github.com/goccy/go-json"
	"github.com/pierrec/lz4/v4"

	"github.com/getsentry/memtrace/internal/records"
)

type (
	// FileSink streams records to a file as line-delimited JSON,
	// optionally framed with lz4. Writes are serialized so records never
	// interleave mid-record.
	FileSink struct {
		mu       sync.Mutex
		path     string
		compress bool

		f  *os.File
		zw *lz4.Writer
		bw *bufio.Writer
		w  io.Writer
	}
)

func NewFileSink(path string, compress bool) (*FileSink, error) {
	s := &FileSink{path: path, compress: compress}
	if err := s.open(path); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSink) open(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	s.f = f
	s.bw = bufio.NewWriter(f)
	if s.compress {
		s.zw = lz4.NewWriter(s.bw)
		_ = s.zw.Apply(lz4.CompressionLevelOption(lz4.Level9))
		s.w = s.zw
	} else {
		s.w = s.bw
	}
	s.path = path
	return nil
}

func (s *FileSink) WriteRecord(r *records.Record) error {
	b, err := gojson.Marshal(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return os.ErrClosed
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	_, err = s.w.Write([]byte{'\n'})
	return err
}

func (s *FileSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *FileSink) flushLocked() error {
	if s.f == nil {
		return nil
	}
	if s.zw != nil {
		if err := s.zw.Flush(); err != nil {
			return err
		}
	}
	return s.bw.Flush()
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *FileSink) closeLocked() error {
	if s.f == nil {
		return nil
	}
	if s.zw != nil {
		if err := s.zw.Close(); err != nil {
			return err
		}
		s.zw = nil
	}
	if err := s.bw.Flush(); err != nil {
		return err
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// ReopenForChild abandons the inherited file handle and starts a fresh
// stream for the forked child. The parent keeps the original file; the
// child's records land next to it, suffixed with the child's pid. The
// inherited handle is not flushed or closed: its buffered state belongs
// to the parent.
func (s *FileSink) ReopenForChild(pid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.f = nil
	s.zw = nil
	return s.open(fmt.Sprintf("%s.%d", s.path, pid))
}
