package frame

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

type (
	// Frame describes a single interpreter call frame as reported by the
	// host runtime's trace callback: function name, source location and
	// whether it is an entry frame. Immutable once created.
	Frame struct {
		Function string `json:"function"`
		File     string `json:"filename,omitempty"`
		Line     uint32 `json:"lineno,omitempty"`
		IsEntry  bool   `json:"is_entry,omitempty"`
	}
)

// ID returns a stable 64-bit fingerprint for the frame description.
// Identical descriptions always hash to the identical ID, so only the
// first sighting of an ID needs a frame index record in the stream.
func (f Frame) ID() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(f.Function)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(f.File)
	var tail [5]byte
	binary.LittleEndian.PutUint32(tail[:4], f.Line)
	if f.IsEntry {
		tail[4] = 1
	}
	_, _ = d.Write(tail[:])
	return d.Sum64()
}
