package sink

import "github.com/ba-nh/canmonitor/internal/ingest"

// LogBuffer is an in-memory FIFO ring of the most recently finalized slot
// records, capped at a fixed capacity. It exists for "what just happened"
// introspection (e.g. a future admin endpoint) without re-reading the CSV.
type LogBuffer struct {
	cap    int
	buf    []ingest.SlotRecord
	oldest int // index of the oldest record, once buf is full
}

// DefaultLogBufferCapacity is the ring capacity used by production callers.
const DefaultLogBufferCapacity = 1000

// NewLogBuffer creates a ring with the given capacity.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = DefaultLogBufferCapacity
	}
	return &LogBuffer{cap: capacity}
}

// Publish appends rec, evicting the oldest entry once the ring is full.
func (l *LogBuffer) Publish(rec ingest.SlotRecord) {
	if len(l.buf) < l.cap {
		l.buf = append(l.buf, rec)
		return
	}
	l.buf[l.oldest] = rec
	l.oldest = (l.oldest + 1) % l.cap
}

// Records returns the buffered records in oldest-to-newest order.
func (l *LogBuffer) Records() []ingest.SlotRecord {
	if len(l.buf) < l.cap {
		out := make([]ingest.SlotRecord, len(l.buf))
		copy(out, l.buf)
		return out
	}
	out := make([]ingest.SlotRecord, 0, l.cap)
	out = append(out, l.buf[l.oldest:]...)
	out = append(out, l.buf[:l.oldest]...)
	return out
}

// Len reports how many records are currently buffered.
func (l *LogBuffer) Len() int { return len(l.buf) }
