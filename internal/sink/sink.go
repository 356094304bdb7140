// Package sink generalizes "a destination for a finalized SlotRecord" behind
// a single interface, implemented by the in-memory log buffer, the CSV
// writer, the dashboard snapshot cell, and the optional MQTT publisher. The
// ingest loop fans a record out to a slice of these rather than calling each
// one by name; this is the only structural generalization beyond the core
// detection/arbitration algorithm, and it changes no observable behavior of
// the three mandatory sinks.
package sink

import "github.com/ba-nh/canmonitor/internal/ingest"

// Sink receives one finalized SlotRecord at a time. Implementations must not
// block the caller for long: the ingest loop is single-threaded and a slow
// sink must never stall ingestion.
type Sink interface {
	Publish(rec ingest.SlotRecord)
}

// Metrics receives counters the sinks in this package update. A nil Metrics
// is valid: every call site guards against it.
type Metrics interface {
	SinkBackpressureDropped(sink string)
}

// Fanout holds an ordered list of Sinks and publishes to all of them.
type Fanout struct {
	sinks []Sink
}

// NewFanout creates a Fanout over the given sinks, in publish order.
func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

// Add appends another sink to the fanout, for collaborators (such as the
// checkpoint writer) that must be constructed after the loop they observe.
func (f *Fanout) Add(s Sink) {
	f.sinks = append(f.sinks, s)
}

// Publish hands rec to every configured sink. A panicking or slow sink is not
// guarded against here — each Sink implementation is responsible for its own
// non-blocking discipline (see CSVWriter's bounded queue for the pattern).
func (f *Fanout) Publish(rec ingest.SlotRecord) {
	for _, s := range f.sinks {
		s.Publish(rec)
	}
}
