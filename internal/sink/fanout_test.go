package sink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ba-nh/canmonitor/internal/ingest"
)

func TestFanoutDeliversToEverySink(t *testing.T) {
	lb := NewLogBuffer(10)
	cell := NewSnapshotCell(time.Unix(0, 0))
	fanout := NewFanout(lb, cell)

	fanout.Publish(ingest.SlotRecord{Time: 0.1, Signals: ingest.NewSignalTable()})

	assert.Equal(t, 1, lb.Len())
	assert.NotNil(t, cell.Read())
}

func TestFanoutAddAppendsASinkAfterConstruction(t *testing.T) {
	lb := NewLogBuffer(10)
	fanout := NewFanout(lb)

	late := NewLogBuffer(10)
	fanout.Add(late)
	fanout.Publish(ingest.SlotRecord{Time: 0.1, Signals: ingest.NewSignalTable()})

	assert.Equal(t, 1, lb.Len())
	assert.Equal(t, 1, late.Len())
}

// TestCSVWriterPublishNeverBlocksUnderBackpressure is the concrete instance
// of the "sink independence" property this package can test without a live
// MQTT broker: CSVWriter.Publish only enqueues and must return immediately
// even when nothing is draining the queue (as happens if Run's goroutine
// is itself slow, e.g. behind a wedged disk), so a sibling sink ahead of it
// in a Fanout is never held up waiting for CSV I/O.
func TestCSVWriterPublishNeverBlocksUnderBackpressure(t *testing.T) {
	w, _ := newTestCSVWriter(t)

	done := make(chan struct{})
	go func() {
		for i := 0; i < csvQueueCapacity+5; i++ {
			w.Publish(slotRecord(float64(i)/10, nil, "", ""))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("CSVWriter.Publish blocked instead of queuing and returning")
	}
}

// TestSnapshotCellAndLogBufferPublishAreNonBlocking rounds out the sink
// independence property for the two other mandatory sinks: a SnapshotCell
// write is a single atomic pointer swap and a LogBuffer write is a bounded
// ring append, so neither can ever stall on a slow reader the way a network
// sink like MQTT would without its own async dispatch (see MQTTSink.Publish,
// which hands the broker round-trip to a background goroutine for the same
// reason).
func TestSnapshotCellAndLogBufferPublishAreNonBlocking(t *testing.T) {
	cell := NewSnapshotCell(time.Unix(0, 0))
	lb := NewLogBuffer(1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10_000; i++ {
			rec := ingest.SlotRecord{Time: float64(i) / 10, Signals: ingest.NewSignalTable()}
			cell.Publish(rec)
			lb.Publish(rec)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SnapshotCell/LogBuffer Publish blocked")
	}
}
