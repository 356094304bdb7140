package sink

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ba-nh/canmonitor/internal/decode"
	"github.com/ba-nh/canmonitor/internal/ingest"
)

type recordingSinkMetrics struct {
	drops map[string]int
}

func newRecordingSinkMetrics() *recordingSinkMetrics {
	return &recordingSinkMetrics{drops: make(map[string]int)}
}

func (m *recordingSinkMetrics) SinkBackpressureDropped(sink string) { m.drops[sink]++ }

func newTestCSVWriter(t *testing.T) (*CSVWriter, *recordingSinkMetrics) {
	t.Helper()
	dir := t.TempDir()
	metrics := newRecordingSinkMetrics()
	clock := clockwork.NewFakeClock()
	w, err := NewCSVWriter(dir, clock, metrics)
	require.NoError(t, err)
	return w, metrics
}

type namedValue struct {
	name string
	v    decode.Value
}

// slotRecord builds a SlotRecord from signals in the given order, since
// first-seen column order is observable behavior and a map would make it
// non-deterministic.
func slotRecord(time float64, signals []namedValue, event, trigger string) ingest.SlotRecord {
	tbl := ingest.NewSignalTable()
	for _, nv := range signals {
		tbl.Set(nv.name, nv.v)
	}
	return ingest.SlotRecord{Time: time, Signals: tbl, Event: event, Trigger: trigger}
}

func TestCSVWriterInitialHeader(t *testing.T) {
	w, _ := newTestCSVWriter(t)
	defer w.Close()

	data, err := os.ReadFile(w.path)
	require.NoError(t, err)
	assert.Equal(t, "Time,event,trigger\n", string(data))
}

func TestCSVWriterAppendsRowWithoutNewColumns(t *testing.T) {
	w, _ := newTestCSVWriter(t)
	defer w.Close()

	w.writeRecord(slotRecord(0.0, nil, "none", "none"))

	data, err := os.ReadFile(w.path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	assert.Equal(t, []string{"Time,event,trigger", "0.0,none,none"}, lines)
}

func TestCSVWriterHeaderGrowsAndRealignsPriorRows(t *testing.T) {
	w, _ := newTestCSVWriter(t)
	defer w.Close()

	w.writeRecord(slotRecord(0.0, nil, "none", "none"))
	w.writeRecord(slotRecord(0.1, []namedValue{
		{"BRAKE_PRESSED", decode.Num(1)},
	}, "none", "none"))

	data, err := os.ReadFile(w.path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Time,BRAKE_PRESSED,event,trigger", lines[0])
	assert.Equal(t, "0.0,,none,none", lines[1], "row before the new signal is realigned with an empty cell")
	assert.Equal(t, "0.1,1,none,none", lines[2])
}

func TestCSVWriterColumnsStayInFirstSeenOrder(t *testing.T) {
	w, _ := newTestCSVWriter(t)
	defer w.Close()

	w.writeRecord(slotRecord(0.0, []namedValue{
		{"BRAKE_PRESSED", decode.Num(1)},
		{"ACCELERATOR_PEDAL_PRESSED", decode.Num(0)},
	}, "none", "none"))

	assert.Equal(t, []string{"Time", "BRAKE_PRESSED", "ACCELERATOR_PEDAL_PRESSED", "event", "trigger"}, w.header)
}

func TestCSVQueueDropsOldestUnderBackpressure(t *testing.T) {
	w, metrics := newTestCSVWriter(t)
	defer w.Close()

	for i := 0; i < csvQueueCapacity+5; i++ {
		w.Publish(slotRecord(float64(i)/10, nil, "none", "none"))
	}

	assert.Equal(t, 5, metrics.drops["csv"])
	assert.Len(t, w.queue.popAll(), csvQueueCapacity)
}

func TestCSVWriterPathNamedByClock(t *testing.T) {
	w, _ := newTestCSVWriter(t)
	defer w.Close()
	assert.True(t, strings.HasPrefix(filepath.Base(w.path), "realtime_log_"))
	assert.True(t, strings.HasSuffix(w.path, ".csv"))
}
