package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/ba-nh/canmonitor/internal/decode"
	"github.com/ba-nh/canmonitor/internal/ingest"
)

// csvQueueCapacity bounds how many finalized records may sit between the
// ingest loop and the CSV writer's own goroutine before backpressure kicks
// in. Ingestion must never stall on a slow disk, so a full queue drops its
// oldest entry rather than blocking Publish.
const csvQueueCapacity = 256

// csvQueue is a drop-oldest bounded queue, decoupling Publish (called from
// the ingest loop) from the writer goroutine that actually touches disk.
type csvQueue struct {
	mu    sync.Mutex
	items []ingest.SlotRecord
	cap   int
	wake  chan struct{}
}

func newCSVQueue(capacity int) *csvQueue {
	return &csvQueue{cap: capacity, wake: make(chan struct{}, 1)}
}

func (q *csvQueue) push(rec ingest.SlotRecord) (droppedOldest bool) {
	q.mu.Lock()
	if len(q.items) >= q.cap {
		q.items = q.items[1:]
		droppedOldest = true
	}
	q.items = append(q.items, rec)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return droppedOldest
}

func (q *csvQueue) popAll() []ingest.SlotRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// csvRow holds one row's values keyed by column name, independent of
// header column order, so the row survives a header rewrite unscathed.
type csvRow map[string]string

// CSVWriter is the append-only CSV sink (C9): one file per session, a
// header that grows in place as new signal names are first observed, with
// every previously-written row re-aligned to the wider column set.
type CSVWriter struct {
	path   string
	header []string // always starts "Time", ends "event","trigger"
	rows   []csvRow

	file   *os.File
	writer *csv.Writer

	queue   *csvQueue
	metrics Metrics
}

// NewCSVWriter creates dir if needed and opens realtime_log_<YYYYMMDD_HHMMSS>.csv
// directly in it, named by clock.Now() so tests can pin the filename.
func NewCSVWriter(dir string, clock clockwork.Clock, metrics Metrics) (*CSVWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("csv: create log dir %s: %w", dir, err)
	}
	ts := clock.Now().Format("20060102_150405")
	w := &CSVWriter{
		path:    filepath.Join(dir, fmt.Sprintf("realtime_log_%s.csv", ts)),
		header:  []string{"Time", "event", "trigger"},
		queue:   newCSVQueue(csvQueueCapacity),
		metrics: metrics,
	}
	if err := w.openTruncate(); err != nil {
		return nil, err
	}
	if err := w.writeHeaderLocked(); err != nil {
		return nil, err
	}
	return w, nil
}

// Publish enqueues rec for the writer goroutine. Never blocks: a full queue
// drops its oldest entry and counts it as sink backpressure.
func (w *CSVWriter) Publish(rec ingest.SlotRecord) {
	if w.queue.push(rec) {
		w.noteBackpressure()
	}
}

// Run drains the queue until ctx is cancelled, then performs one final
// drain so no record accepted before shutdown is lost, and closes the file.
func (w *CSVWriter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return w.Close()
		case <-w.queue.wake:
			w.drain()
		}
	}
}

func (w *CSVWriter) drain() {
	for _, rec := range w.queue.popAll() {
		w.writeRecord(rec)
	}
}

func (w *CSVWriter) writeRecord(rec ingest.SlotRecord) {
	row := csvRow{
		"Time":    strconv.FormatFloat(rec.Time, 'f', 1, 64),
		"event":   orNone(rec.Event),
		"trigger": orNone(rec.Trigger),
	}

	grew := false
	for _, name := range rec.Signals.Names() {
		v, ok := rec.Signals.Get(name)
		if !ok {
			continue
		}
		if !w.hasColumn(name) {
			w.insertColumn(name)
			grew = true
		}
		row[name] = formatValue(v)
	}

	w.rows = append(w.rows, row)
	if grew {
		w.rewriteFile()
		return
	}
	w.appendRow(row)
}

func (w *CSVWriter) hasColumn(name string) bool {
	for _, c := range w.header {
		if c == name {
			return true
		}
	}
	return false
}

// insertColumn grows the header, keeping Time first and event/trigger last,
// exactly mirroring the column layout the dynamic rewrite must reproduce.
func (w *CSVWriter) insertColumn(name string) {
	insertAt := len(w.header) - 2 // before "event","trigger"
	w.header = append(w.header[:insertAt], append([]string{name}, w.header[insertAt:]...)...)
}

func (w *CSVWriter) rewriteFile() {
	if w.writer != nil {
		w.writer.Flush()
	}
	if w.file != nil {
		w.file.Close()
	}
	if err := w.openTruncate(); err != nil {
		return
	}

	_ = w.writer.Write(w.header)
	for _, row := range w.rows {
		_ = w.writer.Write(w.renderRow(row))
	}
	w.writer.Flush()
}

func (w *CSVWriter) appendRow(row csvRow) {
	if w.writer == nil {
		return
	}
	_ = w.writer.Write(w.renderRow(row))
	w.writer.Flush()
}

func (w *CSVWriter) renderRow(row csvRow) []string {
	out := make([]string, len(w.header))
	for i, col := range w.header {
		out[i] = row[col] // zero value "" for a column this row never saw
	}
	return out
}

// openTruncate (re)creates the file from scratch, used both for the initial
// session file and for a full header-change rewrite.
func (w *CSVWriter) openTruncate() error {
	f, err := os.OpenFile(w.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("csv: open %s: %w", w.path, err)
	}
	w.file = f
	w.writer = csv.NewWriter(f)
	return nil
}

func (w *CSVWriter) writeHeaderLocked() error {
	if err := w.writer.Write(w.header); err != nil {
		return err
	}
	w.writer.Flush()
	return w.writer.Error()
}

// Close flushes and closes the underlying file.
func (w *CSVWriter) Close() error {
	if w.writer != nil {
		w.writer.Flush()
	}
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

func (w *CSVWriter) noteBackpressure() {
	if w.metrics != nil {
		w.metrics.SinkBackpressureDropped("csv")
	}
}

func formatValue(v decode.Value) string {
	if v.IsNumber {
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	}
	return v.Text
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
