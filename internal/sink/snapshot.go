package sink

import (
	"sync/atomic"
	"time"

	"github.com/ba-nh/canmonitor/internal/ingest"
)

// DashboardFrame is the augmented record the dashboard transport forwards to
// clients: a SlotRecord plus the derived SPEED and the session timing fields
// that SnapshotCell.Publish stamps on it. LoggingDuration is derived from the
// record's slot time, not read from the wall clock.
type DashboardFrame struct {
	Record           ingest.SlotRecord
	Speed            float64
	LoggingStartTime time.Time
	LoggingDuration  time.Duration
}

// SnapshotCell is the single-writer/single-reader handoff cell between the
// ingest loop and the dashboard transport: Publish does an atomic swap, Read
// an atomic load, so the transport's periodic tick never blocks ingestion.
type SnapshotCell struct {
	cell      atomic.Pointer[DashboardFrame]
	startedAt time.Time
}

// NewSnapshotCell creates an empty cell; startedAt seeds LoggingStartTime /
// LoggingDuration on every published frame.
func NewSnapshotCell(startedAt time.Time) *SnapshotCell {
	return &SnapshotCell{startedAt: startedAt}
}

// Publish stores rec as the latest snapshot, computing SPEED on demand (it
// is never persisted on the record itself) and stamping the session timing
// fields the raw SlotRecord doesn't carry.
func (c *SnapshotCell) Publish(rec ingest.SlotRecord) {
	now := c.startedAt.Add(time.Duration(rec.Time * float64(time.Second)))
	c.cell.Store(&DashboardFrame{
		Record:           rec,
		Speed:            rec.Signals.Speed(),
		LoggingStartTime: c.startedAt,
		LoggingDuration:  now.Sub(c.startedAt),
	})
}

// Read returns the latest published frame, or nil if nothing has been
// published yet.
func (c *SnapshotCell) Read() *DashboardFrame {
	return c.cell.Load()
}
