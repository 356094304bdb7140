package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ba-nh/canmonitor/internal/decode"
)

func TestSlotAccumulatorMergeReportsFreshNames(t *testing.T) {
	s := NewSlotAccumulator()
	fresh := s.Merge(decode.SignalMap{"SPEED_DISPLAY": decode.Num(1)})
	assert.Equal(t, []string{"SPEED_DISPLAY"}, fresh)

	fresh = s.Merge(decode.SignalMap{"SPEED_DISPLAY": decode.Num(2)})
	assert.Empty(t, fresh, "re-observing a known name is not fresh")
}

// Carry-over: a signal merged into one slot is still readable, unchanged,
// after the slot is finalized and a new one begins.
func TestSlotAccumulatorCarriesValuesForward(t *testing.T) {
	s := NewSlotAccumulator()
	s.Merge(decode.SignalMap{"BRAKE_PRESSED": decode.Num(1)})
	s.Finalize()

	v, ok := s.current.Get("BRAKE_PRESSED")
	assert.True(t, ok)
	assert.Equal(t, 1.0, v.Number)
}

// Finalize must hand back an independent copy: mutating the next slot must
// not retroactively change a SlotRecord already published.
func TestSlotAccumulatorFinalizeRecordIsIndependent(t *testing.T) {
	s := NewSlotAccumulator()
	s.Merge(decode.SignalMap{"BRAKE_PRESSED": decode.Num(1)})
	rec := s.Finalize()

	s.Merge(decode.SignalMap{"BRAKE_PRESSED": decode.Num(0)})

	v, ok := rec.Signals.Get("BRAKE_PRESSED")
	assert.True(t, ok)
	assert.Equal(t, 1.0, v.Number, "finalized record must not see later mutations")
}

// time[k+1] - time[k] == 0.1, computed from the integer slot index rather
// than accumulated float addition, so no drift accrues over a long session.
func TestSlotAccumulatorTimeSequenceIsFixedPoint(t *testing.T) {
	s := NewSlotAccumulator()
	var times []float64
	for i := 0; i < 50; i++ {
		rec := s.Finalize()
		times = append(times, rec.Time)
	}
	for k := 0; k < len(times)-1; k++ {
		assert.InDelta(t, 0.1, times[k+1]-times[k], 1e-9, "slot %d", k)
	}
	assert.InDelta(t, 0.0, times[0], 1e-9)
	assert.InDelta(t, 4.9, times[49], 1e-9)
}
