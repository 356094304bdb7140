package ingest

import (
	"sort"

	"github.com/ba-nh/canmonitor/internal/decode"
)

// SlotRecord is one finalized 0.1-second time bucket: the accumulated
// signal values observed during it, plus the trigger/event annotations the
// detector and arbiter attach once the slot closes.
type SlotRecord struct {
	Time    float64
	Signals *SignalTable
	Trigger string
	Event   string
}

// SlotAccumulator merges decoded, deduped signals into the current time
// slot and finalizes slots on accepted heartbeats, carrying every prior
// signal value forward into the next slot until refreshed.
type SlotAccumulator struct {
	current   *SignalTable
	slotIndex uint64
}

// NewSlotAccumulator creates an accumulator for a fresh ingest session.
func NewSlotAccumulator() *SlotAccumulator {
	return &SlotAccumulator{current: NewSignalTable()}
}

// Merge folds a non-heartbeat frame's decoded signals into the current
// slot. It returns the names observed for the first time this session, in
// deterministic (sorted) order, so a sink watching for header growth can
// react.
func (s *SlotAccumulator) Merge(signals decode.SignalMap) []string {
	names := make([]string, 0, len(signals))
	for name := range signals {
		names = append(names, name)
	}
	sort.Strings(names)

	var fresh []string
	for _, name := range names {
		if s.current.Set(name, signals[name]) {
			fresh = append(fresh, name)
		}
	}
	return fresh
}

// Finalize closes the current slot as a SlotRecord timestamped by the slot
// index about to be superseded, then opens the next slot by cloning every
// carried-forward signal.
func (s *SlotAccumulator) Finalize() SlotRecord {
	rec := SlotRecord{
		Time:    float64(s.slotIndex) / 10,
		Signals: s.current,
	}
	s.slotIndex++
	s.current = rec.Signals.Clone()
	return rec
}

// SlotIndex returns the index of the slot currently being accumulated, for
// checkpointing.
func (s *SlotAccumulator) SlotIndex() uint64 { return s.slotIndex }

// CurrentSignals returns the in-progress slot's signal table, for
// checkpointing. The caller must not mutate it.
func (s *SlotAccumulator) CurrentSignals() *SignalTable { return s.current }

// Restore resumes accumulation at slotIndex with signals as the
// carried-forward state, as used when resuming from a checkpoint.
func (s *SlotAccumulator) Restore(slotIndex uint64, signals *SignalTable) {
	s.slotIndex = slotIndex
	s.current = signals
}
