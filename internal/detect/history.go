package detect

// historyCap is the ring capacity: the last 30 slots (3.0 seconds at 0.1s/slot).
const historyCap = 30

// HistoryEntry is one kinematic sample kept for window-based conditions
// (hard braking, sharp steering).
type HistoryEntry struct {
	Timestamp float64
	Speed     float64
	Angle     float64
	Rate      float64
	Torque    float64
	Pressure  float64
}

// historyRing is an append-only (from the detector's perspective) ring of
// the last historyCap entries; entries eclipsed by the fixed capacity are
// discarded.
type historyRing struct {
	entries []HistoryEntry
}

func (h *historyRing) append(e HistoryEntry) {
	h.entries = append(h.entries, e)
	if len(h.entries) > historyCap {
		h.entries = h.entries[len(h.entries)-historyCap:]
	}
}

// since returns entries with Timestamp >= cutoff, oldest first.
func (h *historyRing) since(cutoff float64) []HistoryEntry {
	var out []HistoryEntry
	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].Timestamp < cutoff {
			break
		}
		out = append(out, h.entries[i])
	}
	// reverse into chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (h *historyRing) snapshot() []HistoryEntry {
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

func (h *historyRing) restore(entries []HistoryEntry) {
	h.entries = append([]HistoryEntry(nil), entries...)
	if len(h.entries) > historyCap {
		h.entries = h.entries[len(h.entries)-historyCap:]
	}
}
