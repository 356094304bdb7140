package ingest

import "github.com/ba-nh/canmonitor/internal/decode"

// wheelSpeedKeys are averaged to derive SPEED on demand; SPEED itself is
// never stored as a signal (it is a computed attribute, not a log column).
var wheelSpeedKeys = [4]string{"WHEEL_SPEED_1", "WHEEL_SPEED_2", "WHEEL_SPEED_3", "WHEEL_SPEED_4"}

// SignalTable is an ordered SignalMap: it remembers the order in which
// names were first observed during the session, since that order drives
// CSV header expansion downstream. Plain Go maps have no stable iteration
// order, so the open signal-name universe needs this wrapper to reproduce
// deterministic column growth.
type SignalTable struct {
	order  []string
	values map[string]decode.Value
}

// NewSignalTable creates an empty table.
func NewSignalTable() *SignalTable {
	return &SignalTable{values: make(map[string]decode.Value)}
}

// Set writes name=v, appending name to the order if it has not been seen
// before, and reports whether this was a first observation.
func (t *SignalTable) Set(name string, v decode.Value) (isNew bool) {
	if _, ok := t.values[name]; !ok {
		t.order = append(t.order, name)
		isNew = true
	}
	t.values[name] = v
	return isNew
}

// Get returns the value stored for name, if any.
func (t *SignalTable) Get(name string) (decode.Value, bool) {
	v, ok := t.values[name]
	return v, ok
}

// Names returns the signal names in first-seen order.
func (t *SignalTable) Names() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Clone returns an independent copy, used when a finalized slot's signals
// carry forward into the next slot.
func (t *SignalTable) Clone() *SignalTable {
	out := &SignalTable{
		order:  make([]string, len(t.order)),
		values: make(map[string]decode.Value, len(t.values)),
	}
	copy(out.order, t.order)
	for k, v := range t.values {
		out.values[k] = v
	}
	return out
}

// Speed derives SPEED as the mean of the four wheel-speed signals when all
// four are present and numeric, else 0.
func (t *SignalTable) Speed() float64 {
	var sum float64
	for _, key := range wheelSpeedKeys {
		v, ok := t.Get(key)
		if !ok || !v.IsNumber {
			return 0
		}
		sum += v.Number
	}
	return sum / float64(len(wheelSpeedKeys))
}
