package detect

// State is a serializable snapshot of a Detector's internal timers, delay
// anchors, and history window, used only by the optional session checkpoint.
// It has no bearing on the detection algorithm itself; restoring it simply
// resumes a Detector exactly where a prior one left off.
type State struct {
	Timer       map[string]float64
	Delay       map[string]DelayAnchorState
	History     []HistoryEntry
	CurrentTime float64
}

// DelayAnchorState is the exported form of delayAnchor.
type DelayAnchorState struct {
	Start   float64
	Elapsed float64
}

// Snapshot captures the detector's current state for checkpointing.
func (d *Detector) Snapshot() State {
	timer := make(map[string]float64, len(d.timer))
	for k, v := range d.timer {
		timer[k] = v
	}
	delay := make(map[string]DelayAnchorState, len(d.delay))
	for k, v := range d.delay {
		delay[k] = DelayAnchorState{Start: v.start, Elapsed: v.elapsed}
	}
	return State{
		Timer:       timer,
		Delay:       delay,
		History:     d.history.snapshot(),
		CurrentTime: d.currentTime,
	}
}

// Restore replaces the detector's state with a previously captured
// Snapshot, as used when resuming from a checkpoint.
func (d *Detector) Restore(s State) {
	d.timer = make(map[string]float64, len(s.Timer))
	for k, v := range s.Timer {
		d.timer[k] = v
	}
	d.delay = make(map[string]delayAnchor, len(s.Delay))
	for k, v := range s.Delay {
		d.delay[k] = delayAnchor{start: v.Start, elapsed: v.Elapsed}
	}
	d.history.restore(s.History)
	d.currentTime = s.CurrentTime
}
