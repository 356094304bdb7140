// Package detect implements the multi-event driving-behavior condition
// engine and the priority arbitrator, ported slot-for-slot from the
// original rules.py / EventFSM.
package detect

import "math"

// dt is the fixed slot duration in seconds.
const dt = 0.1

// Input is one slot's worth of signals the detector reasons over. A nil
// Accel/Brake/Speed means the signal was absent from the slot: the detector
// emits no triggers and does not advance history for that call.
type Input struct {
	Accel    *float64
	Brake    *float64
	Speed    *float64
	Pressure float64
	Angle    float64
	Rate     float64
	Torque   float64
}

// Trigger is an edge event raised by the detector in a single slot.
type Trigger string

const (
	PMOn  Trigger = "PM_on"
	PMOff Trigger = "PM_off"
	SAOn  Trigger = "SA_on"
	SAOff Trigger = "SA_off"
	SBOn  Trigger = "SB_on"
	SBOff Trigger = "SB_off"
	DDOn  Trigger = "DD_on"
	DDOff Trigger = "DD_off"
	SHOn  Trigger = "SH_on"
	SHOff Trigger = "SH_off"
)

// delayAnchor holds a start-speed anchor across multiple slots until a
// delay window completes.
type delayAnchor struct {
	start   float64
	elapsed float64
}

// Detector is the per-session condition engine: independent on/off timers
// plus a 3-second history window, carried for the lifetime of the ingest
// session. It is not safe for concurrent use — the ingest loop (C8) is its
// sole owner.
type Detector struct {
	timer       map[string]float64
	delay       map[string]delayAnchor
	history     historyRing
	currentTime float64
}

// New creates a Detector with zeroed timers/history, matching a fresh
// ingest session.
func New() *Detector {
	return &Detector{
		timer: make(map[string]float64),
		delay: make(map[string]delayAnchor),
	}
}

// advance adds one slot's dt to an accumulated duration, rounded to the
// nanosecond so that repeated 0.1s steps land exactly on 0.3, 1.0, 3.0, ...
// instead of drifting just below a threshold.
func advance(x float64) float64 { return math.Round((x+dt)*1e9) / 1e9 }

func (d *Detector) step(key string, cond bool) float64 {
	if cond {
		d.timer[key] = advance(d.timer[key])
	} else {
		d.timer[key] = 0
	}
	return d.timer[key]
}

// Detect evaluates all five event classes against one slot and returns the
// raised triggers in the detector's fixed emission order (PM, SA, SB, DD,
// SH; each class's on(s) before its off, as evaluated below). current_time
// always advances by dt, even when core signals are missing, so that later
// windows stay aligned to wall-clock slot position.
func (d *Detector) Detect(in Input) []Trigger {
	d.currentTime += dt

	if in.Accel == nil || in.Brake == nil || in.Speed == nil {
		return nil
	}

	a := *in.Accel != 0
	b := *in.Brake != 0
	v := *in.Speed

	d.history.append(HistoryEntry{
		Speed: v, Angle: in.Angle, Rate: in.Rate, Torque: in.Torque,
		Pressure: in.Pressure, Timestamp: d.currentTime,
	})

	var triggers []Trigger
	triggers = append(triggers, d.detectPM(a, b, v)...)
	triggers = append(triggers, d.detectSA(a, b, v)...)
	triggers = append(triggers, d.detectSB(b, v)...)
	triggers = append(triggers, d.detectDD(a, b, v, in.Torque, in.Angle, in.Rate)...)
	triggers = append(triggers, d.detectSH(v, in.Rate)...)
	return triggers
}

// detectPM — pedal misuse.
func (d *Detector) detectPM(a, b bool, v float64) []Trigger {
	switch {
	case a && b:
		if d.step("PM", true) >= 1.0 {
			return []Trigger{PMOn}
		}
	case a && !b:
		anchor, ok := d.delay["PM_check"]
		if !ok {
			anchor = delayAnchor{start: v}
		}
		anchor.elapsed = advance(anchor.elapsed)
		d.delay["PM_check"] = anchor
		if anchor.elapsed >= 1.0 {
			delete(d.delay, "PM_check")
			dv := v - anchor.start
			if (anchor.start < 6 && dv >= 4) || (anchor.start >= 6 && dv >= 8) {
				return []Trigger{PMOn}
			}
		}
	default:
		delete(d.delay, "PM_check")
		// This branch is keyed on a==0 regardless of b, so b=1,a=0 also
		// counts toward PM_off_wait.
		if d.step("PM_off_wait", !a) >= 0.5 {
			return []Trigger{PMOff}
		}
	}
	return nil
}

// detectSA — rapid acceleration.
func (d *Detector) detectSA(a, b bool, v float64) []Trigger {
	var out []Trigger
	if a && !b {
		anchor, ok := d.delay["SA_pre"]
		if !ok {
			anchor = delayAnchor{start: v}
		}
		anchor.elapsed = advance(anchor.elapsed)
		d.delay["SA_pre"] = anchor
		if anchor.elapsed >= 0.5 {
			delete(d.delay, "SA_pre")
			dv := v - anchor.start
			if (anchor.start < 6 && dv >= 2) || (anchor.start >= 6 && dv >= 4) {
				out = append(out, SAOn)
			}
		}
	} else {
		delete(d.delay, "SA_pre")
	}

	// SA off-wait: unlike every other off-wait timer, this one is reset to
	// zero immediately after firing.
	if d.step("SA_off_wait", !a) >= 0.5 {
		out = append(out, SAOff)
		d.timer["SA_off_wait"] = 0
	}
	return out
}

// detectSB — hard braking.
func (d *Detector) detectSB(b bool, v float64) []Trigger {
	var out []Trigger
	if v >= 6 && b {
		if d.step("SB_pre", true) >= 0.3 {
			cutoff := d.currentTime - 0.3
			for _, e := range d.history.since(cutoff) {
				if e.Pressure >= 300 {
					out = append(out, SBOn)
					break
				}
			}
		}
	} else {
		d.step("SB_pre", false)
	}

	if d.step("SB_off_wait", !b) >= 0.3 {
		out = append(out, SBOff)
	}
	return out
}

// detectDD — drowsy driving.
func (d *Detector) detectDD(a, b bool, v, tq, ang, rate float64) []Trigger {
	cond := v >= 6 && !a && !b && math.Abs(tq) < 1.0 && math.Abs(ang) < 3.0 && math.Abs(rate) < 30

	if cond {
		if d.step("DD_count", true) >= 3.0 {
			return []Trigger{DDOn}
		}
		return nil
	}

	d.step("DD_count", false)
	if d.step("DD_off_wait", a || b) >= 0.3 {
		return []Trigger{DDOff}
	}
	return nil
}

// detectSH — sharp steering.
func (d *Detector) detectSH(v, rate float64) []Trigger {
	var out []Trigger
	if v >= 6 && math.Abs(rate) >= 100 {
		recent := d.history.since(d.currentTime - 0.3)
		if len(recent) >= 2 {
			lo, hi := recent[0].Angle, recent[0].Angle
			for _, e := range recent[1:] {
				if e.Angle < lo {
					lo = e.Angle
				}
				if e.Angle > hi {
					hi = e.Angle
				}
			}
			if hi-lo > 30 {
				out = append(out, SHOn)
			}
		}
	}

	if d.step("SH_off_wait", math.Abs(rate) < 10) >= 1.0 {
		out = append(out, SHOff)
	}
	return out
}
