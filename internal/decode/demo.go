package decode

import (
	"math"
)

// Demo CAN ids for the signals this spec's detector cares about. A real
// vendor DB assigns arbitrary ids; these are only meaningful to the Demo
// decoder itself.
const (
	idPedals    uint16 = 0x100
	idSteering  uint16 = 0x101
	idWheelSpds uint16 = 0x102
)

// Demo is a table-free decoder that fabricates plausible driving-behavior
// signals, mirroring the teacher's ecu.DemoProvider: it lets the rest of the
// pipeline run end to end without a real vendor message database. It is the
// default collaborator for decoder.type: demo.
type Demo struct{}

// NewDemo creates a new Demo decoder.
func NewDemo() *Demo { return &Demo{} }

// NewDecoder builds the configured decoder. Only "demo" is implemented; a
// real decode-table-backed decoder is out of scope, so any other value
// also falls back to Demo rather than failing startup over it.
func NewDecoder(kind string) Decoder {
	return NewDemo()
}

func (d *Demo) Decode(id uint16, payload []byte) SignalMap {
	switch id {
	case idPedals:
		return d.decodePedals(payload)
	case idSteering:
		return d.decodeSteering(payload)
	case idWheelSpds:
		return d.decodeWheelSpeeds(payload)
	default:
		return SignalMap{}
	}
}

func (d *Demo) decodePedals(payload []byte) SignalMap {
	if len(payload) < 2 {
		return SignalMap{}
	}
	return SignalMap{
		"ACCELERATOR_PEDAL_PRESSED": Num(float64(payload[0])),
		"BRAKE_PRESSED":             Num(float64(payload[1] & 0x1)),
		"BRAKE_PRESSURE":            Num(float64(payload[1]>>1) * 10),
	}
}

func (d *Demo) decodeSteering(payload []byte) SignalMap {
	if len(payload) < 3 {
		return SignalMap{}
	}
	angle := float64(int8(payload[0]))
	rate := float64(int8(payload[1]))
	torque := float64(int8(payload[2])) / 10
	return SignalMap{
		"STEERING_ANGLE_2":    Num(angle),
		"STEERING_RATE":       Num(rate),
		"STEERING_COL_TORQUE": Num(torque),
	}
}

func (d *Demo) decodeWheelSpeeds(payload []byte) SignalMap {
	if len(payload) < 4 {
		return SignalMap{}
	}
	return SignalMap{
		"WHEEL_SPEED_1": Num(float64(payload[0])),
		"WHEEL_SPEED_2": Num(float64(payload[1])),
		"WHEEL_SPEED_3": Num(float64(payload[2])),
		"WHEEL_SPEED_4": Num(float64(payload[3])),
	}
}

// SimulatePedals builds a plausible payload for idPedals given desired
// accelerator/brake states, for use by a simulator/test harness that drives
// the demo decoder end to end.
func SimulatePedals(accel bool, brake bool, pressureKpa float64) (uint16, []byte) {
	a := byte(0)
	if accel {
		a = 1
	}
	b := byte(0)
	if brake {
		b = 1
	}
	p := byte(pressureKpa / 10)
	return idPedals, []byte{a, b<<0 | p<<1}
}

// SimulateWheelSpeeds builds a payload carrying four equal wheel-speed readings.
func SimulateWheelSpeeds(speedKph float64) (uint16, []byte) {
	s := byte(math.Min(255, math.Max(0, speedKph)))
	return idWheelSpds, []byte{s, s, s, s}
}

// SimulateSteering builds a payload for angle/rate/torque.
func SimulateSteering(angle, rate, torque float64) (uint16, []byte) {
	clamp := func(v float64) byte { return byte(int8(math.Min(127, math.Max(-128, v)))) }
	return idSteering, []byte{clamp(angle), clamp(rate), clamp(torque * 10)}
}
