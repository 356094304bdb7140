// Package decode defines the signal-decoder collaborator contract
// and a demo decoder usable without a real vendor CAN-DB.
package decode

import "github.com/ba-nh/canmonitor/internal/frame"

// Value is a duck-typed signal reading: either a number or free-form text.
// The detector consumes only the numeric arm; a textual value is treated as
// "signal missing" by anything that requires a number.
type Value struct {
	Number   float64
	IsNumber bool
	Text     string
}

// Num returns a numeric Value.
func Num(v float64) Value { return Value{Number: v, IsNumber: true} }

// Str returns a textual Value.
func Str(s string) Value { return Value{Text: s} }

// SignalMap maps signal name to decoded value. Keys are open: any name the
// decoder emits is admitted by downstream components.
type SignalMap map[string]Value

// Decoder maps (id, payload) to a SignalMap via a vendor message database.
// Implementations return an empty, non-nil SignalMap on any failure —
// An empty SignalMap is a normal outcome, not an error.
type Decoder interface {
	Decode(id uint16, payload []byte) SignalMap
}

// DecodeFrame is a convenience wrapper around Decoder.Decode for a parsed Frame.
func DecodeFrame(d Decoder, f frame.Frame) SignalMap {
	return d.Decode(f.ID, f.Payload)
}
