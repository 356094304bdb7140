// Package ingest owns the dedup filter, slot accumulator, and event
// detector/arbiter for the lifetime of one session, and orchestrates them
// around a line-oriented frame source.
package ingest

import (
	"context"
	"errors"
	"strings"

	"github.com/ba-nh/canmonitor/internal/decode"
	"github.com/ba-nh/canmonitor/internal/detect"
	"github.com/ba-nh/canmonitor/internal/frame"
)

// Source supplies successive textual lines from the serial link. ReadLine
// returns a non-nil error (io.EOF included) once the link is exhausted or
// closed; the loop treats any such error as the end of the session, except
// ErrSourceClosed and context.Canceled, which it treats as a clean
// shutdown. A Source that can lose and regain its connection (such as
// SerialSource) is expected to block inside ReadLine across a drop rather
// than return an error for it, so only a deliberate Close ends ingestion.
type Source interface {
	ReadLine() (string, error)
}

// Publisher fans a finalized SlotRecord out to every configured sink.
type Publisher interface {
	Publish(rec SlotRecord)
}

// Metrics receives counters the ingest loop updates as it runs. A nil
// Metrics is valid: every call site guards against it.
type Metrics interface {
	DuplicateFrameDropped(id uint16)
	MalformedFrame()
	SlotFinalized()
	RecordTriggers(triggers []detect.Trigger, active string)
}

// Loop is the Ingest Loop: it owns the dedup filter, slot accumulator,
// event detector, and priority arbitrator for one session, and is their
// sole mutator — matching the single-threaded cooperative ingest model.
type Loop struct {
	source   Source
	decoder  decode.Decoder
	dedup    *Dedup
	slots    *SlotAccumulator
	detector *detect.Detector
	arbiter  *detect.Arbiter
	sink     Publisher
	metrics  Metrics
}

// New creates a Loop from its external collaborators. sink and metrics may
// be nil.
func New(source Source, decoder decode.Decoder, sink Publisher, metrics Metrics) *Loop {
	return &Loop{
		source:   source,
		decoder:  decoder,
		dedup:    NewDedup(),
		slots:    NewSlotAccumulator(),
		detector: detect.New(),
		arbiter:  detect.NewArbiter(),
		sink:     sink,
		metrics:  metrics,
	}
}

// Detector exposes the loop's detector for checkpoint snapshot/restore.
func (l *Loop) Detector() *detect.Detector { return l.detector }

// Arbiter exposes the loop's arbiter for checkpoint snapshot/restore.
func (l *Loop) Arbiter() *detect.Arbiter { return l.arbiter }

// Slots exposes the loop's slot accumulator for checkpoint snapshot/restore.
func (l *Loop) Slots() *SlotAccumulator { return l.slots }

// Run processes lines from source until ctx is cancelled or the source is
// exhausted. Cancellation discards the in-progress slot without emitting
// it: no partial slot is ever published.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := l.source.ReadLine()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrSourceClosed) {
				return nil
			}
			return err
		}
		l.processLine(line)
	}
}

func (l *Loop) processLine(line string) {
	if !frame.ShouldParse(line) {
		return
	}
	f, err := frame.Parse(line)
	if err != nil {
		l.noteMalformed()
		return
	}

	if !l.dedup.Accept(f.ID, f.IsHeartbeat(), f.Payload) {
		l.noteDuplicate(f.ID)
		return
	}

	if f.IsHeartbeat() {
		l.onHeartbeat()
		return
	}

	signals := l.decoder.Decode(f.ID, f.Payload)
	l.slots.Merge(signals)
}

func (l *Loop) onHeartbeat() {
	rec := l.slots.Finalize()

	in := detectInputFrom(rec.Signals)
	triggers := l.detector.Detect(in)
	filtered := l.arbiter.Apply(triggers)
	rec.Trigger = formatTrigger(filtered)
	rec.Event = l.arbiter.ActiveEvent()

	l.noteSlotFinalized()
	l.noteTriggers(filtered, rec.Event)
	if l.sink != nil {
		l.sink.Publish(rec)
	}
}

// detectInputFrom maps the slot's accumulated signals onto detector input.
// ACCELERATOR_PEDAL_PRESSED and BRAKE_PRESSED are nil until the signal has
// been observed at least once this session (or its latest value is
// non-numeric), matching the "absent core signal" guard in spec §4.4 and
// §7's MissingCoreSignal: the detector must see nil, not a defaulted 0, or
// it would start evaluating conditions before any pedal signal ever
// arrived. SPEED is never absent — it is a derived attribute that is 0
// by definition until all four wheel speeds are present (spec §3
// invariant 3), so it is always passed as a concrete value.
func detectInputFrom(t *SignalTable) detect.Input {
	numPtr := func(name string) *float64 {
		if v, ok := t.Get(name); ok && v.IsNumber {
			val := v.Number
			return &val
		}
		return nil
	}
	numOr := func(name string, fallback float64) float64 {
		if v, ok := t.Get(name); ok && v.IsNumber {
			return v.Number
		}
		return fallback
	}

	speed := t.Speed()

	return detect.Input{
		Accel:    numPtr("ACCELERATOR_PEDAL_PRESSED"),
		Brake:    numPtr("BRAKE_PRESSED"),
		Speed:    &speed,
		Pressure: numOr("BRAKE_PRESSURE", 0),
		Angle:    numOr("STEERING_ANGLE_2", 0),
		Rate:     numOr("STEERING_RATE", 0),
		Torque:   numOr("STEERING_COL_TORQUE", 0),
	}
}

// formatTrigger comma-joins the arbitrated trigger list, or "none" if empty.
func formatTrigger(triggers []detect.Trigger) string {
	if len(triggers) == 0 {
		return "none"
	}
	parts := make([]string, len(triggers))
	for i, t := range triggers {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}

func (l *Loop) noteMalformed() {
	if l.metrics != nil {
		l.metrics.MalformedFrame()
	}
}

func (l *Loop) noteDuplicate(id uint16) {
	if l.metrics != nil {
		l.metrics.DuplicateFrameDropped(id)
	}
}

func (l *Loop) noteSlotFinalized() {
	if l.metrics != nil {
		l.metrics.SlotFinalized()
	}
}

func (l *Loop) noteTriggers(triggers []detect.Trigger, active string) {
	if l.metrics != nil {
		l.metrics.RecordTriggers(triggers, active)
	}
}
