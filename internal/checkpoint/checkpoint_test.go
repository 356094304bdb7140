package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ba-nh/canmonitor/internal/decode"
	"github.com/ba-nh/canmonitor/internal/detect"
	"github.com/ba-nh/canmonitor/internal/ingest"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "checkpoint.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreLoadMissingSessionReportsNotFound(t *testing.T) {
	store := openStore(t)
	_, found, err := store.Load("no-such-session")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreSaveThenLoadRoundTrips(t *testing.T) {
	store := openStore(t)
	in := State{
		SlotIndex: 42,
		Signals:   []SignalEntry{{Name: "BRAKE_PRESSED", Value: decode.Num(1)}},
		Detector:  detect.State{Timer: map[string]float64{"PM_wait": 0.3}, CurrentTime: 4.2},
		Arbiter:   map[detect.Event]bool{detect.PM: true},
	}
	require.NoError(t, store.Save("session-a", in))

	out, found, err := store.Load("session-a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, in.SlotIndex, out.SlotIndex)
	assert.Equal(t, in.Signals, out.Signals)
	assert.Equal(t, in.Detector.Timer, out.Detector.Timer)
	assert.Equal(t, in.Arbiter, out.Arbiter)
}

func newLoop() *ingest.Loop {
	return ingest.New(nil, decode.NewDemo(), nil, nil)
}

func TestCheckpointerWritesEveryNFinalizedSlots(t *testing.T) {
	store := openStore(t)
	loop := newLoop()
	clock := clockwork.NewFakeClock()
	cp := NewCheckpointer(store, loop, "session-b", 3, clock, zerolog.Nop())

	cp.Publish(ingest.SlotRecord{})
	cp.Publish(ingest.SlotRecord{})
	_, found, err := store.Load("session-b")
	require.NoError(t, err)
	assert.False(t, found, "must not write before reaching the cadence")

	cp.Publish(ingest.SlotRecord{})
	_, found, err = store.Load("session-b")
	require.NoError(t, err)
	assert.True(t, found, "must write on reaching the cadence")
}

func TestCheckpointerZeroCadenceNeverWrites(t *testing.T) {
	store := openStore(t)
	loop := newLoop()
	cp := NewCheckpointer(store, loop, "session-c", 0, clockwork.NewFakeClock(), zerolog.Nop())

	for i := 0; i < 10; i++ {
		cp.Publish(ingest.SlotRecord{})
	}
	_, found, err := store.Load("session-c")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSaveNowWritesImmediatelyRegardlessOfCadence(t *testing.T) {
	store := openStore(t)
	loop := newLoop()
	cp := NewCheckpointer(store, loop, "session-d", 50, clockwork.NewFakeClock(), zerolog.Nop())

	require.NoError(t, cp.SaveNow())
	_, found, err := store.Load("session-d")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestResumeRestoresSlotDetectorAndArbiterState(t *testing.T) {
	store := openStore(t)

	seedLoop := newLoop()
	seedLoop.Slots().Merge(decode.SignalMap{"BRAKE_PRESSED": decode.Num(1)})
	seedLoop.Detector().Restore(detect.State{
		Timer:       map[string]float64{"PM_wait": 0.7},
		CurrentTime: 3.1,
	})
	seedLoop.Arbiter().Restore(map[detect.Event]bool{detect.SA: true})
	cp := NewCheckpointer(store, seedLoop, "session-e", 1, clockwork.NewFakeClock(), zerolog.Nop())
	cp.Publish(ingest.SlotRecord{})

	freshLoop := newLoop()
	found, err := Resume(store, freshLoop, "session-e")
	require.NoError(t, err)
	require.True(t, found)

	v, ok := freshLoop.Slots().CurrentSignals().Get("BRAKE_PRESSED")
	require.True(t, ok)
	assert.Equal(t, 1.0, v.Number)
	assert.Equal(t, 3.1, freshLoop.Detector().Snapshot().CurrentTime)
	assert.True(t, freshLoop.Arbiter().State()[detect.SA])
}

func TestResumeMissingSessionReportsNotFoundWithoutError(t *testing.T) {
	store := openStore(t)
	loop := newLoop()
	found, err := Resume(store, loop, "never-saved")
	require.NoError(t, err)
	assert.False(t, found)
}

// pmHoldInput holds the accelerator and brake together, the condition
// detectPM escalates to PM_on once it has been held for a full second (ten
// 0.1s slots).
func pmHoldInput() detect.Input {
	a, b := true, true
	speed := 20.0
	return detect.Input{Accel: &a, Brake: &b, Speed: &speed}
}

// TestCheckpointRoundTripReproducesDetectorBehavior pins down the
// checkpoint round-trip property: saving mid-stream and resuming must
// reproduce the exact same triggers for the next ten slots as an
// uninterrupted run would have produced, including the PM_on edge that
// only fires once the held-pedal timer crosses 1.0s.
func TestCheckpointRoundTripReproducesDetectorBehavior(t *testing.T) {
	store := openStore(t)

	refDetector := detect.New()
	refArbiter := detect.NewArbiter()
	var want [][]detect.Trigger
	for i := 0; i < 18; i++ {
		want = append(want, refArbiter.Apply(refDetector.Detect(pmHoldInput())))
	}

	loopA := newLoop()
	for i := 0; i < 8; i++ {
		loopA.Arbiter().Apply(loopA.Detector().Detect(pmHoldInput()))
	}
	cp := NewCheckpointer(store, loopA, "session-rt", 1, clockwork.NewFakeClock(), zerolog.Nop())
	require.NoError(t, cp.SaveNow())

	loopB := newLoop()
	found, err := Resume(store, loopB, "session-rt")
	require.NoError(t, err)
	require.True(t, found)

	var got [][]detect.Trigger
	for i := 0; i < 10; i++ {
		got = append(got, loopB.Arbiter().Apply(loopB.Detector().Detect(pmHoldInput())))
	}

	assert.Equal(t, want[8:], got)
}
