// Package checkpoint persists an ingest session's detector/arbiter/slot
// state to a bbolt-backed store, so a restarted gateway can resume a session
// instead of starting detection over from a blank slate. It is purely a
// crash-resilience feature: nothing here is required for correctness, and
// the gateway behaves identically to a checkpoint-less build when disabled.
package checkpoint

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/ba-nh/canmonitor/internal/decode"
	"github.com/ba-nh/canmonitor/internal/detect"
	"github.com/ba-nh/canmonitor/internal/ingest"
)

var bucketName = []byte("checkpoints")

// SignalEntry preserves a SignalTable's first-seen order across a
// gob round-trip, since map iteration order is not stable.
type SignalEntry struct {
	Name  string
	Value decode.Value
}

// State is the serializable snapshot of one session's ingest state: the
// in-progress slot index and its carried-forward signals, the detector's
// timers/delays/history, and the arbiter's active-event vector.
type State struct {
	SlotIndex uint64
	Signals   []SignalEntry
	Detector  detect.State
	Arbiter   map[detect.Event]bool
	SavedAt   time.Time
}

// Store is a bbolt database holding one checkpoint per session id in a
// single "checkpoints" bucket.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the checkpoint database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint: init bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying bbolt database.
func (s *Store) Close() error { return s.db.Close() }

// Save gob-encodes st and writes it under sessionID, replacing any prior
// checkpoint for that session.
func (s *Store) Save(sessionID string, st State) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(st); err != nil {
		return fmt.Errorf("checkpoint: encode: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(sessionID), buf.Bytes())
	})
}

// Load reads back sessionID's checkpoint. found is false with a nil error
// when no checkpoint exists yet for that session.
func (s *Store) Load(sessionID string) (st State, found bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(sessionID))
		if v == nil {
			return nil
		}
		found = true
		return gob.NewDecoder(bytes.NewReader(v)).Decode(&st)
	})
	if err != nil {
		return State{}, false, fmt.Errorf("checkpoint: load %s: %w", sessionID, err)
	}
	return st, found, nil
}

// Checkpointer is a sink.Sink that snapshots an ingest Loop's state into a
// Store every N finalized slots it observes go by. Wiring it as a Sink
// keeps checkpoint writes on the ingest loop's own single-threaded call
// path rather than introducing a second state-mutating goroutine.
type Checkpointer struct {
	store       *Store
	loop        *ingest.Loop
	sessionID   string
	everyNSlots int
	clock       clockwork.Clock
	log         zerolog.Logger

	sinceLast int
}

// NewCheckpointer builds a Checkpointer that writes every everyNSlots
// finalized slots. clock is used only to timestamp the saved state,
// letting tests assert it deterministically with a fake clock.
func NewCheckpointer(store *Store, loop *ingest.Loop, sessionID string, everyNSlots int, clock clockwork.Clock, log zerolog.Logger) *Checkpointer {
	return &Checkpointer{
		store:       store,
		loop:        loop,
		sessionID:   sessionID,
		everyNSlots: everyNSlots,
		clock:       clock,
		log:         log,
	}
}

// Publish implements sink.Sink. Every finalized slot counts toward the
// next checkpoint write; the record's contents are never inspected, since
// the checkpoint reads the loop's live state directly.
func (c *Checkpointer) Publish(ingest.SlotRecord) {
	c.sinceLast++
	if c.everyNSlots <= 0 || c.sinceLast < c.everyNSlots {
		return
	}
	c.sinceLast = 0
	if err := c.SaveNow(); err != nil {
		c.log.Error().Err(err).Msg("checkpoint save failed")
	}
}

// SaveNow snapshots and writes the loop's current state immediately,
// independent of the slot-count cadence. Called once more on clean
// shutdown so the last few slots since the prior cadence write are not lost.
func (c *Checkpointer) SaveNow() error {
	return c.store.Save(c.sessionID, snapshot(c.loop, c.clock))
}

func snapshot(loop *ingest.Loop, clock clockwork.Clock) State {
	tbl := loop.Slots().CurrentSignals()
	names := tbl.Names()
	signals := make([]SignalEntry, 0, len(names))
	for _, name := range names {
		v, _ := tbl.Get(name)
		signals = append(signals, SignalEntry{Name: name, Value: v})
	}
	return State{
		SlotIndex: loop.Slots().SlotIndex(),
		Signals:   signals,
		Detector:  loop.Detector().Snapshot(),
		Arbiter:   loop.Arbiter().State(),
		SavedAt:   clock.Now(),
	}
}

// Resume loads sessionID's checkpoint, if any, and restores the loop's
// slot accumulator, detector, and arbiter from it. The bool return reports
// whether a checkpoint existed; false with a nil error means start fresh.
func Resume(store *Store, loop *ingest.Loop, sessionID string) (bool, error) {
	st, found, err := store.Load(sessionID)
	if err != nil || !found {
		return found, err
	}

	tbl := ingest.NewSignalTable()
	for _, e := range st.Signals {
		tbl.Set(e.Name, e.Value)
	}
	loop.Slots().Restore(st.SlotIndex, tbl)
	loop.Detector().Restore(st.Detector)
	loop.Arbiter().Restore(st.Arbiter)
	return true, nil
}
