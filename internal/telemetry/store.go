package telemetry

import (
	"fmt"
	"iter"
	"sync"
	"time"

	"roverswarm/internal/fleet"
)

// Store is the shared, concurrency-safe telemetry state.
type Store interface {
	// Update replaces the payload and last-seen time of a robot and
	// recomputes its connectivity at now.
	Update(id fleet.Identity, payload Payload, now time.Time) error
	// Reclassify recomputes connectivity at now and writes it only if it
	// changed. It reports whether a transition happened.
	Reclassify(id fleet.Identity, now time.Time) (Event, bool, error)
	// Read returns a deep-copied snapshot of one record.
	Read(id fleet.Identity) (Record, error)
	// ReadAll yields snapshots in registry order.
	ReadAll() iter.Seq[Record]
}

// Listener receives store events. It is called outside the record lock, so
// it may read the store, and may be invoked concurrently for different
// robots. Events of one robot are delivered one at a time in the order the
// record changed. A listener must not write the robot it is notified about.
type Listener func(Event)

type entry struct {
	// notifyMu is held from the write until its event is delivered; it is
	// always taken before mu.
	notifyMu sync.Mutex
	mu       sync.Mutex
	rec      Record
}

// MemoryStore keeps one record per robot, each guarded by its own mutex.
// Updates to one robot are linearizable; there is no ordering across robots.
type MemoryStore struct {
	entries  []*entry
	listener Listener
}

// NewMemoryStore creates a record per identity of reg, all Disconnected and
// never seen. listener may be nil.
func NewMemoryStore(reg *fleet.Registry, listener Listener) *MemoryStore {
	s := &MemoryStore{entries: make([]*entry, 0, reg.Len()), listener: listener}
	for id := range reg.All() {
		s.entries = append(s.entries, &entry{rec: Record{
			Identity:     id,
			Payload:      Payload{},
			Connectivity: Disconnected,
		}})
	}
	return s
}

func (s *MemoryStore) lookup(id fleet.Identity) (*entry, error) {
	if id.Index < 0 || id.Index >= len(s.entries) {
		return nil, fmt.Errorf("%w: %v", ErrUnknownRobot, id)
	}
	e := s.entries[id.Index]
	// identity is immutable after construction, no lock needed
	if e.rec.Identity != id {
		return nil, fmt.Errorf("%w: %v", ErrUnknownRobot, id)
	}
	return e, nil
}

// Update implements Store.
func (s *MemoryStore) Update(id fleet.Identity, payload Payload, now time.Time) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	stored := payload.Clone()
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	e.mu.Lock()
	prev := e.rec.Connectivity
	e.rec.Payload = stored
	e.rec.LastSeenAt = now
	e.rec.Connectivity = classifyAt(now, now)
	cur := e.rec.Connectivity
	e.mu.Unlock()

	s.notify(Event{Kind: EventSample, Robot: id, Previous: prev, Current: cur, At: now})
	return nil
}

// Reclassify implements Store.
func (s *MemoryStore) Reclassify(id fleet.Identity, now time.Time) (Event, bool, error) {
	e, err := s.lookup(id)
	if err != nil {
		return Event{}, false, err
	}
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	e.mu.Lock()
	prev := e.rec.Connectivity
	cur := classifyAt(e.rec.LastSeenAt, now)
	if cur == prev {
		e.mu.Unlock()
		return Event{}, false, nil
	}
	e.rec.Connectivity = cur
	e.mu.Unlock()

	ev := Event{Kind: EventConnectivity, Robot: id, Previous: prev, Current: cur, At: now}
	s.notify(ev)
	return ev, true, nil
}

// Read implements Store.
func (s *MemoryStore) Read(id fleet.Identity) (Record, error) {
	e, err := s.lookup(id)
	if err != nil {
		return Record{}, err
	}
	return e.snapshot(), nil
}

// ReadAll implements Store.
func (s *MemoryStore) ReadAll() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for _, e := range s.entries {
			if !yield(e.snapshot()) {
				return
			}
		}
	}
}

func (e *entry) snapshot() Record {
	e.mu.Lock()
	rec := e.rec
	e.mu.Unlock()
	// the stored payload map is replaced, never mutated, so cloning after
	// unlock still observes a consistent sample
	rec.Payload = rec.Payload.Clone()
	return rec
}

func (s *MemoryStore) notify(ev Event) {
	if s.listener != nil {
		s.listener(ev)
	}
}
