package eventlog

import (
	"context"
	"sync"
	"time"
)

// Store is the event-store contract (§4.2): append assigns the next
// per-flow seq and persists the event; list returns all events for a
// flow in ascending seq order. There are no deletes or updates.
type Store interface {
	Append(ctx context.Context, flowID string, kind Kind, payload any) (Event, error)
	List(ctx context.Context, flowID string) ([]Event, error)
}

// Clock abstracts time.Now for testability; ts is metadata only and
// never participates in a hash, but deterministic tests still want to
// control it.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// RealClock is the default Clock, backed by time.Now.
var RealClock Clock = realClock{}

// MemoryStore is an in-process, mutex-protected event store, grounded on
// the simple HashMap<Uuid,Vec<FlowEvent>>-with-len()-as-seq shape used by
// reference in-memory event stores: seq is always len(events) at append
// time, so it is monotonic and gap-free by construction.
type MemoryStore struct {
	mu     sync.Mutex
	clock  Clock
	events map[string][]Event
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string][]Event), clock: RealClock}
}

// WithClock overrides the store's clock, for deterministic tests.
func (s *MemoryStore) WithClock(c Clock) *MemoryStore {
	s.clock = c
	return s
}

func (s *MemoryStore) Append(_ context.Context, flowID string, kind Kind, payload any) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.events[flowID]
	seq := len(existing)
	ev := Event{
		Seq:     seq,
		FlowID:  flowID,
		Kind:    kind,
		TS:      s.clock.Now(),
		Payload: payload,
	}
	s.events[flowID] = append(existing, ev)
	return ev, nil
}

func (s *MemoryStore) List(_ context.Context, flowID string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.events[flowID]
	out := make([]Event, len(existing))
	copy(out, existing)
	return out, nil
}

// An unknown flow id simply has zero events on List; this matches the
// replay contract's expectation that loading a fresh flow id returns an
// empty, not an erroring, slice.
