package ledger

import (
	"context"
	"sync"
)

// Store is the durable backend of a Ledger. It persists fully-formed events;
// sequence assignment and hash chaining are owned by the Ledger itself, so a
// Store never reorders or rewrites what it is given.
type Store interface {
	// Append persists a committed event. Must be durable before returning.
	Append(ctx context.Context, e Event) error

	// Scan returns events with sequence_no > sinceSeq in ascending order.
	// Each call starts fresh and reflects only committed events.
	Scan(ctx context.Context, sinceSeq uint64) ([]Event, error)

	// Last returns the most recently committed event, if any.
	Last(ctx context.Context) (Event, bool, error)

	// Close releases backend resources.
	Close() error
}

// MemoryStore keeps events in process memory. Used in tests and for
// ephemeral deployments where durability is not required.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make([]Event, 0)}
}

func (s *MemoryStore) Append(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *MemoryStore) Scan(_ context.Context, sinceSeq uint64) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, 0, len(s.events))
	for _, e := range s.events {
		if e.Seq > sinceSeq {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) Last(_ context.Context) (Event, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return Event{}, false, nil
	}
	return s.events[len(s.events)-1], true, nil
}

func (s *MemoryStore) Close() error { return nil }

// Tamper overwrites a stored event in place. Only for integrity tests; a real
// backend has no mutation path.
func (s *MemoryStore) Tamper(index int, mutate func(*Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index >= 0 && index < len(s.events) {
		mutate(&s.events[index])
	}
}
