package events

import (
	"context"
	"errors"
	"sync"
)

// ErrAlreadyEmitted is returned when a store is emitted twice
var ErrAlreadyEmitted = errors.New("event store already emitted")

// Store is the deferred event log of one manager call.
// Events are only delivered to the bus when Emit is called, so a caller can
// drop the store when a surrounding transaction fails.
type Store struct {
	mu      sync.Mutex
	bus     *Bus
	events  []Event
	emitted bool
}

// NewStore creates an empty store bound to a bus; a nil bus makes Emit a no-op
func NewStore(bus *Bus) *Store {
	return &Store{bus: bus}
}

// Add appends an event
func (s *Store) Add(name Name, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, Event{Name: name, Payload: payload})
}

// Events returns a copy of the recorded events in order
func (s *Store) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Names returns the names of the recorded events in order
func (s *Store) Names() []Name {
	events := s.Events()
	names := make([]Name, len(events))
	for i, e := range events {
		names[i] = e.Name
	}
	return names
}

// Emit delivers the recorded events to the bus subscribers, in order.
// A store can be emitted only once.
func (s *Store) Emit(ctx context.Context) error {
	s.mu.Lock()
	if s.emitted {
		s.mu.Unlock()
		return ErrAlreadyEmitted
	}
	s.emitted = true
	events := s.events
	s.mu.Unlock()

	if s.bus == nil {
		return nil
	}
	for _, e := range events {
		s.bus.dispatch(ctx, e)
	}
	return nil
}
