package reasoning

import (
	"sync"

	"github.com/xiaot623/gogo/runview/internal/domain"
)

// EventStore is an append-only log of normalized events keyed by run id.
// It has no eviction beyond Clear and ClearOne.
type EventStore struct {
	mu    sync.RWMutex
	runs  map[string][]domain.ReasoningEvent
	order []string
}

// NewEventStore creates an empty store.
func NewEventStore() *EventStore {
	return &EventStore{runs: make(map[string][]domain.ReasoningEvent)}
}

// Append adds an event to the run's log, creating the log if absent.
func (s *EventStore) Append(runID string, ev domain.ReasoningEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[runID]; !ok {
		s.order = append(s.order, runID)
	}
	s.runs[runID] = append(s.runs[runID], ev)
}

// Events returns a copy of the run's log in insertion order.
func (s *EventStore) Events(runID string) []domain.ReasoningEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.runs[runID]
	out := make([]domain.ReasoningEvent, len(events))
	copy(out, events)
	return out
}

// Has reports whether any event was recorded for the run.
func (s *EventStore) Has(runID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.runs[runID]
	return ok
}

// RunIDs returns the run ids in first-append order.
func (s *EventStore) RunIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Clear drops every run's history. Called on session switch.
func (s *EventStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = make(map[string][]domain.ReasoningEvent)
	s.order = nil
}

// ClearOne drops a single run's history. Called when a new run starts within
// the same session so stale events never mix into it.
func (s *EventStore) ClearOne(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[runID]; !ok {
		return
	}
	delete(s.runs, runID)
	for i, id := range s.order {
		if id == runID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
