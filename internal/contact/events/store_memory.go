package events

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryStore) ClaimUnpublished(_ context.Context, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	claimed := []Event{}
	for _, e := range s.events {
		if len(claimed) == limit {
			break
		}
		if e.PublishedAt == nil {
			claimed = append(claimed, e)
		}
	}
	return claimed, nil
}

func (s *InMemoryStore) MarkPublished(_ context.Context, ids []uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.events {
		if slices.Contains(ids, s.events[i].ID) {
			published := at
			s.events[i].PublishedAt = &published
		}
	}
	return nil
}

func (s *InMemoryStore) CountUnpublished(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.events {
		if e.PublishedAt == nil {
			n++
		}
	}
	return n, nil
}

// All returns a copy of every recorded event in append order.
func (s *InMemoryStore) All() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events)
}

// Clear drops every recorded event.
func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
