package handlers

import (
	"context"
	"sync"
	"time"

	"jobportal-admin/shared/events"
)

type Entry struct {
	Category string
	Event    events.ActivityEvent
}

type Projection struct {
	Status      string
	LastEventID string
	ChangedBy   string
	ChangedAt   time.Time
}

// MemoryStore is an in-process LogStore and ProjectionStore for runs without
// a database.
type MemoryStore struct {
	mu          sync.Mutex
	seen        map[string]struct{}
	entries     []Entry
	projections map[string]Projection
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seen:        make(map[string]struct{}),
		projections: make(map[string]Projection),
	}
}

func (s *MemoryStore) Append(_ context.Context, category string, ev events.ActivityEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[ev.EventID]; ok {
		return false, nil
	}
	s.seen[ev.EventID] = struct{}{}
	s.entries = append(s.entries, Entry{Category: category, Event: ev})
	return true, nil
}

func (s *MemoryStore) ApplyStatus(_ context.Context, ev events.ActivityEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.projections[ev.TargetResource]; ok && !ev.Timestamp.After(cur.ChangedAt) {
		return false, nil
	}
	s.projections[ev.TargetResource] = Projection{
		Status:      ev.Status,
		LastEventID: ev.EventID,
		ChangedBy:   ev.ActorID,
		ChangedAt:   ev.Timestamp,
	}
	return true, nil
}

func (s *MemoryStore) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

func (s *MemoryStore) Projection(applicationID string) (Projection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projections[applicationID]
	return p, ok
}
