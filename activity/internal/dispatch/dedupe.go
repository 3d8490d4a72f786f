package dispatch

import (
	"context"
	"sync"
	"time"
)

// DefaultClaimLease bounds how long an unconfirmed claim hides an event id.
const DefaultClaimLease = 2 * time.Minute

// MemoryDeduper keeps claims in process. It is used when no Redis is
// configured and only protects a single dispatcher instance.
type MemoryDeduper struct {
	mu     sync.Mutex
	lease  time.Duration
	ttl    time.Duration
	claims map[string]time.Time
	now    func() time.Time
}

func NewMemoryDeduper(lease time.Duration, ttl time.Duration) *MemoryDeduper {
	if lease <= 0 {
		lease = DefaultClaimLease
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryDeduper{lease: lease, ttl: ttl, claims: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryDeduper) Claim(_ context.Context, eventID string) (bool, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, exp := range m.claims {
		if !now.Before(exp) {
			delete(m.claims, id)
		}
	}
	if _, taken := m.claims[eventID]; taken {
		return false, nil
	}
	m.claims[eventID] = now.Add(m.lease)
	return true, nil
}

func (m *MemoryDeduper) Confirm(_ context.Context, eventID string) error {
	now := m.now()
	m.mu.Lock()
	m.claims[eventID] = now.Add(m.ttl)
	m.mu.Unlock()
	return nil
}

func (m *MemoryDeduper) Release(_ context.Context, eventID string) error {
	m.mu.Lock()
	delete(m.claims, eventID)
	m.mu.Unlock()
	return nil
}
