package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	TypeAuditLog          EventType = "AUDIT_LOG"
	TypeJobUpdate         EventType = "JOB_UPDATE"
	TypeUserActivity      EventType = "USER_ACTIVITY"
	TypeApplicationStatus EventType = "APPLICATION_STATUS"
)

// Known reports whether t is one of the types the pipeline routes to a handler.
func (t EventType) Known() bool {
	switch t {
	case TypeAuditLog, TypeJobUpdate, TypeUserActivity, TypeApplicationStatus:
		return true
	}
	return false
}

const (
	TopicAdminEvents = "admin-events-topic"
	StatusLogged     = "LOGGED"

	HeaderEventType = "eventType"
	HeaderEventID   = "eventId"
	HeaderAttempt   = "attempt"
)

var ErrMalformed = errors.New("malformed activity event")

// ActivityEvent is immutable once published.
type ActivityEvent struct {
	EventID        string    `json:"eventId"`
	EventType      EventType `json:"eventType"`
	ActorID        string    `json:"actorId,omitempty"`
	Action         string    `json:"action"`
	TargetResource string    `json:"targetResource"`
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
}

func (e ActivityEvent) Validate() error {
	if strings.TrimSpace(e.EventID) == "" {
		return fmt.Errorf("%w: eventId is required", ErrMalformed)
	}
	if strings.TrimSpace(string(e.EventType)) == "" {
		return fmt.Errorf("%w: eventType is required", ErrMalformed)
	}
	return nil
}

func Encode(e ActivityEvent) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// Decode parses a channel record. Unknown event types decode successfully.
func Decode(data []byte) (ActivityEvent, error) {
	var e ActivityEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return ActivityEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	e.EventType = EventType(strings.TrimSpace(string(e.EventType)))
	if err := e.Validate(); err != nil {
		return ActivityEvent{}, err
	}
	return e, nil
}

func Headers(e ActivityEvent) map[string]string {
	return map[string]string{
		HeaderEventType: string(e.EventType),
		HeaderEventID:   e.EventID,
	}
}

// Stamper assigns event ids and timestamps that never go backwards for a
// single producer, even if the wall clock does.
type Stamper struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewStamper(now func() time.Time) *Stamper {
	if now == nil {
		now = time.Now
	}
	return &Stamper{now: now}
}

func (s *Stamper) Stamp(e ActivityEvent) ActivityEvent {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.next()
	}
	return e
}

func (s *Stamper) next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.now().UTC()
	if ts.Before(s.last) {
		ts = s.last
	}
	s.last = ts
	return ts
}
