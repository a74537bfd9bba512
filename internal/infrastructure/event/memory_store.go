package event

import (
	"context"
	"sync"
	"time"

	"github.com/commercebridge/backend/internal/domain/integration"
)

// MemoryEventStore keeps events in process memory. It backs single-instance
// deployments and is the degraded mode when no durable store is configured;
// retention semantics match the durable store.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events []integration.WebhookEvent
	now    func() time.Time
}

// NewMemoryEventStore creates an empty in-memory event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{now: time.Now}
}

// WithClock replaces the time source. Retention tests use this to age
// events without sleeping.
func (s *MemoryEventStore) WithClock(now func() time.Time) *MemoryEventStore {
	s.now = now
	return s
}

// Store inserts one event, keeping the slice sorted by ReceivedAt.
// Concurrent ingestion can complete stores slightly out of timestamp
// order, so insertion walks back from the tail; in the common in-order
// case the walk is zero steps.
func (s *MemoryEventStore) Store(_ context.Context, event *integration.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := len(s.events)
	for i > 0 && s.events[i-1].ReceivedAt.After(event.ReceivedAt) {
		i--
	}
	s.events = append(s.events, integration.WebhookEvent{})
	copy(s.events[i+1:], s.events[i:])
	s.events[i] = *event
	return nil
}

// Recent returns up to limit events, newest first.
func (s *MemoryEventStore) Recent(_ context.Context, limit int) ([]integration.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}
	out := make([]integration.WebhookEvent, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}

// PurgeOlderThan removes events received more than age ago.
func (s *MemoryEventStore) PurgeOlderThan(_ context.Context, age time.Duration) (int, error) {
	cutoff := s.now().Add(-age)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Events are ordered by receipt time; find the first survivor.
	keep := 0
	for keep < len(s.events) && !s.events[keep].ReceivedAt.After(cutoff) {
		keep++
	}
	if keep == 0 {
		return 0, nil
	}
	removed := keep
	s.events = append([]integration.WebhookEvent(nil), s.events[keep:]...)
	return removed, nil
}

// Len returns the number of stored events.
func (s *MemoryEventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Close implements EventStore
func (s *MemoryEventStore) Close() error { return nil }

var _ EventStore = (*MemoryEventStore)(nil)
