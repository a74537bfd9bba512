package event

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercebridge/backend/internal/domain/integration"
)

func makeEvent(t *testing.T, resourceID string, receivedAt time.Time) *integration.WebhookEvent {
	t.Helper()
	e, err := integration.NewWebhookEvent(
		integration.EventTypeUpdated,
		integration.ResourceTypeOrder,
		resourceID,
		json.RawMessage(`{"id":"`+resourceID+`"}`),
		receivedAt,
	)
	require.NoError(t, err)
	return e
}

func TestMemoryEventStore(t *testing.T) {
	ctx := context.Background()

	t.Run("recent returns newest first", func(t *testing.T) {
		s := NewMemoryEventStore()
		base := time.Now()

		for i := 0; i < 5; i++ {
			require.NoError(t, s.Store(ctx, makeEvent(t, strconv.Itoa(i), base.Add(time.Duration(i)*time.Second))))
		}

		events, err := s.Recent(ctx, 3)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, "4", events[0].ResourceID)
		assert.Equal(t, "3", events[1].ResourceID)
		assert.Equal(t, "2", events[2].ResourceID)
	})

	t.Run("recent with zero limit returns everything", func(t *testing.T) {
		s := NewMemoryEventStore()
		require.NoError(t, s.Store(ctx, makeEvent(t, "a", time.Now())))
		require.NoError(t, s.Store(ctx, makeEvent(t, "b", time.Now())))

		events, err := s.Recent(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("multiple events per resource are all retained", func(t *testing.T) {
		s := NewMemoryEventStore()
		base := time.Now()
		require.NoError(t, s.Store(ctx, makeEvent(t, "42", base)))
		require.NoError(t, s.Store(ctx, makeEvent(t, "42", base.Add(time.Second))))

		events, err := s.Recent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.NotEqual(t, events[0].EventID, events[1].EventID)
	})

	t.Run("out of order stores keep recent and purge correct", func(t *testing.T) {
		now := time.Now()
		s := NewMemoryEventStore().WithClock(func() time.Time { return now })

		// Receipt timestamps deliberately not in store order.
		require.NoError(t, s.Store(ctx, makeEvent(t, "mid", now.Add(-time.Hour))))
		require.NoError(t, s.Store(ctx, makeEvent(t, "newest", now)))
		require.NoError(t, s.Store(ctx, makeEvent(t, "stale", now.Add(-48*time.Hour))))
		require.NoError(t, s.Store(ctx, makeEvent(t, "oldest", now.Add(-49*time.Hour))))

		events, err := s.Recent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 4)
		assert.Equal(t, "newest", events[0].ResourceID)
		assert.Equal(t, "mid", events[1].ResourceID)
		assert.Equal(t, "stale", events[2].ResourceID)
		assert.Equal(t, "oldest", events[3].ResourceID)

		removed, err := s.PurgeOlderThan(ctx, 24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		events, err = s.Recent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "newest", events[0].ResourceID)
		assert.Equal(t, "mid", events[1].ResourceID)
	})

	t.Run("purge removes only events past retention", func(t *testing.T) {
		now := time.Now()
		s := NewMemoryEventStore().WithClock(func() time.Time { return now })

		require.NoError(t, s.Store(ctx, makeEvent(t, "old", now.Add(-48*time.Hour))))
		require.NoError(t, s.Store(ctx, makeEvent(t, "older", now.Add(-25*time.Hour))))
		require.NoError(t, s.Store(ctx, makeEvent(t, "fresh", now.Add(-time.Hour))))

		removed, err := s.PurgeOlderThan(ctx, 24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 2, removed)
		assert.Equal(t, 1, s.Len())

		events, err := s.Recent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "fresh", events[0].ResourceID)
	})

	t.Run("purge on empty store", func(t *testing.T) {
		s := NewMemoryEventStore()
		removed, err := s.PurgeOlderThan(ctx, time.Hour)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})
}

func TestNoopEventStore(t *testing.T) {
	ctx := context.Background()
	s := NoopEventStore{}

	require.NoError(t, s.Store(ctx, makeEvent(t, "x", time.Now())))

	events, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	removed, err := s.PurgeOlderThan(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.NoError(t, s.Close())
}

func TestPurgerSweeps(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := NewMemoryEventStore().WithClock(func() time.Time { return now })

	require.NoError(t, s.Store(ctx, makeEvent(t, "expired", now.Add(-2*time.Hour))))
	require.NoError(t, s.Store(ctx, makeEvent(t, "live", now)))

	p := NewPurger(s, time.Hour, 10*time.Millisecond, nil)
	p.Start()
	defer p.Stop()

	assert.Eventually(t, func() bool {
		return s.Len() == 1
	}, time.Second, 10*time.Millisecond)
}
