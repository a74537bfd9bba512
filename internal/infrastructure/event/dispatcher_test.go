package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercebridge/backend/internal/domain/integration"
)

// collector records delivered events for assertions
type collector struct {
	mu     sync.Mutex
	events []*integration.WebhookEvent
}

func (c *collector) handle(_ context.Context, event *integration.WebhookEvent) error {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
	return nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) resourceIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.events))
	for _, e := range c.events {
		ids = append(ids, e.ResourceID)
	}
	return ids
}

func newTestDispatcher(t *testing.T, queueSize, workers int) *Dispatcher {
	t.Helper()
	d := NewDispatcher(queueSize, workers, nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	})
	return d
}

func TestDispatcherRouting(t *testing.T) {
	t.Run("exact topic", func(t *testing.T) {
		d := newTestDispatcher(t, 16, 1)
		c := &collector{}
		d.Subscribe("Order.updated", c.handle)
		d.Start()

		d.Notify(makeEvent(t, "1", time.Now()))

		assert.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("resource wildcard", func(t *testing.T) {
		d := newTestDispatcher(t, 16, 1)
		c := &collector{}
		d.Subscribe("Order.*", c.handle)
		d.Start()

		d.Notify(makeEvent(t, "1", time.Now()))

		assert.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("match all wildcard", func(t *testing.T) {
		d := newTestDispatcher(t, 16, 1)
		c := &collector{}
		d.Subscribe("*.*", c.handle)
		d.Start()

		d.Notify(makeEvent(t, "1", time.Now()))

		assert.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("non matching topic is not delivered", func(t *testing.T) {
		d := newTestDispatcher(t, 16, 1)
		matched := &collector{}
		unmatched := &collector{}
		d.Subscribe("Order.updated", matched.handle)
		d.Subscribe("Shipment.created", unmatched.handle)
		d.Start()

		d.Notify(makeEvent(t, "1", time.Now()))

		require.Eventually(t, func() bool { return matched.count() == 1 }, time.Second, 5*time.Millisecond)
		assert.Zero(t, unmatched.count())
	})
}

func TestDispatcherHandlerIsolation(t *testing.T) {
	t.Run("panicking handler does not block the rest", func(t *testing.T) {
		d := newTestDispatcher(t, 16, 1)
		c := &collector{}
		d.Subscribe("Order.updated", func(ctx context.Context, e *integration.WebhookEvent) error {
			panic("boom")
		})
		d.Subscribe("Order.updated", c.handle)
		d.Start()

		d.Notify(makeEvent(t, "1", time.Now()))
		d.Notify(makeEvent(t, "2", time.Now()))

		assert.Eventually(t, func() bool { return c.count() == 2 }, time.Second, 5*time.Millisecond)
	})

	t.Run("failing handler does not block the rest", func(t *testing.T) {
		d := newTestDispatcher(t, 16, 1)
		c := &collector{}
		d.Subscribe("Order.updated", func(ctx context.Context, e *integration.WebhookEvent) error {
			return assert.AnError
		})
		d.Subscribe("Order.updated", c.handle)
		d.Start()

		d.Notify(makeEvent(t, "1", time.Now()))

		assert.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)
	})
}

func TestDispatcherDropOldest(t *testing.T) {
	// Workers not started yet, so the queue fills deterministically.
	d := newTestDispatcher(t, 2, 1)
	c := &collector{}
	d.Subscribe("Order.*", c.handle)

	d.Notify(makeEvent(t, "first", time.Now()))
	d.Notify(makeEvent(t, "second", time.Now()))
	d.Notify(makeEvent(t, "third", time.Now()))

	stats := d.Stats()
	assert.Equal(t, int64(1), stats.Dropped)
	assert.Equal(t, 2, stats.QueueDepth)

	d.Start()

	assert.Eventually(t, func() bool { return c.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"second", "third"}, c.resourceIDs(),
		"the oldest event is the one evicted")
}

func TestDispatcherStop(t *testing.T) {
	d := NewDispatcher(16, 2, nil, nil)
	d.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))

	// Stop is idempotent.
	require.NoError(t, d.Stop(ctx))
}

func TestDispatcherStats(t *testing.T) {
	d := newTestDispatcher(t, 8, 1)
	stats := d.Stats()
	assert.Equal(t, 8, stats.QueueCapacity)
	assert.Zero(t, stats.QueueDepth)
	assert.Zero(t, stats.Delivered)
	assert.Zero(t, stats.Dropped)
}
