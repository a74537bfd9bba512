// Package event provides durable storage and in-process pub/sub dispatch
// for verified webhook events.
package event

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/commercebridge/backend/internal/domain/integration"
)

// EventStore persists verified webhook events for a bounded retention
// window. Every event a store accepts becomes visible to Recent before
// Store returns.
type EventStore interface {
	// Store persists one event. A failure means the event has no durable
	// record; it does not stop dispatch.
	Store(ctx context.Context, event *integration.WebhookEvent) error
	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]integration.WebhookEvent, error)
	// PurgeOlderThan removes events received more than age ago and returns
	// the number removed.
	PurgeOlderThan(ctx context.Context, age time.Duration) (int, error)
	// Close releases background resources.
	Close() error
}

// NoopEventStore discards every event. It keeps the ingest path alive when
// storage is deliberately disabled.
type NoopEventStore struct{}

// Store implements EventStore
func (NoopEventStore) Store(context.Context, *integration.WebhookEvent) error { return nil }

// Recent implements EventStore
func (NoopEventStore) Recent(context.Context, int) ([]integration.WebhookEvent, error) {
	return nil, nil
}

// PurgeOlderThan implements EventStore
func (NoopEventStore) PurgeOlderThan(context.Context, time.Duration) (int, error) { return 0, nil }

// Close implements EventStore
func (NoopEventStore) Close() error { return nil }

var _ EventStore = NoopEventStore{}

// Purger periodically removes events older than the retention window from
// an EventStore.
type Purger struct {
	store     EventStore
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger

	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewPurger creates a purger for store. interval controls how often the
// sweep runs; retention how old an event must be to be removed.
func NewPurger(store EventStore, retention, interval time.Duration, logger *zap.Logger) *Purger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Purger{
		store:     store,
		retention: retention,
		interval:  interval,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (p *Purger) Start() {
	p.wg.Add(1)
	go p.run()
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (p *Purger) Stop() {
	p.closeOnce.Do(func() {
		close(p.stopChan)
	})
	p.wg.Wait()
}

func (p *Purger) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			removed, err := p.store.PurgeOlderThan(ctx, p.retention)
			cancel()
			if err != nil {
				p.logger.Warn("event retention sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				p.logger.Info("purged expired webhook events",
					zap.Int("removed", removed),
					zap.Duration("retention", p.retention),
				)
			}
		}
	}
}
