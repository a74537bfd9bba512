package event

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/commercebridge/backend/internal/domain/integration"
	"github.com/commercebridge/backend/internal/infrastructure/telemetry"
)

// Handler processes one dispatched webhook event. Handlers run on worker
// goroutines, not on the HTTP request path, and must tolerate at-most-once
// delivery.
type Handler func(ctx context.Context, event *integration.WebhookEvent) error

// Dispatcher fans verified webhook events out to subscribed handlers
// through a bounded queue consumed by worker goroutines. Acknowledging a
// delivery never waits on a handler.
//
// Backpressure policy: drop-oldest. When the queue is full the oldest
// queued event is evicted, counted and logged so a newly received event is
// always accepted. Consumers needing a complete feed must read the event
// store, not rely on dispatch.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler

	queue   chan *integration.WebhookEvent
	workers int
	logger  *zap.Logger
	metrics *telemetry.IntegrationMetrics

	delivered atomic.Int64
	dropped   atomic.Int64

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// DispatcherStats is a point-in-time snapshot for the health surface.
type DispatcherStats struct {
	QueueDepth    int   `json:"queue_depth"`
	QueueCapacity int   `json:"queue_capacity"`
	Delivered     int64 `json:"delivered"`
	Dropped       int64 `json:"dropped"`
}

// NewDispatcher creates a dispatcher with the given queue capacity and
// worker count. metrics may be nil.
func NewDispatcher(queueSize, workers int, logger *zap.Logger, metrics *telemetry.IntegrationMetrics) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		handlers: make(map[string][]Handler),
		queue:    make(chan *integration.WebhookEvent, queueSize),
		workers:  workers,
		logger:   logger,
		metrics:  metrics,
		stopChan: make(chan struct{}),
	}
}

// Subscribe registers handler for a topic. Topics take the form
// "ResourceType.eventType"; the event-type segment may be "*" to match
// every event of that resource, and "*.*" matches everything.
func (d *Dispatcher) Subscribe(topic string, handler Handler) {
	d.mu.Lock()
	d.handlers[topic] = append(d.handlers[topic], handler)
	d.mu.Unlock()

	d.logger.Debug("handler subscribed", zap.String("topic", topic))
}

// Start launches the worker goroutines.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.logger.Info("event dispatcher started",
		zap.Int("workers", d.workers),
		zap.Int("queue_capacity", cap(d.queue)),
	)
}

// Notify enqueues event for asynchronous delivery. It never blocks: if the
// queue is full, the oldest queued event is dropped to make room.
func (d *Dispatcher) Notify(event *integration.WebhookEvent) {
	for {
		select {
		case d.queue <- event:
			return
		default:
		}

		// Queue full: evict the oldest entry, then retry. A worker may win
		// the race for it, in which case nothing is dropped this round.
		select {
		case oldest := <-d.queue:
			d.dropped.Add(1)
			d.metrics.RecordDispatchDropped(context.Background())
			d.logger.Warn("dispatch queue full, dropped oldest event",
				zap.String("event_id", oldest.EventID.String()),
				zap.String("topic", oldest.Topic()),
			)
		default:
		}
	}
}

// Stop halts the workers. Queued events that no worker picked up before the
// stop signal are not delivered.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() {
		close(d.stopChan)
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("event dispatcher stopped",
			zap.Int64("delivered", d.delivered.Load()),
			zap.Int64("dropped", d.dropped.Load()),
		)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of queue usage.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		QueueDepth:    len(d.queue),
		QueueCapacity: cap(d.queue),
		Delivered:     d.delivered.Load(),
		Dropped:       d.dropped.Load(),
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopChan:
			return
		case event := <-d.queue:
			d.deliver(event)
		}
	}
}

// deliver runs every matching handler for one event. Handlers run outside
// any request context; each delivery gets its own deadline.
func (d *Dispatcher) deliver(event *integration.WebhookEvent) {
	handlers := d.matchingHandlers(event)
	if len(handlers) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, handler := range handlers {
		if err := d.dispatchToHandler(ctx, handler, event); err != nil {
			// Log and continue with the remaining handlers.
			d.logger.Error("handler failed to process event",
				zap.String("topic", event.Topic()),
				zap.String("event_id", event.EventID.String()),
				zap.Error(err),
			)
		}
	}
	d.delivered.Add(1)
}

// matchingHandlers collects handlers for the exact topic, the resource
// wildcard and the match-all wildcard, in that order.
func (d *Dispatcher) matchingHandlers(event *integration.WebhookEvent) []Handler {
	topics := [3]string{
		event.Topic(),
		string(event.ResourceType) + ".*",
		"*.*",
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Handler
	for _, topic := range topics {
		out = append(out, d.handlers[topic]...)
	}
	return out
}

// dispatchToHandler runs one handler with panic isolation.
func (d *Dispatcher) dispatchToHandler(ctx context.Context, handler Handler, event *integration.WebhookEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked",
				zap.String("topic", event.Topic()),
				zap.String("event_id", event.EventID.String()),
				zap.Any("panic", r),
			)
		}
	}()

	return handler(ctx, event)
}
