package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// IntegrationMetrics bundles the OpenTelemetry instruments for the
// integration layer: outbound resilient calls and inbound webhook ingestion.
// A nil *IntegrationMetrics is valid and records nothing, so components can
// be constructed without telemetry in tests.
type IntegrationMetrics struct {
	outboundTotal    *Counter
	outboundDuration *Histogram
	cacheHitTotal    *Counter
	cacheMissTotal   *Counter
	retryTotal       *Counter
	rateLimitWait    *Histogram
	webhookReceived  *Counter
	webhookRejected  *Counter
	dispatchDropped  *Counter
	storageDegraded  *Counter
}

// NewIntegrationMetrics creates all integration instruments from a meter provider.
func NewIntegrationMetrics(mp *MeterProvider) (*IntegrationMetrics, error) {
	meter := mp.Meter("commercebridge/integration")

	m := &IntegrationMetrics{}
	var err error

	if m.outboundTotal, err = NewCounter(meter,
		"outbound_request_total",
		"Total outbound provider requests",
		"{request}"); err != nil {
		return nil, fmt.Errorf("integration metrics: %w", err)
	}
	if m.outboundDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "outbound_request_duration_seconds",
		Description: "Outbound provider call latency distribution in seconds",
		Unit:        "s",
		Boundaries:  DurationBuckets,
	}); err != nil {
		return nil, fmt.Errorf("integration metrics: %w", err)
	}
	if m.cacheHitTotal, err = NewCounter(meter,
		"response_cache_hit_total",
		"Idempotent responses served from cache",
		"{hit}"); err != nil {
		return nil, fmt.Errorf("integration metrics: %w", err)
	}
	if m.cacheMissTotal, err = NewCounter(meter,
		"response_cache_miss_total",
		"Idempotent calls that reached the provider",
		"{miss}"); err != nil {
		return nil, fmt.Errorf("integration metrics: %w", err)
	}
	if m.retryTotal, err = NewCounter(meter,
		"outbound_retry_total",
		"Retry attempts beyond the first for outbound calls",
		"{retry}"); err != nil {
		return nil, fmt.Errorf("integration metrics: %w", err)
	}
	if m.rateLimitWait, err = NewHistogram(meter, HistogramOpts{
		Name:        "ratelimit_wait_seconds",
		Description: "Time spent queued for a rate-limit token",
		Unit:        "s",
		Boundaries:  DurationBuckets,
	}); err != nil {
		return nil, fmt.Errorf("integration metrics: %w", err)
	}
	if m.webhookReceived, err = NewCounter(meter,
		"webhook_received_total",
		"Webhook deliveries accepted after verification",
		"{event}"); err != nil {
		return nil, fmt.Errorf("integration metrics: %w", err)
	}
	if m.webhookRejected, err = NewCounter(meter,
		"webhook_verification_failure_total",
		"Webhook deliveries rejected by signature verification",
		"{event}"); err != nil {
		return nil, fmt.Errorf("integration metrics: %w", err)
	}
	if m.dispatchDropped, err = NewCounter(meter,
		"dispatch_dropped_total",
		"Events dropped from the full dispatch queue (drop-oldest policy)",
		"{event}"); err != nil {
		return nil, fmt.Errorf("integration metrics: %w", err)
	}
	if m.storageDegraded, err = NewCounter(meter,
		"event_store_degraded_total",
		"Events dispatched without a durable record because the store was unavailable",
		"{event}"); err != nil {
		return nil, fmt.Errorf("integration metrics: %w", err)
	}

	return m, nil
}

// RecordOutbound records one finished outbound call.
func (m *IntegrationMetrics) RecordOutbound(ctx context.Context, provider, method string, status int, d time.Duration, cacheHit bool) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("method", method),
		attribute.Int("status", status),
	}
	m.outboundTotal.Inc(ctx, attrs...)
	m.outboundDuration.RecordDuration(ctx, d, attrs...)
	if cacheHit {
		m.cacheHitTotal.Inc(ctx, attribute.String("provider", provider))
	}
}

// RecordCacheMiss records an idempotent call that had to reach the provider.
func (m *IntegrationMetrics) RecordCacheMiss(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.cacheMissTotal.Inc(ctx, attribute.String("provider", provider))
}

// RecordRetry records one retry attempt beyond the first.
func (m *IntegrationMetrics) RecordRetry(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.retryTotal.Inc(ctx, attribute.String("provider", provider))
}

// RecordRateLimitWait records time spent queued for a token.
func (m *IntegrationMetrics) RecordRateLimitWait(ctx context.Context, provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitWait.RecordDuration(ctx, d, attribute.String("provider", provider))
}

// RecordWebhookReceived records one accepted webhook delivery.
func (m *IntegrationMetrics) RecordWebhookReceived(ctx context.Context, resourceType, eventType string) {
	if m == nil {
		return
	}
	m.webhookReceived.Inc(ctx,
		attribute.String("resource_type", resourceType),
		attribute.String("event_type", eventType),
	)
}

// RecordWebhookRejected records one delivery rejected by verification.
func (m *IntegrationMetrics) RecordWebhookRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.webhookRejected.Inc(ctx, attribute.String("reason", reason))
}

// RecordDispatchDropped records an event evicted from the dispatch queue.
func (m *IntegrationMetrics) RecordDispatchDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.dispatchDropped.Inc(ctx)
}

// RecordStorageDegraded records an event that was dispatched without a
// durable record.
func (m *IntegrationMetrics) RecordStorageDegraded(ctx context.Context) {
	if m == nil {
		return
	}
	m.storageDegraded.Inc(ctx)
}
