// Package ingest implements the webhook ingestion pipeline: verify the
// delivery, parse and validate the payload, persist the event and hand it
// to the dispatcher.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/commercebridge/backend/internal/domain/integration"
	"github.com/commercebridge/backend/internal/infrastructure/event"
	"github.com/commercebridge/backend/internal/infrastructure/telemetry"
	"github.com/commercebridge/backend/internal/infrastructure/webhook"
)

// Outcome describes what happened to an accepted delivery.
type Outcome string

const (
	// OutcomeStored means the event was persisted and dispatched.
	OutcomeStored Outcome = "stored"
	// OutcomeDispatchedOnly means the event store was unavailable; the
	// event was dispatched to subscribers but has no durable record.
	OutcomeDispatchedOnly Outcome = "dispatched_only"
)

// IngestResult reports the outcome of one accepted webhook delivery.
type IngestResult struct {
	EventID uuid.UUID `json:"event_id"`
	Outcome Outcome   `json:"outcome"`
}

// Stats is a counter snapshot for the health surface.
type Stats struct {
	Processed            int64 `json:"processed"`
	VerificationFailures int64 `json:"verification_failures"`
	StorageFailures      int64 `json:"storage_failures"`
}

// deliveryPayload is the wire shape providers send
type deliveryPayload struct {
	EventType    string          `json:"event_type" validate:"required"`
	ResourceType string          `json:"resource_type" validate:"required"`
	ResourceID   string          `json:"resource_id" validate:"required"`
	Data         json.RawMessage `json:"data"`
}

// Service runs the ingestion pipeline for inbound webhook deliveries.
// Verification happens on the raw bytes before any parsing; storage failure
// degrades to dispatch-only instead of failing the delivery, so providers
// are never pushed into retry storms by our own storage outages.
type Service struct {
	verifier   *webhook.Verifier
	store      event.EventStore
	dispatcher *event.Dispatcher
	validate   *validator.Validate
	logger     *zap.Logger
	metrics    *telemetry.IntegrationMetrics
	now        func() time.Time

	processed            atomic.Int64
	verificationFailures atomic.Int64
	storageFailures      atomic.Int64
}

// NewService creates the ingestion pipeline. metrics may be nil.
func NewService(verifier *webhook.Verifier, store event.EventStore, dispatcher *event.Dispatcher, logger *zap.Logger, metrics *telemetry.IntegrationMetrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		verifier:   verifier,
		store:      store,
		dispatcher: dispatcher,
		validate:   validator.New(),
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

// WithClock replaces the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Ingest processes one raw delivery. A non-nil error means the delivery was
// rejected and nothing was stored or dispatched. A nil error always carries
// a result; check Outcome to see whether the event has a durable record.
func (s *Service) Ingest(ctx context.Context, rawBody []byte, signature string) (*IngestResult, error) {
	if err := s.verifier.Verify(rawBody, signature); err != nil {
		s.verificationFailures.Add(1)
		s.metrics.RecordWebhookRejected(ctx, rejectionReason(err))
		s.logger.Warn("webhook delivery rejected",
			zap.String("reason", rejectionReason(err)),
			zap.Int("body_bytes", len(rawBody)),
		)
		return nil, err
	}

	var payload deliveryPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		s.verificationFailures.Add(1)
		s.metrics.RecordWebhookRejected(ctx, "malformed_payload")
		return nil, fmt.Errorf("%w: %v", integration.ErrMalformedPayload, err)
	}
	if err := s.validate.Struct(&payload); err != nil {
		s.verificationFailures.Add(1)
		s.metrics.RecordWebhookRejected(ctx, "malformed_payload")
		return nil, fmt.Errorf("%w: %v", integration.ErrMalformedPayload, err)
	}

	evt, err := integration.NewWebhookEvent(
		integration.EventType(payload.EventType),
		integration.ResourceType(payload.ResourceType),
		payload.ResourceID,
		append(json.RawMessage(nil), rawBody...),
		s.now().UTC(),
	)
	if err != nil {
		s.verificationFailures.Add(1)
		s.metrics.RecordWebhookRejected(ctx, rejectionReason(err))
		return nil, err
	}

	outcome := OutcomeStored
	if err := s.store.Store(ctx, evt); err != nil {
		outcome = OutcomeDispatchedOnly
		s.storageFailures.Add(1)
		s.metrics.RecordStorageDegraded(ctx)
		s.logger.Warn("event store unavailable, dispatching without durable record",
			zap.String("event_id", evt.EventID.String()),
			zap.String("topic", evt.Topic()),
			zap.Error(err),
		)
	}

	s.dispatcher.Notify(evt)
	s.processed.Add(1)
	s.metrics.RecordWebhookReceived(ctx, string(evt.ResourceType), string(evt.EventType))

	s.logger.Info("webhook event ingested",
		zap.String("event_id", evt.EventID.String()),
		zap.String("topic", evt.Topic()),
		zap.String("resource_id", evt.ResourceID),
		zap.String("outcome", string(outcome)),
	)

	return &IngestResult{EventID: evt.EventID, Outcome: outcome}, nil
}

// Recent exposes stored events for the read API.
func (s *Service) Recent(ctx context.Context, limit int) ([]integration.WebhookEvent, error) {
	return s.store.Recent(ctx, limit)
}

// Stats returns the ingestion counters.
func (s *Service) Stats() Stats {
	return Stats{
		Processed:            s.processed.Load(),
		VerificationFailures: s.verificationFailures.Load(),
		StorageFailures:      s.storageFailures.Load(),
	}
}

// rejectionReason maps a rejection error to a low-cardinality metric label.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, integration.ErrMissingSignature):
		return "missing_signature"
	case errors.Is(err, integration.ErrMalformedSignature):
		return "malformed_signature"
	case errors.Is(err, integration.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, integration.ErrUnknownResourceType):
		return "unknown_resource_type"
	case errors.Is(err, integration.ErrMalformedPayload):
		return "malformed_payload"
	default:
		return "other"
	}
}
