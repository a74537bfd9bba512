package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercebridge/backend/internal/domain/integration"
	"github.com/commercebridge/backend/internal/infrastructure/event"
	"github.com/commercebridge/backend/internal/infrastructure/webhook"
)

const testSecret = "whsec_3c1f9d27b84ae605f172"

// failingStore simulates an event store outage
type failingStore struct {
	event.NoopEventStore
}

func (failingStore) Store(context.Context, *integration.WebhookEvent) error {
	return integration.ErrEventStoreUnavailable
}

func newTestService(t *testing.T, store event.EventStore) (*Service, *event.Dispatcher) {
	t.Helper()

	verifier, err := webhook.NewVerifier(testSecret)
	require.NoError(t, err)

	dispatcher := event.NewDispatcher(16, 1, nil, nil)
	dispatcher.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = dispatcher.Stop(ctx)
	})

	return NewService(verifier, store, dispatcher, nil, nil), dispatcher
}

func signedDelivery(t *testing.T, body string) ([]byte, string) {
	t.Helper()
	v, err := webhook.NewVerifier(testSecret)
	require.NoError(t, err)
	return []byte(body), v.Sign([]byte(body))
}

func TestServiceIngest(t *testing.T) {
	ctx := context.Background()
	validBody := `{"event_type":"updated","resource_type":"Order","resource_id":"42","data":{"status":"shipped"}}`

	t.Run("valid delivery is stored and dispatched", func(t *testing.T) {
		store := event.NewMemoryEventStore()
		svc, dispatcher := newTestService(t, store)

		var mu sync.Mutex
		var got *integration.WebhookEvent
		dispatcher.Subscribe("Order.updated", func(ctx context.Context, e *integration.WebhookEvent) error {
			mu.Lock()
			got = e
			mu.Unlock()
			return nil
		})

		body, sig := signedDelivery(t, validBody)
		result, err := svc.Ingest(ctx, body, sig)
		require.NoError(t, err)
		assert.Equal(t, OutcomeStored, result.Outcome)
		assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", result.EventID.String())

		stored, err := store.Recent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, "42", stored[0].ResourceID)
		assert.Equal(t, integration.EventTypeUpdated, stored[0].EventType)
		assert.JSONEq(t, validBody, string(stored[0].Payload))

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return got != nil
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, result.EventID, got.EventID)
	})

	t.Run("bad signature stores and dispatches nothing", func(t *testing.T) {
		store := event.NewMemoryEventStore()
		svc, _ := newTestService(t, store)

		_, err := svc.Ingest(ctx, []byte(validBody), "sha256=deadbeef")
		require.Error(t, err)
		assert.ErrorIs(t, err, integration.ErrMalformedSignature)
		assert.Zero(t, store.Len())

		stats := svc.Stats()
		assert.Equal(t, int64(1), stats.VerificationFailures)
		assert.Zero(t, stats.Processed)
	})

	t.Run("missing signature is rejected", func(t *testing.T) {
		svc, _ := newTestService(t, event.NewMemoryEventStore())

		_, err := svc.Ingest(ctx, []byte(validBody), "")
		assert.ErrorIs(t, err, integration.ErrMissingSignature)
	})

	t.Run("signed but malformed payload is rejected", func(t *testing.T) {
		svc, _ := newTestService(t, event.NewMemoryEventStore())

		body, sig := signedDelivery(t, `{"event_type":"updated"}`)
		_, err := svc.Ingest(ctx, body, sig)
		assert.ErrorIs(t, err, integration.ErrMalformedPayload)

		body, sig = signedDelivery(t, `not json at all`)
		_, err = svc.Ingest(ctx, body, sig)
		assert.ErrorIs(t, err, integration.ErrMalformedPayload)
	})

	t.Run("unknown resource type is rejected", func(t *testing.T) {
		svc, _ := newTestService(t, event.NewMemoryEventStore())

		body, sig := signedDelivery(t, `{"event_type":"updated","resource_type":"Invoice","resource_id":"1"}`)
		_, err := svc.Ingest(ctx, body, sig)
		assert.ErrorIs(t, err, integration.ErrUnknownResourceType)
	})

	t.Run("storage outage degrades to dispatch only", func(t *testing.T) {
		svc, dispatcher := newTestService(t, failingStore{})

		var delivered sync.WaitGroup
		delivered.Add(1)
		dispatcher.Subscribe("Order.updated", func(ctx context.Context, e *integration.WebhookEvent) error {
			delivered.Done()
			return nil
		})

		body, sig := signedDelivery(t, validBody)
		result, err := svc.Ingest(ctx, body, sig)
		require.NoError(t, err, "storage outage must not reject the delivery")
		assert.Equal(t, OutcomeDispatchedOnly, result.Outcome)

		done := make(chan struct{})
		go func() {
			delivered.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("event was not dispatched")
		}

		stats := svc.Stats()
		assert.Equal(t, int64(1), stats.Processed)
		assert.Equal(t, int64(1), stats.StorageFailures)
	})

	t.Run("repeated events for one resource keep full history", func(t *testing.T) {
		store := event.NewMemoryEventStore()
		svc, _ := newTestService(t, store)

		for _, et := range []string{"created", "updated", "status_changed"} {
			body, sig := signedDelivery(t,
				`{"event_type":"`+et+`","resource_type":"Order","resource_id":"42"}`)
			_, err := svc.Ingest(ctx, body, sig)
			require.NoError(t, err)
		}

		events, err := svc.Recent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, integration.EventTypeStatusChanged, events[0].EventType)
	})
}

func TestRejectionReason(t *testing.T) {
	assert.Equal(t, "missing_signature", rejectionReason(integration.ErrMissingSignature))
	assert.Equal(t, "invalid_signature", rejectionReason(integration.ErrInvalidSignature))
	assert.Equal(t, "malformed_payload", rejectionReason(integration.ErrMalformedPayload))
	assert.Equal(t, "other", rejectionReason(assert.AnError))
}

func TestIngestPayloadData(t *testing.T) {
	store := event.NewMemoryEventStore()
	svc, _ := newTestService(t, store)

	raw := `{"event_type":"created","resource_type":"Shipment","resource_id":"s-1","data":{"carrier":"dhl","tracking":"00340434161094042557"}}`
	body, sig := signedDelivery(t, raw)

	result, err := svc.Ingest(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStored, result.Outcome)

	events, err := store.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, events, 1)

	var decoded struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(events[0].Payload, &decoded))
	assert.Contains(t, decoded.Data, "tracking")
}
