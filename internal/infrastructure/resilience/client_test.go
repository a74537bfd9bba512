package resilience

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercebridge/backend/internal/domain/integration"
)

func newTestClient(t *testing.T, baseURL string, maxAttempts int, sleep SleepFunc) (*ResilientClient, *MemoryResponseCache) {
	t.Helper()

	cache := NewMemoryResponseCache()
	t.Cleanup(func() { _ = cache.Close() })

	retry := NewRetryPolicy(maxAttempts, Backoff{Base: time.Millisecond, Max: 10 * time.Millisecond}, nil)
	if sleep != nil {
		retry = retry.WithSleep(sleep)
	}

	client, err := NewResilientClient(ClientConfig{
		Provider:       integration.ProviderCodeShipcloud,
		BaseURL:        baseURL,
		AuthHeader:     "Authorization",
		AuthValue:      "Bearer test-key",
		RequestTimeout: 2 * time.Second,
		CacheTTL:       time.Minute,
	},
		NewRateLimiter(integration.ProviderCodeShipcloud, 100, 100, time.Second),
		retry, cache, nil, nil)
	require.NoError(t, err)
	return client, cache
}

func TestResilientClientCall(t *testing.T) {
	ctx := context.Background()

	t.Run("idempotent response is served from cache", func(t *testing.T) {
		hits := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"rates":[]}`))
		}))
		defer srv.Close()

		client, _ := newTestClient(t, srv.URL, 3, nil)
		req := &integration.OutboundRequest{
			Provider:   integration.ProviderCodeShipcloud,
			Method:     http.MethodGet,
			Path:       "/rates",
			Idempotent: true,
		}

		first, err := client.Call(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, first.StatusCode)

		second, err := client.Call(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, first.Body, second.Body)
		assert.Equal(t, 1, hits, "second call must not reach the provider")
	})

	t.Run("query differences are distinct cache entries", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("page=" + r.URL.Query().Get("page")))
		}))
		defer srv.Close()

		client, _ := newTestClient(t, srv.URL, 3, nil)

		resp1, err := client.Call(ctx, &integration.OutboundRequest{
			Provider: integration.ProviderCodeShipcloud, Method: http.MethodGet,
			Path: "/orders", Query: url.Values{"page": {"1"}}, Idempotent: true,
		})
		require.NoError(t, err)
		resp2, err := client.Call(ctx, &integration.OutboundRequest{
			Provider: integration.ProviderCodeShipcloud, Method: http.MethodGet,
			Path: "/orders", Query: url.Values{"page": {"2"}}, Idempotent: true,
		})
		require.NoError(t, err)

		assert.Equal(t, "page=1", string(resp1.Body))
		assert.Equal(t, "page=2", string(resp2.Body))
	})

	t.Run("mutation invalidates the resource collection", func(t *testing.T) {
		gets := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				gets++
			}
			w.Write([]byte("ok"))
		}))
		defer srv.Close()

		client, _ := newTestClient(t, srv.URL, 3, nil)

		get := &integration.OutboundRequest{
			Provider: integration.ProviderCodeShipcloud, Method: http.MethodGet,
			Path: "/orders", Idempotent: true,
		}

		_, err := client.Call(ctx, get)
		require.NoError(t, err)
		_, err = client.Call(ctx, get)
		require.NoError(t, err)
		assert.Equal(t, 1, gets)

		_, err = client.Call(ctx, &integration.OutboundRequest{
			Provider: integration.ProviderCodeShipcloud, Method: http.MethodPost,
			Path: "/orders/42", Body: []byte(`{"status":"shipped"}`),
		})
		require.NoError(t, err)

		_, err = client.Call(ctx, get)
		require.NoError(t, err)
		assert.Equal(t, 2, gets, "read after write must reach the provider")
	})

	t.Run("transient failures are retried to success", func(t *testing.T) {
		hits := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			if hits <= 2 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Write([]byte("recovered"))
		}))
		defer srv.Close()

		client, _ := newTestClient(t, srv.URL, 5, func(ctx context.Context, d time.Duration) error {
			return ctx.Err()
		})

		resp, err := client.Call(ctx, &integration.OutboundRequest{
			Provider: integration.ProviderCodeShipcloud, Method: http.MethodGet,
			Path: "/rates", Idempotent: true,
		})
		require.NoError(t, err)
		assert.Equal(t, "recovered", string(resp.Body))
		assert.Equal(t, 3, hits)
	})

	t.Run("client rejection is terminal and keeps provider detail", func(t *testing.T) {
		hits := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"error":"invalid postcode"}`))
		}))
		defer srv.Close()

		client, _ := newTestClient(t, srv.URL, 5, nil)

		_, err := client.Call(ctx, &integration.OutboundRequest{
			Provider: integration.ProviderCodeShipcloud, Method: http.MethodGet,
			Path: "/rates", Idempotent: true,
		})
		require.Error(t, err)
		assert.Equal(t, 1, hits, "4xx must not be retried")

		var clientErr *integration.ClientError
		require.ErrorAs(t, err, &clientErr)
		assert.Equal(t, http.StatusUnprocessableEntity, clientErr.StatusCode)
		assert.Contains(t, clientErr.Body, "invalid postcode")
	})

	t.Run("throttling carries the retry-after hint into the schedule", func(t *testing.T) {
		hits := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			if hits == 1 {
				w.Header().Set("Retry-After", "3")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Write([]byte("ok"))
		}))
		defer srv.Close()

		var delays []time.Duration
		client, _ := newTestClient(t, srv.URL, 3, func(ctx context.Context, d time.Duration) error {
			delays = append(delays, d)
			return ctx.Err()
		})

		_, err := client.Call(ctx, &integration.OutboundRequest{
			Provider: integration.ProviderCodeShipcloud, Method: http.MethodGet,
			Path: "/rates", Idempotent: true,
		})
		require.NoError(t, err)
		assert.Equal(t, []time.Duration{3 * time.Second}, delays)
	})

	t.Run("errors are never cached", func(t *testing.T) {
		hits := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			if hits == 1 {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write([]byte("found now"))
		}))
		defer srv.Close()

		client, _ := newTestClient(t, srv.URL, 3, nil)
		req := &integration.OutboundRequest{
			Provider: integration.ProviderCodeShipcloud, Method: http.MethodGet,
			Path: "/orders/7", Idempotent: true,
		}

		_, err := client.Call(ctx, req)
		require.Error(t, err)

		resp, err := client.Call(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "found now", string(resp.Body))
		assert.Equal(t, 2, hits)
	})

	t.Run("unreachable provider maps to unavailable", func(t *testing.T) {
		client, _ := newTestClient(t, "http://127.0.0.1:1", 1, nil)

		_, err := client.Call(ctx, &integration.OutboundRequest{
			Provider: integration.ProviderCodeShipcloud, Method: http.MethodGet,
			Path: "/rates", Idempotent: true,
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, integration.ErrProviderUnavailable)
	})

	t.Run("missing base url fails construction", func(t *testing.T) {
		_, err := NewResilientClient(ClientConfig{Provider: integration.ProviderCodeBillbee},
			nil, nil, nil, nil, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, integration.ErrProviderNotConfigured)
	})
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 0, parseRetryAfter(""))
	assert.Equal(t, 0, parseRetryAfter("soon"))
	assert.Equal(t, 5, parseRetryAfter("5"))
	assert.Equal(t, 0, parseRetryAfter("-3"))

	future := time.Now().Add(10 * time.Second).UTC().Format(http.TimeFormat)
	got := parseRetryAfter(future)
	assert.InDelta(t, 10, got, 2)

	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	assert.Equal(t, 0, parseRetryAfter(past))
}
