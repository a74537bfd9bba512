package resilience

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/commercebridge/backend/internal/domain/integration"
	"github.com/commercebridge/backend/internal/infrastructure/telemetry"
)

// maxResponseSize is the maximum allowed response size from a provider (10MB)
const maxResponseSize = 10 * 1024 * 1024

// clientErrorDetailLimit bounds how much provider body is carried in a ClientError
const clientErrorDetailLimit = 512

// ClientConfig holds one provider's outbound call settings.
type ClientConfig struct {
	Provider       integration.ProviderCode
	BaseURL        string
	AuthHeader     string // e.g. "X-Billbee-Api-Key" or "Authorization"
	AuthValue      string
	RequestTimeout time.Duration // per-attempt timeout
	CacheTTL       time.Duration // idempotent response memoization window
}

// ResilientClient is the single entry point for outbound provider calls.
// It composes the response cache, the per-provider rate limiter and the
// retry policy into one call path; business handlers never touch those
// pieces directly.
type ResilientClient struct {
	cfg        ClientConfig
	httpClient *http.Client
	limiter    *RateLimiter
	retry      *RetryPolicy
	cache      ResponseCache
	logger     *zap.Logger
	metrics    *telemetry.IntegrationMetrics
}

// cachedResponse is the serialized form of a memoized provider response
type cachedResponse struct {
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
}

// NewResilientClient creates the outbound call path for one provider.
// metrics may be nil.
func NewResilientClient(cfg ClientConfig, limiter *RateLimiter, retry *RetryPolicy, cache ResponseCache, logger *zap.Logger, metrics *telemetry.IntegrationMetrics) (*ResilientClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: %s has no base URL", integration.ErrProviderNotConfigured, cfg.Provider)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResilientClient{
		cfg:        cfg,
		httpClient: &http.Client{},
		limiter:    limiter,
		retry:      retry,
		cache:      cache,
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// Provider returns the provider this client talks to.
func (c *ResilientClient) Provider() integration.ProviderCode {
	return c.cfg.Provider
}

// CacheStats exposes the cache counters for the health surface.
func (c *ResilientClient) CacheStats() CacheStats {
	return c.cache.Stats()
}

// LimiterStats exposes the rate-limit bucket snapshot for the health surface.
func (c *ResilientClient) LimiterStats() RateLimiterStats {
	return c.limiter.Stats()
}

// Call executes one logical outbound request.
//
// Idempotent requests consult the cache first; on a miss the call proceeds
// through rate limiting and retry, and the response is cached on success
// only. Mutating requests skip the cache, and on success invalidate every
// cached entry under the same resource prefix so no stale read can follow a
// write made through this client.
//
// Every retry attempt re-acquires the rate limiter, so retries never bypass
// the provider's ceiling.
func (c *ResilientClient) Call(ctx context.Context, req *integration.OutboundRequest) (*integration.Response, error) {
	start := time.Now()
	cacheKey := req.CacheKey()

	if req.Idempotent {
		if raw, ok := c.cache.Get(ctx, cacheKey); ok {
			if resp := decodeCached(raw); resp != nil {
				c.logCall(req, resp.StatusCode, 0, time.Since(start), true, nil)
				c.metrics.RecordOutbound(ctx, c.cfg.Provider.String(), req.Method, resp.StatusCode, time.Since(start), true)
				return resp, nil
			}
		}
		c.metrics.RecordCacheMiss(ctx, c.cfg.Provider.String())
	}

	var resp *integration.Response
	attempts, err := c.retry.Do(ctx, func(ctx context.Context) error {
		waited, acquireErr := c.limiter.Acquire(ctx)
		c.metrics.RecordRateLimitWait(ctx, c.cfg.Provider.String(), waited)
		if acquireErr != nil {
			return acquireErr
		}

		r, attemptErr := c.doAttempt(ctx, req)
		if attemptErr != nil {
			return attemptErr
		}
		resp = r
		return nil
	})

	for i := 1; i < attempts; i++ {
		c.metrics.RecordRetry(ctx, c.cfg.Provider.String())
	}

	duration := time.Since(start)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	c.logCall(req, status, attempts, duration, false, err)
	c.metrics.RecordOutbound(ctx, c.cfg.Provider.String(), req.Method, status, duration, false)

	if err != nil {
		return nil, err
	}

	if req.Idempotent {
		if raw, encodeErr := json.Marshal(cachedResponse{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       resp.Body,
		}); encodeErr == nil {
			c.cache.Set(ctx, cacheKey, raw, c.cfg.CacheTTL)
		}
	} else {
		c.cache.InvalidatePrefix(ctx, c.invalidationPrefix(req))
	}

	return resp, nil
}

// invalidationPrefix is the shared leading segment of every cache key built
// for the same provider and resource collection
func (c *ResilientClient) invalidationPrefix(req *integration.OutboundRequest) string {
	return c.cfg.Provider.String() + ":" + req.ResourcePrefix() + ":"
}

// doAttempt performs one HTTP attempt under the per-attempt timeout and
// classifies the outcome into the error taxonomy.
func (c *ResilientClient) doAttempt(ctx context.Context, req *integration.OutboundRequest) (*integration.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	u := strings.TrimRight(c.cfg.BaseURL, "/") + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, u, body)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", integration.ErrProviderRequestFailed, err)
	}
	if len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.cfg.AuthHeader != "" {
		httpReq.Header.Set(c.cfg.AuthHeader, c.cfg.AuthValue)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			// The attempt timed out but the logical call did not; transient.
			return nil, context.DeadlineExceeded
		}
		return nil, fmt.Errorf("%w: %v", integration.ErrProviderUnavailable, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", integration.ErrProviderUnavailable, err)
	}

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, &integration.ThrottledError{
			Provider:          c.cfg.Provider,
			RetryAfterSeconds: parseRetryAfter(httpResp.Header.Get("Retry-After")),
		}
	case httpResp.StatusCode >= 500:
		return nil, &integration.ServerError{
			Provider:   c.cfg.Provider,
			StatusCode: httpResp.StatusCode,
		}
	case httpResp.StatusCode >= 400:
		detail := string(respBody)
		if len(detail) > clientErrorDetailLimit {
			detail = detail[:clientErrorDetailLimit]
		}
		return nil, &integration.ClientError{
			Provider:   c.cfg.Provider,
			StatusCode: httpResp.StatusCode,
			Body:       detail,
		}
	}

	return &integration.Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header.Clone(),
		Body:       respBody,
	}, nil
}

// logCall emits the one structured record required for every outbound call
func (c *ResilientClient) logCall(req *integration.OutboundRequest, status, attempts int, duration time.Duration, cacheHit bool, err error) {
	fields := []zap.Field{
		zap.String("provider", c.cfg.Provider.String()),
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", status),
		zap.Duration("duration", duration),
		zap.Int("attempts", attempts),
		zap.Bool("cache_hit", cacheHit),
		zap.Bool("idempotent", req.Idempotent),
	}
	if err != nil {
		c.logger.Warn("outbound call failed", append(fields, zap.Error(err))...)
		return
	}
	c.logger.Info("outbound call", fields...)
}

// decodeCached rebuilds a Response from its serialized form; a corrupt
// entry is treated as a miss
func decodeCached(raw []byte) *integration.Response {
	var cr cachedResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil
	}
	return &integration.Response{
		StatusCode: cr.StatusCode,
		Header:     cr.Header,
		Body:       cr.Body,
	}
}

// parseRetryAfter reads a Retry-After hint, either delta-seconds or an
// HTTP-date. Returns 0 when absent or unparseable.
func parseRetryAfter(value string) int {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return secs
	}
	if at, err := http.ParseTime(value); err == nil {
		if delta := time.Until(at); delta > 0 {
			return int(delta.Seconds() + 0.5)
		}
	}
	return 0
}
