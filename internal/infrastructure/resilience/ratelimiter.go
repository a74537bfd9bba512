// Package resilience implements the outbound call path shared by every
// provider integration: per-provider token-bucket rate limiting, bounded
// exponential-backoff retry, short-TTL response caching, and the resilient
// client that composes them.
package resilience

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/commercebridge/backend/internal/domain/integration"
)

// RateLimiter bounds outbound request throughput to one provider using a
// token bucket. Waiters are served in arrival order: the underlying limiter
// reserves the token under its lock at call time, so a later caller can
// never overtake an earlier one.
//
// Instances are explicitly constructed per provider and owned by the
// composition root; there is no process-global bucket.
//
// Thread Safety: safe for concurrent use.
type RateLimiter struct {
	provider integration.ProviderCode
	limiter  *rate.Limiter
	maxWait  time.Duration

	acquired      atomic.Int64
	timeouts      atomic.Int64
	totalWaitNano atomic.Int64
}

// RateLimiterStats is a point-in-time snapshot for the health surface.
type RateLimiterStats struct {
	Provider      string  `json:"provider"`
	Capacity      int     `json:"capacity"`
	RefillPerSec  float64 `json:"refill_per_sec"`
	Tokens        float64 `json:"tokens"`
	TotalAcquired int64   `json:"total_acquired"`
	TotalTimeouts int64   `json:"total_timeouts"`
	AvgWaitMillis float64 `json:"avg_wait_ms"`
}

// NewRateLimiter creates a token bucket for one provider. capacity is the
// burst ceiling, refillPerSec the steady-state rate. maxWait bounds how long
// a single Acquire may queue; zero means wait indefinitely (until the
// caller's context expires).
func NewRateLimiter(provider integration.ProviderCode, capacity int, refillPerSec float64, maxWait time.Duration) *RateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if refillPerSec <= 0 {
		refillPerSec = 1
	}
	return &RateLimiter{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(refillPerSec), capacity),
		maxWait:  maxWait,
	}
}

// Acquire blocks until a token is available, the configured max wait is
// exceeded, or ctx is done. Exceeding the max wait returns
// integration.ErrRateLimitTimeout so callers can tell self-throttling apart
// from provider rejection and from a call timeout. Tokens refill with time;
// there is no release.
func (l *RateLimiter) Acquire(ctx context.Context) (time.Duration, error) {
	waitCtx := ctx
	if l.maxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.maxWait)
		defer cancel()
	}

	start := time.Now()
	err := l.limiter.Wait(waitCtx)
	waited := time.Since(start)

	if err != nil {
		// The parent context ending is a cancellation, not a throttle timeout.
		if ctx.Err() != nil {
			return waited, ctx.Err()
		}
		l.timeouts.Add(1)
		return waited, fmt.Errorf("%w: %s token not available within %v",
			integration.ErrRateLimitTimeout, l.provider, l.maxWait)
	}

	l.acquired.Add(1)
	l.totalWaitNano.Add(int64(waited))
	return waited, nil
}

// Tokens returns the number of tokens currently available, for the health
// surface. The value is advisory; it may change before the caller acts on it.
func (l *RateLimiter) Tokens() float64 {
	return l.limiter.Tokens()
}

// Stats returns a snapshot of limiter usage.
func (l *RateLimiter) Stats() RateLimiterStats {
	acquired := l.acquired.Load()
	var avgWaitMillis float64
	if acquired > 0 {
		avgWaitMillis = float64(l.totalWaitNano.Load()) / float64(acquired) / float64(time.Millisecond)
	}
	return RateLimiterStats{
		Provider:      l.provider.String(),
		Capacity:      l.limiter.Burst(),
		RefillPerSec:  float64(l.limiter.Limit()),
		Tokens:        l.limiter.Tokens(),
		TotalAcquired: acquired,
		TotalTimeouts: l.timeouts.Load(),
		AvgWaitMillis: avgWaitMillis,
	}
}
