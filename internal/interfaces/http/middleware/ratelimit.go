package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// InboundLimiter is a fixed-window per-client request limiter for the
// public webhook endpoint. It protects the ingest path from a single noisy
// sender; the provider-facing outbound limiter lives elsewhere.
type InboundLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientWindow
	limit   int
	window  time.Duration

	stopChan  chan struct{}
	closeOnce sync.Once
}

type clientWindow struct {
	remaining int
	resetAt   time.Time
}

// NewInboundLimiter creates a limiter allowing limit requests per window
// per client key. A background sweep evicts idle clients.
func NewInboundLimiter(limit int, window time.Duration) *InboundLimiter {
	l := &InboundLimiter{
		clients:  make(map[string]*clientWindow),
		limit:    limit,
		window:   window,
		stopChan: make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Allow reports whether a request from key may proceed, consuming one slot.
func (l *InboundLimiter) Allow(key string) (allowed bool, remaining int) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[key]
	if !ok || now.After(c.resetAt) {
		l.clients[key] = &clientWindow{
			remaining: l.limit - 1,
			resetAt:   now.Add(l.window),
		}
		return true, l.limit - 1
	}

	if c.remaining <= 0 {
		return false, 0
	}
	c.remaining--
	return true, c.remaining
}

// Close stops the background sweep.
func (l *InboundLimiter) Close() {
	l.closeOnce.Do(func() {
		close(l.stopChan)
	})
}

func (l *InboundLimiter) cleanup() {
	ticker := time.NewTicker(l.window * 2)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			now := time.Now()
			l.mu.Lock()
			for key, c := range l.clients {
				if now.After(c.resetAt.Add(l.window)) {
					delete(l.clients, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// RateLimit returns a middleware enforcing the limiter keyed by client IP.
func RateLimit(limiter *InboundLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, remaining := limiter.Allow(c.ClientIP())
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "RATE_LIMIT_EXCEEDED",
					"message": "Too many requests. Please try again later.",
				},
			})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Next()
	}
}
