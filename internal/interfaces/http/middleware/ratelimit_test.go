package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboundLimiterAllow(t *testing.T) {
	t.Run("allows up to the limit per window", func(t *testing.T) {
		l := NewInboundLimiter(3, time.Minute)
		defer l.Close()

		for i := 0; i < 3; i++ {
			allowed, _ := l.Allow("10.0.0.1")
			assert.True(t, allowed)
		}
		allowed, remaining := l.Allow("10.0.0.1")
		assert.False(t, allowed)
		assert.Zero(t, remaining)
	})

	t.Run("keys are independent", func(t *testing.T) {
		l := NewInboundLimiter(1, time.Minute)
		defer l.Close()

		allowed, _ := l.Allow("10.0.0.1")
		require.True(t, allowed)
		allowed, _ = l.Allow("10.0.0.1")
		require.False(t, allowed)

		allowed, _ = l.Allow("10.0.0.2")
		assert.True(t, allowed)
	})

	t.Run("window reset restores the budget", func(t *testing.T) {
		l := NewInboundLimiter(1, 20*time.Millisecond)
		defer l.Close()

		allowed, _ := l.Allow("10.0.0.1")
		require.True(t, allowed)
		allowed, _ = l.Allow("10.0.0.1")
		require.False(t, allowed)

		time.Sleep(30 * time.Millisecond)

		allowed, _ = l.Allow("10.0.0.1")
		assert.True(t, allowed)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	l := NewInboundLimiter(2, time.Minute)
	defer l.Close()

	e := gin.New()
	e.Use(RateLimit(l))
	e.POST("/webhook", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	do := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		e.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", nil))
		return w
	}

	first := do()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, do().Code)

	blocked := do()
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.Contains(t, blocked.Body.String(), "RATE_LIMIT_EXCEEDED")
}
