package resilience

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays as a pure function of the attempt number:
// base × 2^attempt with ± Jitter symmetric random jitter, capped at Max.
// Keeping the range computation side-effect free makes it unit-testable
// without any timing dependence; randomness enters only in Delay.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // fraction of the capped delay, e.g. 0.2 for ±20%
}

// DefaultBackoff returns the backoff used when a provider section leaves it
// unset: 500ms base, 30s cap, ±20% jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   500 * time.Millisecond,
		Max:    30 * time.Second,
		Jitter: 0.2,
	}
}

// Range returns the inclusive [min, max] delay window for retry attempt n
// (0-indexed: attempt 0 is the delay before the first retry).
func (b Backoff) Range(attempt int) (time.Duration, time.Duration) {
	if attempt < 0 {
		attempt = 0
	}
	base := float64(b.Base) * math.Pow(2, float64(attempt))
	if b.Max > 0 && base > float64(b.Max) {
		base = float64(b.Max)
	}

	jitter := base * b.Jitter
	lo := base - jitter
	if lo < 0 {
		lo = 0
	}
	hi := base + jitter
	if b.Max > 0 && hi > float64(b.Max) {
		hi = float64(b.Max)
	}
	return time.Duration(lo), time.Duration(hi)
}

// Delay returns a random delay within Range(attempt).
func (b Backoff) Delay(attempt int) time.Duration {
	lo, hi := b.Range(attempt)
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo))) //nolint:gosec // jitter intentionally uses non-crypto rand
}
