package resilience

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/commercebridge/backend/internal/domain/integration"
)

// SleepFunc suspends the calling goroutine for d or until ctx is done.
// Injected so retry timing is deterministic in tests.
type SleepFunc func(ctx context.Context, d time.Duration) error

// sleepWithContext is the production SleepFunc.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryPolicy wraps a single logical outbound call with bounded retry on
// transient failure classes. Classification lives in the domain package
// (integration.IsTransient); this type only owns the attempt loop and the
// delay schedule.
type RetryPolicy struct {
	maxAttempts int
	backoff     Backoff
	sleep       SleepFunc
	logger      *zap.Logger
}

// NewRetryPolicy creates a policy with the given attempt ceiling (including
// the first attempt) and backoff schedule.
func NewRetryPolicy(maxAttempts int, backoff Backoff, logger *zap.Logger) *RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryPolicy{
		maxAttempts: maxAttempts,
		backoff:     backoff,
		sleep:       sleepWithContext,
		logger:      logger,
	}
}

// WithSleep replaces the sleep function. Tests use this to run the schedule
// without real delays.
func (p *RetryPolicy) WithSleep(sleep SleepFunc) *RetryPolicy {
	p.sleep = sleep
	return p
}

// Do runs fn until it succeeds, fails terminally, or the attempt budget is
// spent. It returns the number of attempts actually made. Terminal errors
// are returned unchanged after one attempt; exhaustion wraps the last error
// in *integration.RetryExhaustedError.
//
// A 429 with a Retry-After hint overrides the computed backoff for that
// attempt's delay.
func (p *RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	var lastErr error

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := p.sleep(ctx, p.nextDelay(attempt-1, lastErr)); err != nil {
				return attempt, err
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt + 1, nil
		}
		if ctx.Err() != nil {
			// The logical call was cancelled; don't burn remaining attempts.
			return attempt + 1, lastErr
		}
		if integration.IsTerminal(lastErr) {
			return attempt + 1, lastErr
		}

		p.logger.Debug("transient failure, will retry",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", p.maxAttempts),
			zap.Error(lastErr),
		)
	}

	return p.maxAttempts, &integration.RetryExhaustedError{
		Attempts: p.maxAttempts,
		Last:     lastErr,
	}
}

// nextDelay picks the wait before the retry following failed attempt n.
func (p *RetryPolicy) nextDelay(attempt int, lastErr error) time.Duration {
	var throttled *integration.ThrottledError
	if errors.As(lastErr, &throttled) && throttled.RetryAfterSeconds > 0 {
		return time.Duration(throttled.RetryAfterSeconds) * time.Second
	}
	return p.backoff.Delay(attempt)
}

// MaxAttempts returns the configured attempt ceiling.
func (p *RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}
