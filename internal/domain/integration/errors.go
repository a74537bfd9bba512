package integration

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ---------------------------------------------------------------------------
// Error taxonomy
//
// Every error leaving the integration layer is classified so callers can
// tell "provider rejected" from "we throttled ourselves" from "gave up
// retrying". Nothing in this layer surfaces a bare string error.
// ---------------------------------------------------------------------------

var (
	// Outbound call errors
	ErrProviderNotConfigured   = errors.New("integration: provider not configured")
	ErrProviderUnavailable     = errors.New("integration: provider temporarily unavailable")
	ErrProviderRequestFailed   = errors.New("integration: provider request failed")
	ErrProviderInvalidResponse = errors.New("integration: invalid provider response")
	ErrRateLimitTimeout        = errors.New("integration: rate limit wait exceeded")

	// Webhook verification errors
	ErrMissingSecret       = errors.New("integration: webhook secret not configured")
	ErrMissingSignature    = errors.New("integration: missing webhook signature header")
	ErrMalformedSignature  = errors.New("integration: malformed webhook signature encoding")
	ErrInvalidSignature    = errors.New("integration: webhook signature mismatch")
	ErrPayloadTooLarge     = errors.New("integration: webhook payload exceeds size cap")
	ErrMalformedPayload    = errors.New("integration: malformed webhook payload")
	ErrUnknownResourceType = errors.New("integration: unknown webhook resource type")

	// Event store errors
	ErrEventStoreUnavailable = errors.New("integration: event store unavailable")
)

// ClientError is a terminal provider-side rejection (4xx other than 429).
// It preserves the provider-supplied detail and is never retried.
type ClientError struct {
	Provider   ProviderCode
	StatusCode int
	Body       string
}

// Error implements the error interface
func (e *ClientError) Error() string {
	return fmt.Sprintf("integration: %s rejected request with HTTP %d: %s",
		e.Provider, e.StatusCode, e.Body)
}

// ServerError is a transient provider-side failure (HTTP 5xx). It is
// retryable up to the configured attempt ceiling.
type ServerError struct {
	Provider   ProviderCode
	StatusCode int
}

// Error implements the error interface
func (e *ServerError) Error() string {
	return fmt.Sprintf("integration: %s returned HTTP %d", e.Provider, e.StatusCode)
}

// ThrottledError is a provider-side HTTP 429. RetryAfterSeconds is zero when
// the provider sent no Retry-After hint.
type ThrottledError struct {
	Provider          ProviderCode
	RetryAfterSeconds int
}

// Error implements the error interface
func (e *ThrottledError) Error() string {
	return fmt.Sprintf("integration: %s throttled request (HTTP 429)", e.Provider)
}

// RetryExhaustedError wraps the final underlying error after the retry
// budget for one logical call has been spent.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

// Error implements the error interface
func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("integration: retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap exposes the last underlying error for errors.Is/As
func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

// IsTransient reports whether err belongs to the retry whitelist:
// network/connection failures, per-attempt timeouts, HTTP 5xx and HTTP 429.
// A rate-limit wait timeout is deliberately not transient: retrying it
// inside the same logical call would just queue behind the same bucket.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimitTimeout) {
		return false
	}

	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return true
	}
	var throttled *ThrottledError
	if errors.As(err, &throttled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return errors.Is(err, ErrProviderUnavailable)
}

// IsTerminal reports whether err must not be retried
func IsTerminal(err error) bool {
	return err != nil && !IsTransient(err)
}
