// Package webhook verifies inbound provider webhook deliveries.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/commercebridge/backend/internal/domain/integration"
)

// SignatureHeader is the request header carrying the delivery signature.
const SignatureHeader = "X-Provider-Signature"

// Verifier checks provider webhook deliveries against a shared secret.
// The signature is an HMAC-SHA256 over the raw request body, hex encoded,
// optionally prefixed with "sha256=". Verification runs on the exact bytes
// received, before any parsing, so re-serialization differences can never
// break it.
//
// The secret is held in memory only; no method ever returns or logs it.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for the given shared secret.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, integration.ErrMissingSecret
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Verify checks signature against the HMAC-SHA256 of body. The comparison
// is constant time. An empty signature, an undecodable one, and a decodable
// mismatch are distinct errors so the handler can count rejection reasons,
// while the HTTP response stays identical for all of them.
//
// Signatures that are not well-formed hex of the right length are rejected
// before any HMAC is computed. That fast path depends only on the attacker's
// own input, never on the secret or the expected digest, so it leaks nothing
// a constant-time comparison would protect.
func (v *Verifier) Verify(body []byte, signature string) error {
	if signature == "" {
		return integration.ErrMissingSignature
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: not hex encoded", integration.ErrMalformedSignature)
	}
	if len(provided) != sha256.Size {
		return fmt.Errorf("%w: expected %d bytes, got %d",
			integration.ErrMalformedSignature, sha256.Size, len(provided))
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return integration.ErrInvalidSignature
	}
	return nil
}

// Sign computes the hex signature for body. Callers use it to build signed
// deliveries in tests and local replays.
func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
