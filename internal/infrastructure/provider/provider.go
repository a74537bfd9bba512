// Package provider contains the thin outbound clients for the commerce
// providers. Each client maps typed operations onto the shared resilient
// call path; none of them talks HTTP directly.
package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/commercebridge/backend/internal/domain/integration"
)

// Caller executes one outbound provider request. Satisfied by
// resilience.ResilientClient.
type Caller interface {
	Call(ctx context.Context, req *integration.OutboundRequest) (*integration.Response, error)
}

// decodeResponse unmarshals a provider response body into out.
func decodeResponse(provider integration.ProviderCode, resp *integration.Response, out interface{}) error {
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("%w: %s: %v", integration.ErrProviderInvalidResponse, provider, err)
	}
	return nil
}
