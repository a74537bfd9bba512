package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/commercebridge/backend/internal/application/ingest"
	"github.com/commercebridge/backend/internal/infrastructure/event"
	"github.com/commercebridge/backend/internal/infrastructure/resilience"
)

// HealthHandler exposes the read-only operational state: per-provider
// bucket occupancy, cache counters, dispatch queue usage and ingest
// counters.
type HealthHandler struct {
	clients    []*resilience.ResilientClient
	dispatcher *event.Dispatcher
	ingest     *ingest.Service
}

// NewHealthHandler creates the health endpoint handler.
func NewHealthHandler(clients []*resilience.ResilientClient, dispatcher *event.Dispatcher, ingestSvc *ingest.Service) *HealthHandler {
	return &HealthHandler{
		clients:    clients,
		dispatcher: dispatcher,
		ingest:     ingestSvc,
	}
}

// providerStatus is one provider's operational snapshot
type providerStatus struct {
	RateLimiter resilience.RateLimiterStats `json:"rate_limiter"`
	Cache       resilience.CacheStats       `json:"cache"`
}

// healthResponse is the full health snapshot
type healthResponse struct {
	Status     string                    `json:"status"`
	Providers  map[string]providerStatus `json:"providers"`
	Dispatcher event.DispatcherStats     `json:"dispatcher"`
	Webhooks   ingest.Stats              `json:"webhooks"`
}

// RegisterRoutes implements router.RouteRegistrar
func (h *HealthHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/healthz", h.Health)
}

// Health returns the operational snapshot.
func (h *HealthHandler) Health(c *gin.Context) {
	providers := make(map[string]providerStatus, len(h.clients))
	for _, client := range h.clients {
		providers[client.Provider().String()] = providerStatus{
			RateLimiter: client.LimiterStats(),
			Cache:       client.CacheStats(),
		}
	}

	c.JSON(http.StatusOK, healthResponse{
		Status:     "ok",
		Providers:  providers,
		Dispatcher: h.dispatcher.Stats(),
		Webhooks:   h.ingest.Stats(),
	})
}
