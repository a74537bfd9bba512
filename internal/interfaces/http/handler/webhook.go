// Package handler contains the gin handlers for the public HTTP surface.
package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/commercebridge/backend/internal/application/ingest"
	"github.com/commercebridge/backend/internal/infrastructure/webhook"
)

// WebhookHandler receives provider webhook deliveries. These endpoints are
// called by the providers and carry their own signature-based
// authentication instead of user auth.
type WebhookHandler struct {
	service     *ingest.Service
	maxBodySize int64
}

// NewWebhookHandler creates the webhook endpoint handler. maxBodySize caps
// the raw delivery body in bytes.
func NewWebhookHandler(service *ingest.Service, maxBodySize int64) *WebhookHandler {
	if maxBodySize <= 0 {
		maxBodySize = 1 << 20
	}
	return &WebhookHandler{service: service, maxBodySize: maxBodySize}
}

// WebhookResponse is the acknowledgement sent back to the provider
type WebhookResponse struct {
	Received bool   `json:"received"`
	EventID  string `json:"event_id,omitempty"`
	Stored   bool   `json:"stored,omitempty"`
	Message  string `json:"message,omitempty"`
}

// RegisterRoutes implements router.RouteRegistrar
func (h *WebhookHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/webhook", h.Handle)
}

// Handle processes one webhook delivery. The raw body is read before any
// parsing because the signature covers the exact bytes sent.
func (h *WebhookHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxBodySize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, WebhookResponse{
			Received: false,
			Message:  "Failed to read request body",
		})
		return
	}
	if int64(len(body)) > h.maxBodySize {
		c.JSON(http.StatusRequestEntityTooLarge, WebhookResponse{
			Received: false,
			Message:  "Payload too large",
		})
		return
	}

	signature := c.GetHeader(webhook.SignatureHeader)

	result, err := h.service.Ingest(c.Request.Context(), body, signature)
	if err != nil {
		// The response does not reveal which check failed.
		c.JSON(http.StatusBadRequest, WebhookResponse{
			Received: false,
			Message:  "Webhook rejected",
		})
		return
	}

	c.JSON(http.StatusOK, WebhookResponse{
		Received: true,
		EventID:  result.EventID.String(),
		Stored:   result.Outcome == ingest.OutcomeStored,
	})
}
