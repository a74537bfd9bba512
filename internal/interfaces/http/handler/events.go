package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/commercebridge/backend/internal/application/ingest"
	"github.com/commercebridge/backend/internal/domain/integration"
)

// defaultEventListLimit bounds an unqualified event listing
const defaultEventListLimit = 50

// maxEventListLimit is the hard ceiling for one listing request
const maxEventListLimit = 500

// EventsHandler exposes the stored webhook event history for operators and
// downstream debugging.
type EventsHandler struct {
	service *ingest.Service
}

// NewEventsHandler creates the event listing handler.
func NewEventsHandler(service *ingest.Service) *EventsHandler {
	return &EventsHandler{service: service}
}

// eventListResponse wraps the event listing
type eventListResponse struct {
	Events []integration.WebhookEvent `json:"events"`
	Count  int                        `json:"count"`
}

// RegisterRoutes implements router.RouteRegistrar
func (h *EventsHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/events", h.List)
}

// List returns the most recent stored events, newest first. The optional
// limit query parameter caps the page size.
func (h *EventsHandler) List(c *gin.Context) {
	limit := defaultEventListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "INVALID_LIMIT",
					"message": "limit must be a positive integer",
				},
			})
			return
		}
		limit = parsed
	}
	if limit > maxEventListLimit {
		limit = maxEventListLimit
	}

	events, err := h.service.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "EVENT_STORE_UNAVAILABLE",
				"message": "Event history is temporarily unavailable",
			},
		})
		return
	}

	c.JSON(http.StatusOK, eventListResponse{Events: events, Count: len(events)})
}
