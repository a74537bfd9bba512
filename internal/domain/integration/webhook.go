package integration

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Webhook event model
// ---------------------------------------------------------------------------

// EventType is the kind of state change a webhook notifies about
type EventType string

const (
	EventTypeCreated       EventType = "created"
	EventTypeUpdated       EventType = "updated"
	EventTypeDeleted       EventType = "deleted"
	EventTypeStatusChanged EventType = "status_changed"
)

// IsValid returns true if the event type is recognized
func (t EventType) IsValid() bool {
	switch t {
	case EventTypeCreated, EventTypeUpdated, EventTypeDeleted, EventTypeStatusChanged:
		return true
	default:
		return false
	}
}

// ResourceType is the provider resource a webhook event refers to
type ResourceType string

const (
	ResourceTypeOrder      ResourceType = "Order"
	ResourceTypeProduct    ResourceType = "Product"
	ResourceTypeSellable   ResourceType = "Sellable"
	ResourceTypeStockEntry ResourceType = "StockEntry"
	ResourceTypeCustomer   ResourceType = "Customer"
	ResourceTypeShipment   ResourceType = "Shipment"
)

// IsValid returns true if the resource type is recognized
func (t ResourceType) IsValid() bool {
	switch t {
	case ResourceTypeOrder, ResourceTypeProduct, ResourceTypeSellable,
		ResourceTypeStockEntry, ResourceTypeCustomer, ResourceTypeShipment:
		return true
	default:
		return false
	}
}

// WebhookEvent is a verified inbound provider notification. It is immutable
// once built and is the unit of durable storage and dispatch. Events that
// did not pass signature verification never become a WebhookEvent.
type WebhookEvent struct {
	EventID      uuid.UUID       `json:"event_id"`
	EventType    EventType       `json:"event_type"`
	ResourceType ResourceType    `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	Payload      json.RawMessage `json:"payload"`
	ReceivedAt   time.Time       `json:"received_at"`
}

// NewWebhookEvent builds a verified event with a fresh event ID
func NewWebhookEvent(eventType EventType, resourceType ResourceType, resourceID string, payload json.RawMessage, receivedAt time.Time) (*WebhookEvent, error) {
	if !eventType.IsValid() {
		return nil, fmt.Errorf("%w: event type %q", ErrMalformedPayload, eventType)
	}
	if !resourceType.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResourceType, resourceType)
	}
	if resourceID == "" {
		return nil, fmt.Errorf("%w: empty resource id", ErrMalformedPayload)
	}
	return &WebhookEvent{
		EventID:      uuid.New(),
		EventType:    eventType,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Payload:      payload,
		ReceivedAt:   receivedAt,
	}, nil
}

// Topic returns the dispatch topic for this event, "ResourceType.eventType"
func (e *WebhookEvent) Topic() string {
	return string(e.ResourceType) + "." + string(e.EventType)
}
