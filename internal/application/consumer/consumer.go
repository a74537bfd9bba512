// Package consumer contains the built-in subscribers registered at startup.
// They react to dispatched webhook events; anything needing the full event
// history reads the event store instead.
package consumer

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/commercebridge/backend/internal/domain/integration"
	"github.com/commercebridge/backend/internal/infrastructure/provider"
)

// OrderActivityLogger records every order event for the audit trail.
type OrderActivityLogger struct {
	logger *zap.Logger
}

// NewOrderActivityLogger creates the order audit subscriber.
func NewOrderActivityLogger(logger *zap.Logger) *OrderActivityLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderActivityLogger{logger: logger}
}

// Topic returns the subscription topic.
func (l *OrderActivityLogger) Topic() string {
	return string(integration.ResourceTypeOrder) + ".*"
}

// Handle logs one order event.
func (l *OrderActivityLogger) Handle(_ context.Context, event *integration.WebhookEvent) error {
	l.logger.Info("order activity",
		zap.String("event_id", event.EventID.String()),
		zap.String("event_type", string(event.EventType)),
		zap.String("order_id", event.ResourceID),
		zap.Time("received_at", event.ReceivedAt),
	)
	return nil
}

// StockRefreshConsumer re-reads the current stock level from Billbee when a
// stock entry changes, so the fresh value lands in the logs and the
// response cache is warm for the next reader.
type StockRefreshConsumer struct {
	billbee *provider.BillbeeClient
	logger  *zap.Logger
}

// NewStockRefreshConsumer creates the stock refresh subscriber. billbee may
// be nil when the provider is not configured; the consumer then only logs.
func NewStockRefreshConsumer(billbee *provider.BillbeeClient, logger *zap.Logger) *StockRefreshConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StockRefreshConsumer{billbee: billbee, logger: logger}
}

// Topic returns the subscription topic.
func (c *StockRefreshConsumer) Topic() string {
	return string(integration.ResourceTypeStockEntry) + "." + string(integration.EventTypeUpdated)
}

// stockPayload is the slice of the delivery body this consumer needs
type stockPayload struct {
	Data struct {
		SKU string `json:"sku"`
	} `json:"data"`
}

// Handle refreshes the stock level for the changed SKU.
func (c *StockRefreshConsumer) Handle(ctx context.Context, event *integration.WebhookEvent) error {
	var payload stockPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		c.logger.Warn("stock event payload not parseable",
			zap.String("event_id", event.EventID.String()),
			zap.Error(err),
		)
		return nil
	}
	if payload.Data.SKU == "" {
		c.logger.Debug("stock event without sku, skipping refresh",
			zap.String("event_id", event.EventID.String()),
		)
		return nil
	}
	if c.billbee == nil {
		c.logger.Info("stock entry changed",
			zap.String("sku", payload.Data.SKU),
			zap.String("event_id", event.EventID.String()),
		)
		return nil
	}

	level, err := c.billbee.GetStock(ctx, payload.Data.SKU)
	if err != nil {
		return err
	}
	c.logger.Info("stock level refreshed",
		zap.String("sku", level.SKU),
		zap.String("quantity", level.Quantity.String()),
		zap.String("event_id", event.EventID.String()),
	)
	return nil
}
