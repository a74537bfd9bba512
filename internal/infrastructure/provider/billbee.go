package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/commercebridge/backend/internal/domain/integration"
)

var (
	// ErrBillbeeInvalidOrderID indicates an empty or non-numeric order ID
	ErrBillbeeInvalidOrderID = errors.New("billbee: invalid order ID")
	// ErrBillbeeInvalidSKU indicates an empty SKU
	ErrBillbeeInvalidSKU = errors.New("billbee: invalid SKU")
)

// BillbeeClient exposes the order and inventory operations of the Billbee API.
type BillbeeClient struct {
	caller Caller
}

// NewBillbeeClient creates a client on top of the resilient call path.
func NewBillbeeClient(caller Caller) *BillbeeClient {
	return &BillbeeClient{caller: caller}
}

// Order is a Billbee sales order
type Order struct {
	ID          int64           `json:"id"`
	OrderNumber string          `json:"order_number"`
	State       string          `json:"state"`
	Currency    string          `json:"currency"`
	TotalCost   decimal.Decimal `json:"total_cost"`
}

// Product is a Billbee catalog entry
type Product struct {
	ID    int64           `json:"id"`
	SKU   string          `json:"sku"`
	Title string          `json:"title"`
	Price decimal.Decimal `json:"price"`
}

// StockLevel is the available quantity for one SKU
type StockLevel struct {
	SKU      string          `json:"sku"`
	Quantity decimal.Decimal `json:"quantity"`
}

// GetOrder fetches one order by its numeric ID.
func (c *BillbeeClient) GetOrder(ctx context.Context, orderID int64) (*Order, error) {
	if orderID <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrBillbeeInvalidOrderID, orderID)
	}

	resp, err := c.caller.Call(ctx, &integration.OutboundRequest{
		Provider:   integration.ProviderCodeBillbee,
		Method:     http.MethodGet,
		Path:       "/orders/" + strconv.FormatInt(orderID, 10),
		Idempotent: true,
	})
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Data Order `json:"data"`
	}
	if err := decodeResponse(integration.ProviderCodeBillbee, resp, &envelope); err != nil {
		return nil, err
	}
	return &envelope.Data, nil
}

// ListProducts fetches one catalog page.
func (c *BillbeeClient) ListProducts(ctx context.Context, page, pageSize int) ([]Product, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}

	resp, err := c.caller.Call(ctx, &integration.OutboundRequest{
		Provider: integration.ProviderCodeBillbee,
		Method:   http.MethodGet,
		Path:     "/products",
		Query: url.Values{
			"page":     {strconv.Itoa(page)},
			"pageSize": {strconv.Itoa(pageSize)},
		},
		Idempotent: true,
	})
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Data []Product `json:"data"`
	}
	if err := decodeResponse(integration.ProviderCodeBillbee, resp, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

// GetStock fetches the available quantity for one SKU.
func (c *BillbeeClient) GetStock(ctx context.Context, sku string) (*StockLevel, error) {
	if sku == "" {
		return nil, ErrBillbeeInvalidSKU
	}

	resp, err := c.caller.Call(ctx, &integration.OutboundRequest{
		Provider:   integration.ProviderCodeBillbee,
		Method:     http.MethodGet,
		Path:       "/products/stock",
		Query:      url.Values{"sku": {sku}},
		Idempotent: true,
	})
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Data StockLevel `json:"data"`
	}
	if err := decodeResponse(integration.ProviderCodeBillbee, resp, &envelope); err != nil {
		return nil, err
	}
	return &envelope.Data, nil
}

// UpdateStock sets the available quantity for one SKU. On success every
// cached product and stock read is invalidated.
func (c *BillbeeClient) UpdateStock(ctx context.Context, sku string, quantity decimal.Decimal) error {
	if sku == "" {
		return ErrBillbeeInvalidSKU
	}

	body, err := json.Marshal(StockLevel{SKU: sku, Quantity: quantity})
	if err != nil {
		return fmt.Errorf("billbee: encoding stock update: %w", err)
	}

	_, err = c.caller.Call(ctx, &integration.OutboundRequest{
		Provider: integration.ProviderCodeBillbee,
		Method:   http.MethodPost,
		Path:     "/products/updatestock",
		Body:     body,
	})
	return err
}

// UpdateOrderState moves an order to a new state. On success every cached
// order read is invalidated.
func (c *BillbeeClient) UpdateOrderState(ctx context.Context, orderID int64, state string) error {
	if orderID <= 0 {
		return fmt.Errorf("%w: %d", ErrBillbeeInvalidOrderID, orderID)
	}

	body, err := json.Marshal(map[string]string{"state": state})
	if err != nil {
		return fmt.Errorf("billbee: encoding state update: %w", err)
	}

	_, err = c.caller.Call(ctx, &integration.OutboundRequest{
		Provider: integration.ProviderCodeBillbee,
		Method:   http.MethodPut,
		Path:     "/orders/" + strconv.FormatInt(orderID, 10) + "/state",
		Body:     body,
	})
	return err
}
