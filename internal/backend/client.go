// Package backend is the REST client for the central POS backend. The
// terminal holds no database of its own; every durable state change in
// this codebase ends in one of these calls.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kiwari-pos/terminal/internal/extras"
)

// APIError is a non-2xx response from the backend. Handlers map it to
// 502 so the UI can distinguish backend trouble from its own mistakes.
type APIError struct {
	Status int
	Path   string
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend: %s returned %d", e.Path, e.Status)
	}
	return fmt.Sprintf("backend: %s returned %d: %s", e.Path, e.Status, e.Body)
}

// Client talks to the backend REST API with bearer-token auth.
type Client struct {
	base  string
	token string
	http  *http.Client
	lg    *zap.Logger
}

// New creates a client for the backend at baseURL. The token may be
// empty when the backend runs unauthenticated.
func New(baseURL, token string, lg *zap.Logger) *Client {
	return &Client{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		http:  &http.Client{Timeout: 15 * time.Second},
		lg:    lg,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.lg.Warn("backend call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return &APIError{Status: resp.StatusCode, Path: path, Body: strings.TrimSpace(string(raw))}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// OrderByTable returns the open order on a table, or nil when the table
// is free.
func (c *Client) OrderByTable(ctx context.Context, table int) (*Order, error) {
	var orders []Order
	path := "/orders?table_number=" + strconv.Itoa(table)
	if err := c.do(ctx, http.MethodGet, path, nil, &orders); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}
	return &orders[0], nil
}

// ListOrders returns all open orders.
func (c *Client) ListOrders(ctx context.Context) ([]Order, error) {
	var orders []Order
	if err := c.do(ctx, http.MethodGet, "/orders", nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// CreateOrder opens a new order and returns the stored row.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	var order Order
	if err := c.do(ctx, http.MethodPost, "/orders", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// Order fetches one order by id.
func (c *Client) Order(ctx context.Context, orderID int64) (*Order, error) {
	var order Order
	if err := c.do(ctx, http.MethodGet, "/orders/"+strconv.FormatInt(orderID, 10), nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// OrderItems fetches the persisted lines of an order. Some backend
// versions answer an object instead of an array for empty orders; that
// decodes as no items rather than an error.
func (c *Client) OrderItems(ctx context.Context, orderID int64) ([]OrderItem, error) {
	var raw json.RawMessage
	path := "/orders/" + strconv.FormatInt(orderID, 10) + "/items"
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, nil
	}
	var items []OrderItem
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("decode order items: %w", err)
	}
	return items, nil
}

// PostOrderItems appends confirmed lines; each row carries its order id.
func (c *Client) PostOrderItems(ctx context.Context, items []OrderItem) error {
	return c.do(ctx, http.MethodPost, "/orders/order-items", items, nil)
}

// PostSubOrder records a payment batch and returns its id.
func (c *Client) PostSubOrder(ctx context.Context, req SubOrderRequest) (*SubOrderResponse, error) {
	var resp SubOrderResponse
	if err := c.do(ctx, http.MethodPost, "/orders/sub-orders", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PostReceiptMethods records the payment method rows of a receipt. It
// must run after the sub-order post so the rows have a batch to hang off.
func (c *Client) PostReceiptMethods(ctx context.Context, methods []ReceiptMethod) error {
	return c.do(ctx, http.MethodPost, "/orders/receipt-methods", methods, nil)
}

// ReceiptMethods returns the payment method rows of one receipt.
func (c *Client) ReceiptMethods(ctx context.Context, receiptID string) ([]ReceiptMethod, error) {
	var methods []ReceiptMethod
	path := "/orders/receipt-methods/" + url.PathEscape(receiptID)
	if err := c.do(ctx, http.MethodGet, path, nil, &methods); err != nil {
		return nil, err
	}
	return methods, nil
}

// UpdateOrderStatus sets an order's lifecycle status.
func (c *Client) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	path := "/orders/" + strconv.FormatInt(orderID, 10) + "/status"
	return c.do(ctx, http.MethodPut, path, map[string]string{"status": status}, nil)
}

// MoveTable relocates an order to a free table.
func (c *Client) MoveTable(ctx context.Context, orderID int64, table int) error {
	path := "/orders/" + strconv.FormatInt(orderID, 10) + "/move-table"
	return c.do(ctx, http.MethodPatch, path, MoveTableRequest{NewTableNumber: table}, nil)
}

// MergeTable folds an order into the open order on the target table. The
// backend broadcasts an order_merged event when the merge lands.
func (c *Client) MergeTable(ctx context.Context, orderID int64, req MergeTableRequest) error {
	path := "/orders/" + strconv.FormatInt(orderID, 10) + "/merge-table"
	return c.do(ctx, http.MethodPatch, path, req, nil)
}

// CloseOrder marks an order closed.
func (c *Client) CloseOrder(ctx context.Context, orderID int64) error {
	path := "/orders/" + strconv.FormatInt(orderID, 10) + "/close"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// ResetIfEmpty deletes an order that never got any items, freeing its
// table. The backend treats a non-empty order as a no-op.
func (c *Client) ResetIfEmpty(ctx context.Context, orderID int64) error {
	path := "/orders/" + strconv.FormatInt(orderID, 10) + "/reset-if-empty"
	return c.do(ctx, http.MethodPatch, path, nil, nil)
}

// ExtrasGroups fetches the extras-group catalog.
func (c *Client) ExtrasGroups(ctx context.Context) ([]extras.Group, error) {
	var groups []extras.Group
	if err := c.do(ctx, http.MethodGet, "/extras-groups", nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}
