package backend

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is the backend's order row as served over REST.
type Order struct {
	ID            int64           `json:"id"`
	TableNumber   *int            `json:"table_number"`
	OrderType     string          `json:"order_type"`
	Status        string          `json:"status"`
	PaymentMethod string          `json:"payment_method"`
	CustomerName  string          `json:"customer_name"`
	Note          string          `json:"note"`
	Total         decimal.Decimal `json:"total"`
	DiscountType  string          `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// OrderItem is the backend's persisted line item. UniqueID carries the
// terminal's line key so lines survive round trips intact.
type OrderItem struct {
	ID            int64            `json:"id"`
	OrderID       int64            `json:"order_id"`
	ProductID     int64            `json:"product_id"`
	UniqueID      string           `json:"unique_id"`
	Name          string           `json:"name"`
	Price         decimal.Decimal  `json:"price"`
	OriginalPrice decimal.Decimal  `json:"original_price"`
	Quantity      int64            `json:"quantity"`
	Category      string           `json:"category"`
	Extras        []OrderItemExtra `json:"extras"`
	Note          string           `json:"note"`
	KitchenStatus string           `json:"kitchen_status"`
	DiscountType  string           `json:"discount_type"`
	DiscountValue decimal.Decimal  `json:"discount_value"`
	PaymentMethod string           `json:"payment_method"`
	ReceiptID     string           `json:"receipt_id"`
	PaidAt        *time.Time       `json:"paid_at"`
}

// OrderItemExtra mirrors one extra selection on a persisted line.
type OrderItemExtra struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
	Unit     string          `json:"unit"`
	Amount   decimal.Decimal `json:"amount"`
}

// CreateOrderRequest opens a new order on the backend.
type CreateOrderRequest struct {
	TableNumber  *int   `json:"table_number,omitempty"`
	OrderType    string `json:"order_type"`
	Status       string `json:"status"`
	CustomerName string `json:"customer_name,omitempty"`
	Note         string `json:"note,omitempty"`
}

// SubOrderRequest records one payment batch against an order. A line
// paid for less than its full quantity is split by the backend; the
// terminal picks up the split on its next item fetch.
type SubOrderRequest struct {
	OrderID       int64           `json:"order_id"`
	ReceiptID     string          `json:"receipt_id"`
	PaymentMethod string          `json:"payment_method"`
	Total         decimal.Decimal `json:"total"`
	Items         []SubOrderItem  `json:"items"`
}

// SubOrderItem selects a line and how much of it this batch pays.
type SubOrderItem struct {
	ItemID   int64  `json:"item_id"`
	UniqueID string `json:"unique_id"`
	Quantity int64  `json:"quantity"`
}

// SubOrderResponse is the backend's acknowledgement of a payment batch.
type SubOrderResponse struct {
	SubOrderID int64 `json:"sub_order_id"`
}

// ReceiptMethod is one payment method row on a receipt. Split payments
// post several rows under the same receipt id.
type ReceiptMethod struct {
	ReceiptID     string          `json:"receipt_id"`
	PaymentMethod string          `json:"payment_method"`
	Amount        decimal.Decimal `json:"amount"`
}

// MoveTableRequest relocates an order to a free table.
type MoveTableRequest struct {
	NewTableNumber int `json:"new_table_number"`
}

// MergeTableRequest folds this order into the order on the target table.
// TargetOrderID may be nil; the backend resolves it from the table.
type MergeTableRequest struct {
	TargetTableNumber int    `json:"target_table_number"`
	TargetOrderID     *int64 `json:"target_order_id"`
	SourceTableNumber int    `json:"source_table_number"`
}
