package enum

// Order/session lifecycle. "loading" through "partially_paid" are derived
// on the terminal from the cart items' confirmed/paid flags. "closed" is
// authoritative only after the backend acknowledges closure.

const (
	OrderStatusLoading       = "loading"
	OrderStatusDraft         = "draft"
	OrderStatusConfirmed     = "confirmed"
	OrderStatusPartiallyPaid = "partially_paid"
	OrderStatusPaid          = "paid"
	OrderStatusClosed        = "closed"
	OrderStatusCancelled     = "cancelled"
)

const (
	OrderTypeTable    = "table"
	OrderTypePhone    = "phone"
	OrderTypePacket   = "packet"
	OrderTypeTakeaway = "takeaway"
)

// Kitchen pipeline statuses, owned by the backend; the terminal only
// reads them.

const (
	KitchenStatusNew             = "new"
	KitchenStatusPreparing       = "preparing"
	KitchenStatusReady           = "ready"
	KitchenStatusDelivered       = "delivered"
	KitchenStatusPacketDelivered = "packet_delivered"
)

const (
	DiscountTypeNone    = "none"
	DiscountTypePercent = "percent"
	DiscountTypeFixed   = "fixed"
)

// SplitPaymentLabel is the payment_method recorded on a sub-order whose
// amount is divided across multiple receipt-method rows.
const SplitPaymentLabel = "Split"

// Socket events consumed from the backend.

const (
	EventItemPaid     = "item_paid"
	EventStockUpdated = "stock-updated"
	EventOrderMerged  = "order_merged"
)

// IsKitchenDelivered reports whether a kitchen status counts as delivered
// for the close guard. An empty status means the item never went through
// the kitchen.
func IsKitchenDelivered(status string) bool {
	switch status {
	case "", KitchenStatusDelivered, KitchenStatusPacketDelivered:
		return true
	}
	return false
}

// IsCancelled tolerates both spellings the backend has emitted over time.
func IsCancelled(status string) bool {
	return status == "cancelled" || status == "canceled"
}
