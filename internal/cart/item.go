package cart

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExtraSelection is one chosen add-on on a cart line. Quantity is always
// positive: a selection dropping to zero is removed, never stored.
type ExtraSelection struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
	Unit      string          `json:"unit"`
	Amount    decimal.Decimal `json:"amount"`
}

// Item is one line in the cart. Items are value objects owned by the
// session controller; the UI reads them but never mutates them directly.
type Item struct {
	Key           LineKey          `json:"key"`
	ProductID     int64            `json:"product_id"`
	Name          string           `json:"name"`
	UnitPrice     decimal.Decimal  `json:"price"`
	OriginalPrice decimal.Decimal  `json:"original_price"`
	PromoApplied  bool             `json:"promo_applied"`
	Quantity      int64            `json:"quantity"`
	Category      string           `json:"category"`
	Ingredients   []string         `json:"ingredients"`
	Extras        []ExtraSelection `json:"extras"`
	Note          string           `json:"note"`

	Confirmed     bool       `json:"confirmed"`
	Paid          bool       `json:"paid"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	PaymentMethod string     `json:"payment_method,omitempty"`
	ReceiptID     string     `json:"receipt_id,omitempty"`
	KitchenStatus string     `json:"kitchen_status,omitempty"`
}

// NewDraftItem builds an unconfirmed, extras-free line for a product,
// resolving any active promo price at add time.
func NewDraftItem(p Product) Item {
	return CloneWithExtras(p, nil, "")
}

// CloneWithExtras builds an unconfirmed line for a product carrying the
// given extras selection and note. Zero-quantity extras are dropped so
// the positive-quantity invariant holds from construction.
func CloneWithExtras(p Product, extras []ExtraSelection, note string) Item {
	valid := make([]ExtraSelection, 0, len(extras))
	for _, ex := range extras {
		if ex.Quantity <= 0 {
			continue
		}
		if ex.Amount.IsZero() {
			ex.Amount = decimal.NewFromInt(1)
		}
		valid = append(valid, ex)
	}
	if len(valid) == 0 {
		valid = nil
	}

	pricing := ResolveUnitPrice(p, time.Now())
	return Item{
		Key:           NewLineKey(p.ID, pricing.UnitPrice, valid, note),
		ProductID:     p.ID,
		Name:          p.Name,
		UnitPrice:     pricing.UnitPrice,
		OriginalPrice: pricing.OriginalPrice,
		PromoApplied:  pricing.Applied,
		Quantity:      1,
		Category:      p.Category,
		Ingredients:   p.Ingredients,
		Extras:        valid,
		Note:          note,
	}
}

// Locked reports whether the line may no longer be mutated or merged
// into: the kitchen or the payment system has already seen it.
func (it Item) Locked() bool {
	return it.Confirmed || it.Paid
}

// Mergeable reports whether an identical add may fold into this line by
// bumping quantity. Only plain (extras-free, note-free) unlocked lines
// quantity-merge; everything else gets its own line.
func (it Item) Mergeable() bool {
	return !it.Locked() && len(it.Extras) == 0 && it.Note == ""
}

// IsPaid treats a backend paid timestamp as authoritative even when the
// boolean flag lags behind.
func (it Item) IsPaid() bool {
	return it.Paid || it.PaidAt != nil
}
