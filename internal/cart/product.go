package cart

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kiwari-pos/terminal/internal/enum"
)

// Product is the catalog entry as served by the backend. Only the fields
// the transaction session needs are modeled; the full catalog record
// lives server-side.
type Product struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	DiscountType  string          `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	PromoStart    string          `json:"promo_start"` // YYYY-MM-DD, optional
	PromoEnd      string          `json:"promo_end"`   // YYYY-MM-DD, optional
	Category      string          `json:"category"`
	Ingredients   []string        `json:"ingredients"`

	// Extras-group references, by id and/or by name. Both forms must
	// resolve to the same matched set; either may be stale.
	ExtrasGroupIDs   []int64  `json:"extras_group_ids"`
	ExtrasGroupNames []string `json:"extras_group_names"`

	// ManualExtras are inline add-ons configured directly on the product
	// for products without any group reference.
	ManualExtras []ExtraSelection `json:"extras"`
}

// UnitPricing is the outcome of resolving a product's promo discount at
// add-to-cart time.
type UnitPricing struct {
	UnitPrice     decimal.Decimal
	OriginalPrice decimal.Decimal
	Applied       bool
}

// ResolveUnitPrice applies a product-level promo discount when its window
// covers today. An absent window means the promo is always on.
func ResolveUnitPrice(p Product, today time.Time) UnitPricing {
	original := p.OriginalPrice
	if original.IsZero() {
		original = p.Price
	}

	pricing := UnitPricing{UnitPrice: original, OriginalPrice: original}
	if p.DiscountType == "" || p.DiscountType == enum.DiscountTypeNone || !p.DiscountValue.IsPositive() {
		return pricing
	}
	if !promoActiveOn(today, p.PromoStart, p.PromoEnd) {
		return pricing
	}

	var discounted decimal.Decimal
	switch p.DiscountType {
	case enum.DiscountTypePercent:
		factor := decimal.NewFromInt(1).Sub(p.DiscountValue.Div(decimal.NewFromInt(100)))
		discounted = original.Mul(factor)
	case enum.DiscountTypeFixed:
		discounted = original.Sub(p.DiscountValue)
	default:
		return pricing
	}
	if discounted.IsNegative() {
		discounted = decimal.Zero
	}

	pricing.UnitPrice = discounted
	pricing.Applied = discounted.LessThan(original)
	return pricing
}

func promoActiveOn(today time.Time, start, end string) bool {
	if start == "" && end == "" {
		return true
	}
	ymd := today.Format("2006-01-02")
	if start != "" && ymd < start {
		return false
	}
	if end != "" && ymd > end {
		return false
	}
	return true
}
