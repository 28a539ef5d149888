// Package pricing holds the pure currency math behind the transaction
// screen. Intermediate results keep full precision; rounding to cents
// happens only at display and persistence boundaries.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/kiwari-pos/terminal/internal/cart"
	"github.com/kiwari-pos/terminal/internal/enum"
)

// splitTolerance is the cent-level slack allowed when checking that
// split amounts cover the total due (0.005 currency units).
var splitTolerance = decimal.New(5, -3)

// Discount is a cart-level discount applied to the unpaid subtotal.
type Discount struct {
	Type  string          `json:"type"`
	Value decimal.Decimal `json:"value"`
}

// IsZero reports whether the discount changes anything.
func (d Discount) IsZero() bool {
	return d.Type == "" || d.Type == enum.DiscountTypeNone || !d.Value.IsPositive()
}

// ExtrasUnitTotal sums one unit's worth of extras on a line.
func ExtrasUnitTotal(extras []cart.ExtraSelection) decimal.Decimal {
	total := decimal.Zero
	for _, ex := range extras {
		total = total.Add(ex.UnitPrice.Mul(decimal.NewFromInt(ex.Quantity)))
	}
	return total
}

// LineTotal computes (unit price + extras per unit) × quantity.
func LineTotal(it cart.Item) decimal.Decimal {
	unit := it.UnitPrice.Add(ExtrasUnitTotal(it.Extras))
	return unit.Mul(decimal.NewFromInt(it.Quantity))
}

// PerUnitTotal is the line total divided over its quantity, used when
// paying a partial quantity of a line.
func PerUnitTotal(it cart.Item) decimal.Decimal {
	return it.UnitPrice.Add(ExtrasUnitTotal(it.Extras))
}

// CartSubtotal sums line totals. With includePaid false, already-paid
// lines are skipped, which is the subtotal discounts apply to.
func CartSubtotal(items []cart.Item, includePaid bool) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		if !includePaid && it.IsPaid() {
			continue
		}
		total = total.Add(LineTotal(it))
	}
	return total
}

// ApplyDiscount reduces a subtotal by a percent or fixed discount,
// flooring at zero. Callers pass the unpaid subtotal only: discounts
// never reach items that were already paid.
func ApplyDiscount(subtotal decimal.Decimal, d Discount) decimal.Decimal {
	if d.IsZero() {
		return subtotal
	}
	var out decimal.Decimal
	switch d.Type {
	case enum.DiscountTypePercent:
		factor := decimal.NewFromInt(1).Sub(d.Value.Div(decimal.NewFromInt(100)))
		out = subtotal.Mul(factor)
	case enum.DiscountTypeFixed:
		out = subtotal.Sub(d.Value)
	default:
		return subtotal
	}
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// SplitRemainder is the amount still uncovered after summing the split
// entries. Negative means the splits overshoot.
func SplitRemainder(totalDue decimal.Decimal, splits map[string]decimal.Decimal) decimal.Decimal {
	covered := decimal.Zero
	for _, amount := range splits {
		covered = covered.Add(amount)
	}
	return totalDue.Sub(covered)
}

// SplitConfirmable reports whether the splits cover the total due within
// the cent-level tolerance.
func SplitConfirmable(totalDue decimal.Decimal, splits map[string]decimal.Decimal) bool {
	return SplitRemainder(totalDue, splits).Abs().LessThanOrEqual(splitTolerance)
}

// NonZeroSplits drops zero and negative entries; only these are persisted
// as receipt-method rows.
func NonZeroSplits(splits map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(splits))
	for method, amount := range splits {
		if amount.IsPositive() {
			out[method] = amount
		}
	}
	return out
}

// RoundCents rounds to two decimal places for display or persistence.
func RoundCents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
