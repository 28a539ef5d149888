package cart

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiwari-pos/terminal/internal/enum"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestResolveUnitPricePercentPromo(t *testing.T) {
	p := Product{
		Price:         dec("20"),
		OriginalPrice: dec("20"),
		DiscountType:  enum.DiscountTypePercent,
		DiscountValue: dec("25"),
	}
	got := ResolveUnitPrice(p, time.Now())
	assert.True(t, dec("15").Equal(got.UnitPrice))
	assert.True(t, dec("20").Equal(got.OriginalPrice))
	assert.True(t, got.Applied)
}

func TestResolveUnitPriceOutsidePromoWindow(t *testing.T) {
	p := Product{
		Price:         dec("20"),
		DiscountType:  enum.DiscountTypeFixed,
		DiscountValue: dec("5"),
		PromoStart:    "2020-01-01",
		PromoEnd:      "2020-01-31",
	}
	got := ResolveUnitPrice(p, time.Date(2020, 2, 10, 12, 0, 0, 0, time.UTC))
	assert.True(t, dec("20").Equal(got.UnitPrice))
	assert.False(t, got.Applied)
}

func TestResolveUnitPriceFixedFloorsAtZero(t *testing.T) {
	p := Product{
		Price:         dec("3"),
		DiscountType:  enum.DiscountTypeFixed,
		DiscountValue: dec("5"),
	}
	got := ResolveUnitPrice(p, time.Now())
	assert.True(t, got.UnitPrice.IsZero())
	assert.True(t, got.Applied)
}

func TestCloneWithExtrasDropsZeroQuantity(t *testing.T) {
	p := Product{ID: 7, Name: "Burger", Price: dec("10")}
	it := CloneWithExtras(p, []ExtraSelection{
		{Name: "cheese", UnitPrice: dec("1"), Quantity: 0},
		{Name: "bacon", UnitPrice: dec("2"), Quantity: 1},
	}, "")
	require.Len(t, it.Extras, 1)
	assert.Equal(t, "bacon", it.Extras[0].Name)
	assert.EqualValues(t, 1, it.Quantity)
}

func TestLockedAndMergeable(t *testing.T) {
	p := Product{ID: 7, Name: "Burger", Price: dec("10")}

	plain := NewDraftItem(p)
	assert.False(t, plain.Locked())
	assert.True(t, plain.Mergeable())

	withExtras := CloneWithExtras(p, []ExtraSelection{{Name: "cheese", UnitPrice: dec("1"), Quantity: 1}}, "")
	assert.False(t, withExtras.Mergeable())

	noted := CloneWithExtras(p, nil, "no onions")
	assert.False(t, noted.Mergeable())

	confirmed := plain
	confirmed.Confirmed = true
	assert.True(t, confirmed.Locked())
	assert.False(t, confirmed.Mergeable())
}

func TestIsPaidTrustsTimestamp(t *testing.T) {
	now := time.Now()
	it := Item{PaidAt: &now}
	assert.True(t, it.IsPaid())
	assert.False(t, Item{}.IsPaid())
}

func TestGroupByReceiptPreservesOrder(t *testing.T) {
	now := time.Now()
	items := []Item{
		{Name: "a", PaidAt: &now, ReceiptID: "r1", PaymentMethod: "Cash"},
		{Name: "b"},
		{Name: "c", PaidAt: &now, ReceiptID: "r2", PaymentMethod: "Card"},
		{Name: "d", PaidAt: &now, ReceiptID: "r1", PaymentMethod: "Cash"},
	}
	groups := GroupByReceipt(items)
	require.Len(t, groups, 2)
	assert.Equal(t, "r1", groups[0].ReceiptID)
	assert.Len(t, groups[0].Items, 2)
	assert.Equal(t, "r2", groups[1].ReceiptID)
}
