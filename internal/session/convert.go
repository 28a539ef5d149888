package session

import (
	"github.com/kiwari-pos/terminal/internal/backend"
	"github.com/kiwari-pos/terminal/internal/cart"
	"github.com/kiwari-pos/terminal/internal/enum"
	"github.com/kiwari-pos/terminal/internal/pricing"
)

// itemFromServer rebuilds a cart line from its persisted row. A row
// whose unique_id does not parse (written by an older client) gets a
// fresh lineage-zero key so it still displays and pays.
func itemFromServer(row backend.OrderItem) cart.Item {
	extras := make([]cart.ExtraSelection, 0, len(row.Extras))
	for _, ex := range row.Extras {
		extras = append(extras, cart.ExtraSelection{
			Name:      ex.Name,
			UnitPrice: ex.Price,
			Quantity:  ex.Quantity,
			Unit:      ex.Unit,
			Amount:    ex.Amount,
		})
	}
	if len(extras) == 0 {
		extras = nil
	}

	key, err := cart.ParseLineKey(row.UniqueID)
	if err != nil {
		key = cart.NewLineKey(row.ProductID, row.Price, extras, row.Note)
	}

	return cart.Item{
		Key:           key,
		ProductID:     row.ProductID,
		Name:          row.Name,
		UnitPrice:     row.Price,
		OriginalPrice: row.OriginalPrice,
		PromoApplied:  row.OriginalPrice.GreaterThan(row.Price),
		Quantity:      row.Quantity,
		Category:      row.Category,
		Extras:        extras,
		Note:          row.Note,
		Confirmed:     true,
		Paid:          row.PaidAt != nil,
		PaidAt:        row.PaidAt,
		PaymentMethod: row.PaymentMethod,
		ReceiptID:     row.ReceiptID,
		KitchenStatus: row.KitchenStatus,
	}
}

// itemToServer renders a draft line as the row the backend persists on
// confirmation. The cart discount is stamped onto every row so receipts
// printed later reproduce the price the guest saw.
func itemToServer(orderID int64, it cart.Item, d pricing.Discount) backend.OrderItem {
	extras := make([]backend.OrderItemExtra, 0, len(it.Extras))
	for _, ex := range it.Extras {
		extras = append(extras, backend.OrderItemExtra{
			Name:     ex.Name,
			Price:    ex.UnitPrice,
			Quantity: ex.Quantity,
			Unit:     ex.Unit,
			Amount:   ex.Amount,
		})
	}

	discountType := d.Type
	if d.IsZero() {
		discountType = enum.DiscountTypeNone
	}

	return backend.OrderItem{
		OrderID:       orderID,
		ProductID:     it.ProductID,
		UniqueID:      it.Key.String(),
		Name:          it.Name,
		Price:         it.UnitPrice,
		OriginalPrice: it.OriginalPrice,
		Quantity:      it.Quantity,
		Category:      it.Category,
		Extras:        extras,
		Note:          it.Note,
		KitchenStatus: enum.KitchenStatusNew,
		DiscountType:  discountType,
		DiscountValue: d.Value,
	}
}
