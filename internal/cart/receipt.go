package cart

// ReceiptGroup is the set of items paid together under one receipt id.
// Groups are immutable history: they exist purely for display.
type ReceiptGroup struct {
	ReceiptID     string `json:"receipt_id"`
	PaymentMethod string `json:"payment_method"`
	Items         []Item `json:"items"`
}

// GroupByReceipt collects paid items into receipt groups, preserving the
// order receipts first appear in the item list. Paid items without a
// receipt id (legacy rows) are grouped under an empty id.
func GroupByReceipt(items []Item) []ReceiptGroup {
	var groups []ReceiptGroup
	index := make(map[string]int)

	for _, it := range items {
		if !it.IsPaid() {
			continue
		}
		i, ok := index[it.ReceiptID]
		if !ok {
			i = len(groups)
			index[it.ReceiptID] = i
			groups = append(groups, ReceiptGroup{
				ReceiptID:     it.ReceiptID,
				PaymentMethod: it.PaymentMethod,
			})
		}
		groups[i].Items = append(groups[i].Items, it)
	}
	return groups
}
