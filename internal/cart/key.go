package cart

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// LineKey identifies one cart line. Two lines for the same product stay
// distinct once their extras, note, or resolved unit price differ (the
// hash covers all three), and Lineage separates re-adds of a product
// whose earlier line was locked by confirmation or payment.
type LineKey struct {
	ProductID  int64  `json:"product_id"`
	ExtrasHash string `json:"extras_hash"`
	Lineage    int    `json:"lineage"`
}

// String renders the key in the "productID:hash:lineage" wire form used
// as the item's unique_id on the backend.
func (k LineKey) String() string {
	return fmt.Sprintf("%d:%s:%d", k.ProductID, k.ExtrasHash, k.Lineage)
}

// SameLine reports whether two keys refer to the same product/extras
// combination, ignoring lineage.
func (k LineKey) SameLine(other LineKey) bool {
	return k.ProductID == other.ProductID && k.ExtrasHash == other.ExtrasHash
}

// ParseLineKey parses the wire form produced by String.
func ParseLineKey(s string) (LineKey, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return LineKey{}, fmt.Errorf("malformed line key %q", s)
	}
	productID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return LineKey{}, fmt.Errorf("malformed line key %q: %w", s, err)
	}
	lineage, err := strconv.Atoi(parts[2])
	if err != nil {
		return LineKey{}, fmt.Errorf("malformed line key %q: %w", s, err)
	}
	return LineKey{ProductID: productID, ExtrasHash: parts[1], Lineage: lineage}, nil
}

// NewLineKey builds a lineage-zero key for a product at a resolved unit
// price with the given extras and note.
func NewLineKey(productID int64, unitPrice decimal.Decimal, extras []ExtraSelection, note string) LineKey {
	return LineKey{
		ProductID:  productID,
		ExtrasHash: hashLine(unitPrice, extras, note),
	}
}

// hashLine folds the unit price, the normalized extras set, and the note
// into a short stable digest. Extras are sorted by name so selection
// order does not change identity.
func hashLine(unitPrice decimal.Decimal, extras []ExtraSelection, note string) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "p=%s;n=%s", unitPrice.StringFixed(2), note)

	sorted := make([]ExtraSelection, len(extras))
	copy(sorted, extras)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, ex := range sorted {
		fmt.Fprintf(h, ";%s=%sx%d", ex.Name, ex.UnitPrice.StringFixed(2), ex.Quantity)
	}
	return fmt.Sprintf("%x", h.Sum64())
}
