// Package extras resolves a product's extras-group references against the
// backend catalog and normalizes chosen extras selections.
package extras

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kiwari-pos/terminal/internal/cart"
)

// Item is one selectable add-on inside a group.
type Item struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"price"`
	Unit      string          `json:"unit"`
	Amount    decimal.Decimal `json:"amount"`
}

// Group is a named catalog of add-ons a product may offer.
type Group struct {
	ID    int64  `json:"id"`
	Name  string `json:"group_name"`
	Items []Item `json:"items"`
}

// FallbackGroupName names the pseudo-group synthesized from a product's
// inline manual extras when it references no catalog group.
const FallbackGroupName = "Extras"

// NormalizeKey canonicalizes a group name for matching: trim, lowercase,
// collapse internal whitespace.
func NormalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// GroupRefs are a product's extras-group references in both forms the
// backend has stored them over time.
type GroupRefs struct {
	IDs   []int64
	Names []string
}

// Empty reports whether the product references no group at all.
func (r GroupRefs) Empty() bool {
	return len(r.IDs) == 0 && len(r.Names) == 0
}

// DeriveRefs extracts and normalizes a product's group references,
// de-duplicating ids and name keys.
func DeriveRefs(p cart.Product) GroupRefs {
	var refs GroupRefs
	seenIDs := make(map[int64]bool)
	for _, id := range p.ExtrasGroupIDs {
		if id != 0 && !seenIDs[id] {
			seenIDs[id] = true
			refs.IDs = append(refs.IDs, id)
		}
	}
	seenNames := make(map[string]bool)
	for _, name := range p.ExtrasGroupNames {
		key := NormalizeKey(name)
		if key != "" && !seenNames[key] {
			seenNames[key] = true
			refs.Names = append(refs.Names, key)
		}
	}
	return refs
}

// ResolveGroups returns the extras groups to offer for a product, or nil
// when the product has no extras step at all.
//
// References match by id OR normalized name, tolerating a stale half.
// References that resolve to nothing fall back to the whole catalog:
// they are advisory, and an empty extras screen for a product that
// clearly wants extras is worse than an over-wide one. A product with no
// references but inline manual extras gets a single synthesized group.
func ResolveGroups(p cart.Product, catalog []Group) []Group {
	refs := DeriveRefs(p)
	if !refs.Empty() {
		if matched := matchGroups(refs, catalog); len(matched) > 0 {
			return matched
		}
		if len(catalog) > 0 {
			return catalog
		}
	}
	if len(p.ManualExtras) > 0 {
		return []Group{manualGroup(p.ManualExtras)}
	}
	return nil
}

func matchGroups(refs GroupRefs, catalog []Group) []Group {
	var matched []Group
	for _, g := range catalog {
		if refMatches(refs, g) {
			matched = append(matched, g)
		}
	}
	return matched
}

func refMatches(refs GroupRefs, g Group) bool {
	for _, id := range refs.IDs {
		if id == g.ID {
			return true
		}
	}
	key := NormalizeKey(g.Name)
	if key == "" {
		return false
	}
	for _, name := range refs.Names {
		if name == key {
			return true
		}
	}
	return false
}

func manualGroup(manual []cart.ExtraSelection) Group {
	g := Group{Name: FallbackGroupName}
	for _, ex := range manual {
		amount := ex.Amount
		if amount.IsZero() {
			amount = decimal.NewFromInt(1)
		}
		g.Items = append(g.Items, Item{
			Name:      ex.Name,
			UnitPrice: ex.UnitPrice,
			Unit:      ex.Unit,
			Amount:    amount,
		})
	}
	return g
}

// MergeSelection increments or decrements one named extra within a
// selection, removing the entry when its quantity would reach zero.
// Decrementing an absent extra is a no-op: quantities never go negative.
func MergeSelection(current []cart.ExtraSelection, it Item, delta int64) []cart.ExtraSelection {
	out := make([]cart.ExtraSelection, 0, len(current)+1)
	found := false
	for _, ex := range current {
		if ex.Name != it.Name {
			out = append(out, ex)
			continue
		}
		found = true
		next := ex.Quantity + delta
		if next <= 0 {
			continue
		}
		ex.Quantity = next
		out = append(out, ex)
	}
	if !found && delta > 0 {
		amount := it.Amount
		if amount.IsZero() {
			amount = decimal.NewFromInt(1)
		}
		out = append(out, cart.ExtraSelection{
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  delta,
			Unit:      strings.ToLower(strings.TrimSpace(it.Unit)),
			Amount:    amount,
		})
	}
	return out
}
