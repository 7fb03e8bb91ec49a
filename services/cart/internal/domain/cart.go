package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Variant is the closed set of selection fields a line can be distinguished by.
// An empty field means the field is not selected.
type Variant struct {
	Color string `json:"color,omitempty"`
	Size  string `json:"size,omitempty"`
	SKU   string `json:"sku,omitempty"`
}

// IsZero reports whether no variant field is populated.
func (v Variant) IsZero() bool {
	return v.Color == "" && v.Size == "" && v.SKU == ""
}

// NormalizeVariant trims whitespace from every field and maps a variant with no
// populated field to nil ("no variant distinction").
func NormalizeVariant(v *Variant) *Variant {
	if v == nil {
		return nil
	}
	n := Variant{
		Color: strings.TrimSpace(v.Color),
		Size:  strings.TrimSpace(v.Size),
		SKU:   strings.TrimSpace(v.SKU),
	}
	if n.IsZero() {
		return nil
	}
	return &n
}

// Identity is the (productId, variant) tuple that decides whether two
// operations refer to the same cart line.
type Identity struct {
	ProductID string   `json:"product_id"`
	Variant   *Variant `json:"variant,omitempty"`
}

// NewIdentity builds a normalized identity.
func NewIdentity(productID string, variant *Variant) Identity {
	return Identity{
		ProductID: strings.TrimSpace(productID),
		Variant:   NormalizeVariant(variant),
	}
}

// Valid reports whether the identity references a product at all.
func (id Identity) Valid() bool {
	return id.ProductID != ""
}

// String renders the identity as a stable key, e.g. "prod-1|red|M|".
func (id Identity) String() string {
	if id.Variant == nil {
		return id.ProductID
	}
	return id.ProductID + "|" + id.Variant.Color + "|" + id.Variant.Size + "|" + id.Variant.SKU
}

// LineItem is one entry in a cart.
type LineItem struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	Variant   *Variant        `json:"variant,omitempty"`
	Name      string          `json:"name,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// Identity returns the line's identity.
func (li LineItem) Identity() Identity {
	return Identity{ProductID: li.ProductID, Variant: li.Variant}
}

// Clone returns a copy that shares no pointers with li.
func (li LineItem) Clone() LineItem {
	if li.Variant != nil {
		v := *li.Variant
		li.Variant = &v
	}
	return li
}

// IdentityMatches reports whether item a and identity b refer to the same line.
// Lines without a variant never match lines with one, even for the same product.
func IdentityMatches(a LineItem, b Identity) bool {
	if a.ProductID != b.ProductID {
		return false
	}
	switch {
	case a.Variant == nil && b.Variant == nil:
		return true
	case a.Variant == nil || b.Variant == nil:
		return false
	}
	return *a.Variant == *b.Variant
}

// FindIndex returns the index of the first item matching id, or -1.
func FindIndex(items []LineItem, id Identity) int {
	for i := range items {
		if IdentityMatches(items[i], id) {
			return i
		}
	}
	return -1
}

// FindIndexByID returns the index of the item with the given line id, or -1.
func FindIndexByID(items []LineItem, itemID string) int {
	if itemID == "" {
		return -1
	}
	for i := range items {
		if items[i].ID == itemID {
			return i
		}
	}
	return -1
}

// State is the authoritative in-memory representation of a cart.
type State struct {
	Items      []LineItem      `json:"items"`
	TotalItems int             `json:"total_items"`
	TotalPrice decimal.Decimal `json:"total_price"`
	IsOpen     bool            `json:"is_open"`
	IsSyncing  bool            `json:"is_syncing"`
}

// EmptyState returns a cart with no items and zero totals.
func EmptyState() State {
	return State{Items: []LineItem{}, TotalPrice: decimal.Zero}
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	items := make([]LineItem, len(s.Items))
	for i, item := range s.Items {
		items[i] = item.Clone()
	}
	s.Items = items
	return s
}

// WithItems returns s with items replaced and totals recomputed.
func (s State) WithItems(items []LineItem) State {
	if items == nil {
		items = []LineItem{}
	}
	s.Items = items
	t := ComputeTotals(items)
	s.TotalItems = t.TotalItems
	s.TotalPrice = t.TotalPrice
	return s
}
