// Package reducer implements the pure cart state-transition function used by
// the local cart store and, for its optimistic half, by the synchronized store.
package reducer

import (
	"github.com/shopspring/decimal"

	"github.com/utafrali/EcommerceGo/services/cart/internal/domain"
)

// Intent is a cart mutation request. The set of intents is closed: every
// implementation lives in this package.
type Intent interface {
	apply(s domain.State) domain.State
}

// Add puts Quantity units of a product selection into the cart. An existing
// line with the same identity is incremented; otherwise a new line is appended.
// Quantity 0 means the default of 1.
type Add struct {
	ID        string
	ProductID string
	Variant   *domain.Variant
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// Remove deletes the matching line. Absent lines are a no-op.
type Remove struct {
	Identity domain.Identity
}

// SetQuantity replaces the matching line's quantity. Quantity <= 0 removes it.
type SetQuantity struct {
	Identity domain.Identity
	Quantity int
}

// Increment adds one unit to the matching line.
type Increment struct {
	Identity domain.Identity
}

// Decrement removes one unit from the matching line, dropping it at zero.
type Decrement struct {
	Identity domain.Identity
}

// Clear empties the cart and closes it.
type Clear struct{}

// LoadSnapshot replaces the items wholesale. The list is not deduplicated.
type LoadSnapshot struct {
	Items []domain.LineItem
}

// Open, Close and Toggle drive the visibility flag only.
type (
	Open   struct{}
	Close  struct{}
	Toggle struct{}
)

// Apply returns the state that results from applying in to s. s is never
// modified; the returned state shares no item memory with it.
func Apply(s domain.State, in Intent) domain.State {
	if in == nil {
		return s.Clone()
	}
	return in.apply(s.Clone())
}

func (a Add) apply(s domain.State) domain.State {
	id := domain.NewIdentity(a.ProductID, a.Variant)
	qty := a.Quantity
	if qty == 0 {
		qty = 1
	}
	if !id.Valid() || qty < 0 {
		return s
	}

	if i := domain.FindIndex(s.Items, id); i >= 0 {
		s.Items[i].Quantity += qty
		return s.WithItems(s.Items)
	}

	return s.WithItems(append(s.Items, domain.LineItem{
		ID:        a.ID,
		ProductID: id.ProductID,
		Variant:   id.Variant,
		Name:      a.Name,
		UnitPrice: a.UnitPrice,
		Quantity:  qty,
	}))
}

func (r Remove) apply(s domain.State) domain.State {
	i := domain.FindIndex(s.Items, normalize(r.Identity))
	if i < 0 {
		return s
	}
	return s.WithItems(removeAt(s.Items, i))
}

func (q SetQuantity) apply(s domain.State) domain.State {
	if q.Quantity <= 0 {
		return Remove{Identity: q.Identity}.apply(s)
	}
	i := domain.FindIndex(s.Items, normalize(q.Identity))
	if i < 0 {
		return s
	}
	s.Items[i].Quantity = q.Quantity
	return s.WithItems(s.Items)
}

func (inc Increment) apply(s domain.State) domain.State {
	i := domain.FindIndex(s.Items, normalize(inc.Identity))
	if i < 0 {
		return s
	}
	s.Items[i].Quantity++
	return s.WithItems(s.Items)
}

func (dec Decrement) apply(s domain.State) domain.State {
	i := domain.FindIndex(s.Items, normalize(dec.Identity))
	if i < 0 {
		return s
	}
	if s.Items[i].Quantity <= 1 {
		return s.WithItems(removeAt(s.Items, i))
	}
	s.Items[i].Quantity--
	return s.WithItems(s.Items)
}

func (Clear) apply(s domain.State) domain.State {
	s.IsOpen = false
	return s.WithItems([]domain.LineItem{})
}

func (l LoadSnapshot) apply(s domain.State) domain.State {
	items := make([]domain.LineItem, len(l.Items))
	for i, item := range l.Items {
		items[i] = item.Clone()
	}
	return s.WithItems(items)
}

func (Open) apply(s domain.State) domain.State {
	s.IsOpen = true
	return s
}

func (Close) apply(s domain.State) domain.State {
	s.IsOpen = false
	return s
}

func (Toggle) apply(s domain.State) domain.State {
	s.IsOpen = !s.IsOpen
	return s
}

func normalize(id domain.Identity) domain.Identity {
	return domain.NewIdentity(id.ProductID, id.Variant)
}

func removeAt(items []domain.LineItem, i int) []domain.LineItem {
	out := make([]domain.LineItem, 0, len(items)-1)
	out = append(out, items[:i]...)
	return append(out, items[i+1:]...)
}
