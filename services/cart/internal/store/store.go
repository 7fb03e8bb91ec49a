// Package store holds the cart store contract shared by the local and the
// synchronized stores, and the local (guest) store itself.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/utafrali/EcommerceGo/services/cart/internal/domain"
)

// ErrStoreClosed is returned by operations issued after a store was torn down.
var ErrStoreClosed = errors.New("cart store closed")

// AddInput holds the parameters of an add operation. Price and variant
// validity are resolved by the caller against the catalog beforehand.
type AddInput struct {
	ProductID string
	Variant   *domain.Variant
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// Identity returns the normalized identity the input refers to.
func (in AddInput) Identity() domain.Identity {
	return domain.NewIdentity(in.ProductID, in.Variant)
}

// Cart is the contract the presentation layer consumes. Every method returns
// the state visible after the operation; on error the returned state is the
// last known-good state.
type Cart interface {
	State() domain.State
	Add(ctx context.Context, in AddInput) (domain.State, error)
	Remove(ctx context.Context, id domain.Identity) (domain.State, error)
	SetQuantity(ctx context.Context, id domain.Identity, quantity int) (domain.State, error)
	Increment(ctx context.Context, id domain.Identity) (domain.State, error)
	Decrement(ctx context.Context, id domain.Identity) (domain.State, error)
	Clear(ctx context.Context) (domain.State, error)
	// Sync reloads the cart from its source of record.
	Sync(ctx context.Context) (domain.State, error)
	Close()
}

// Persister receives the items after every state change and supplies them
// back on startup. Implementations must not block and never fail the caller.
type Persister interface {
	Save(items []domain.LineItem)
	Restore(ctx context.Context) []domain.LineItem
}

// Catalog resolves the current unit price of a product.
type Catalog interface {
	UnitPrice(ctx context.Context, productID string) (decimal.Decimal, error)
}

type nopPersister struct{}

func (nopPersister) Save([]domain.LineItem) {}

func (nopPersister) Restore(context.Context) []domain.LineItem { return nil }
