package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/utafrali/EcommerceGo/services/cart/internal/domain"
	"github.com/utafrali/EcommerceGo/services/cart/internal/reducer"
)

// LocalStore is the synchronous guest cart. All mutations are local; line ids
// are assigned here.
type LocalStore struct {
	mu        sync.Mutex
	state     domain.State
	closed    bool
	persister Persister
	catalog   Catalog
	logger    *slog.Logger
}

var _ Cart = (*LocalStore)(nil)

// NewLocalStore creates an empty local store. persister and catalog may be nil.
func NewLocalStore(persister Persister, catalog Catalog, logger *slog.Logger) *LocalStore {
	if persister == nil {
		persister = nopPersister{}
	}
	return &LocalStore{
		state:     domain.EmptyState(),
		persister: persister,
		catalog:   catalog,
		logger:    logger,
	}
}

// State returns a copy of the current state.
func (s *LocalStore) State() domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Dispatch applies a single intent and returns the resulting state.
func (s *LocalStore) Dispatch(in reducer.Intent) (domain.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.state.Clone(), ErrStoreClosed
	}

	next := reducer.Apply(s.state, in)
	s.state = next
	s.persister.Save(next.Clone().Items)
	return next.Clone(), nil
}

// Add merges into an existing line or appends a new line with a fresh id.
func (s *LocalStore) Add(_ context.Context, in AddInput) (domain.State, error) {
	return s.Dispatch(reducer.Add{
		ID:        uuid.New().String(),
		ProductID: in.ProductID,
		Variant:   in.Variant,
		Name:      in.Name,
		UnitPrice: in.UnitPrice,
		Quantity:  in.Quantity,
	})
}

// Remove deletes the matching line.
func (s *LocalStore) Remove(_ context.Context, id domain.Identity) (domain.State, error) {
	return s.Dispatch(reducer.Remove{Identity: id})
}

// SetQuantity replaces the matching line's quantity.
func (s *LocalStore) SetQuantity(_ context.Context, id domain.Identity, quantity int) (domain.State, error) {
	return s.Dispatch(reducer.SetQuantity{Identity: id, Quantity: quantity})
}

// Increment adds one unit to the matching line.
func (s *LocalStore) Increment(_ context.Context, id domain.Identity) (domain.State, error) {
	return s.Dispatch(reducer.Increment{Identity: id})
}

// Decrement removes one unit from the matching line.
func (s *LocalStore) Decrement(_ context.Context, id domain.Identity) (domain.State, error) {
	return s.Dispatch(reducer.Decrement{Identity: id})
}

// Clear empties the cart.
func (s *LocalStore) Clear(_ context.Context) (domain.State, error) {
	return s.Dispatch(reducer.Clear{})
}

// Sync rehydrates the cart from the persisted projection.
func (s *LocalStore) Sync(ctx context.Context) (domain.State, error) {
	return s.Rehydrate(ctx)
}

// Rehydrate replaces the items with the persisted projection. Restored lines
// carry no price or variant, so lines of one product collapse into a single
// line; when a catalog is configured they are re-priced from it, and a failed
// lookup leaves the price at zero.
func (s *LocalStore) Rehydrate(ctx context.Context) (domain.State, error) {
	items := mergeByProduct(s.persister.Restore(ctx))
	if s.catalog != nil {
		for i := range items {
			p, err := s.catalog.UnitPrice(ctx, items[i].ProductID)
			if err != nil {
				s.logger.WarnContext(ctx, "failed to price restored cart line",
					slog.String("product_id", items[i].ProductID),
					slog.String("error", err.Error()),
				)
				continue
			}
			items[i].UnitPrice = p
		}
	}

	state, err := s.Dispatch(reducer.LoadSnapshot{Items: items})
	if err != nil {
		return state, err
	}

	s.logger.DebugContext(ctx, "local cart rehydrated",
		slog.Int("items", len(state.Items)),
		slog.Int("total_items", state.TotalItems),
	)
	return state, nil
}

// mergeByProduct folds entries sharing a product id into the first one,
// summing quantities. Without variants they all have the same identity.
func mergeByProduct(items []domain.LineItem) []domain.LineItem {
	out := make([]domain.LineItem, 0, len(items))
	seen := make(map[string]int, len(items))
	for _, item := range items {
		if i, ok := seen[item.ProductID]; ok {
			out[i].Quantity += item.Quantity
			continue
		}
		seen[item.ProductID] = len(out)
		out = append(out, item)
	}
	return out
}

// Close tears the store down. It is safe to call multiple times.
func (s *LocalStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
