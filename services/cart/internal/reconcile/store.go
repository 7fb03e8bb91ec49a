// Package reconcile implements the synchronized cart store: local optimistic
// transitions confirmed or rolled back against a remote cart authority.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/utafrali/EcommerceGo/pkg/errors"
	"github.com/utafrali/EcommerceGo/services/cart/internal/domain"
	"github.com/utafrali/EcommerceGo/services/cart/internal/reducer"
	"github.com/utafrali/EcommerceGo/services/cart/internal/store"
)

// ErrDivergence marks a failure after which local state and the authority are
// known to disagree. Callers recover with Sync.
var ErrDivergence = errors.New("cart diverged from authority")

// Authority is the remote source of truth for confirmed cart contents.
// Implementations must not retry.
type Authority interface {
	Create(ctx context.Context, productID string, variant *domain.Variant, quantity int) (domain.LineItem, error)
	Delete(ctx context.Context, itemID string) error
	Update(ctx context.Context, itemID string, quantity int) (domain.LineItem, error)
	List(ctx context.Context) ([]domain.LineItem, error)
}

// Clearer is implemented by authorities that can empty a cart in one call.
type Clearer interface {
	Clear(ctx context.Context) error
}

// Store is the synchronized cart store. Add is confirm-then-apply; remove,
// quantity changes and clear are apply-then-confirm. Exactly one remote call is
// issued per operation (clear without a Clearer issues one per line). Concurrent
// operations on the same identity are not ordered here; callers serialize them.
type Store struct {
	mu        sync.Mutex
	state     domain.State
	inflight  int
	closed    bool
	authority Authority
	persister store.Persister
	logger    *slog.Logger
}

var _ store.Cart = (*Store)(nil)

// NewStore creates an empty synchronized store. persister may be nil.
func NewStore(authority Authority, persister store.Persister, logger *slog.Logger) *Store {
	return &Store{
		state:     domain.EmptyState(),
		authority: authority,
		persister: persister,
		logger:    logger,
	}
}

// State returns a copy of the current state.
func (s *Store) State() domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view()
}

// Add asks the authority for the canonical line and only then merges it.
func (s *Store) Add(ctx context.Context, in store.AddInput) (domain.State, error) {
	id := in.Identity()
	qty := in.Quantity
	if qty == 0 {
		qty = 1
	}
	if !id.Valid() || qty < 0 {
		return s.State(), nil
	}

	op, err := s.begin(opAdd, id, nil)
	if err != nil {
		return s.State(), err
	}

	start := time.Now()
	line, err := s.authority.Create(ctx, id.ProductID, id.Variant, qty)
	observeRemote(opAdd, start)
	if err != nil {
		return s.rollback(ctx, op, err)
	}
	if line.Name == "" {
		line.Name = in.Name
	}

	return s.commit(ctx, op, func(st domain.State) domain.State {
		return merge(st, line, id)
	})
}

// Remove deletes the matching line locally, then confirms with the authority.
func (s *Store) Remove(ctx context.Context, id domain.Identity) (domain.State, error) {
	id = domain.NewIdentity(id.ProductID, id.Variant)
	return s.changeQuantity(ctx, opRemove, id, func(int) int { return 0 })
}

// SetQuantity sets the matching line's quantity, removing it for quantity <= 0.
func (s *Store) SetQuantity(ctx context.Context, id domain.Identity, quantity int) (domain.State, error) {
	id = domain.NewIdentity(id.ProductID, id.Variant)
	return s.changeQuantity(ctx, opSetQuantity, id, func(int) int { return quantity })
}

// Increment adds one unit to the matching line.
func (s *Store) Increment(ctx context.Context, id domain.Identity) (domain.State, error) {
	id = domain.NewIdentity(id.ProductID, id.Variant)
	return s.changeQuantity(ctx, opSetQuantity, id, func(q int) int { return q + 1 })
}

// Decrement removes one unit from the matching line, deleting it at zero.
func (s *Store) Decrement(ctx context.Context, id domain.Identity) (domain.State, error) {
	id = domain.NewIdentity(id.ProductID, id.Variant)
	return s.changeQuantity(ctx, opSetQuantity, id, func(q int) int { return q - 1 })
}

// changeQuantity drives remove and every quantity edit. The target quantity is
// computed from the line as it is when the operation begins.
func (s *Store) changeQuantity(ctx context.Context, kind string, id domain.Identity, target func(current int) int) (domain.State, error) {
	s.mu.Lock()
	if s.closed {
		defer s.mu.Unlock()
		return s.view(), store.ErrStoreClosed
	}
	i := domain.FindIndex(s.state.Items, id)
	if i < 0 {
		defer s.mu.Unlock()
		return s.view(), nil
	}
	itemID := s.state.Items[i].ID
	qty := target(s.state.Items[i].Quantity)
	if qty <= 0 {
		kind = opRemove
	}
	s.mu.Unlock()

	var optimistic reducer.Intent = reducer.SetQuantity{Identity: id, Quantity: qty}
	if kind == opRemove {
		optimistic = reducer.Remove{Identity: id}
	}

	op, err := s.begin(kind, id, optimistic)
	if err != nil {
		return s.State(), err
	}

	start := time.Now()
	if kind == opRemove {
		err = s.authority.Delete(ctx, itemID)
		observeRemote(kind, start)
		if err != nil {
			return s.rollback(ctx, op, err)
		}
		return s.commit(ctx, op, nil)
	}

	line, err := s.authority.Update(ctx, itemID, qty)
	observeRemote(kind, start)
	if err != nil {
		return s.rollback(ctx, op, err)
	}
	return s.commit(ctx, op, func(st domain.State) domain.State {
		return merge(st, line, id)
	})
}

// Clear empties the cart locally, then confirms with the authority.
func (s *Store) Clear(ctx context.Context) (domain.State, error) {
	op, err := s.begin(opClear, domain.Identity{}, reducer.Clear{})
	if err != nil {
		return s.State(), err
	}

	start := time.Now()
	if c, ok := s.authority.(Clearer); ok {
		err := c.Clear(ctx)
		observeRemote(opClear, start)
		if err != nil {
			return s.rollback(ctx, op, err)
		}
		return s.commit(ctx, op, nil)
	}

	deleted := 0
	for _, item := range op.snapshot.Items {
		if err := s.authority.Delete(ctx, item.ID); err != nil {
			observeRemote(opClear, start)
			if deleted > 0 {
				err = fmt.Errorf("%w after %d of %d lines: %w", ErrDivergence, deleted, len(op.snapshot.Items), err)
			}
			return s.rollback(ctx, op, err)
		}
		deleted++
	}
	observeRemote(opClear, start)
	return s.commit(ctx, op, nil)
}

// Sync replaces the local items with the authority's full list. It is the only
// operation that overwrites state without per-line reconciliation.
func (s *Store) Sync(ctx context.Context) (domain.State, error) {
	op, err := s.begin(opSync, domain.Identity{}, nil)
	if err != nil {
		return s.State(), err
	}

	start := time.Now()
	items, err := s.authority.List(ctx)
	observeRemote(opSync, start)
	if err != nil {
		return s.rollback(ctx, op, err)
	}

	for i := range items {
		items[i].Variant = domain.NormalizeVariant(items[i].Variant)
	}
	return s.commit(ctx, op, func(st domain.State) domain.State {
		return reducer.Apply(st, reducer.LoadSnapshot{Items: items})
	})
}

// Close tears the store down. Responses of calls still in flight are dropped.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// begin captures the pre-operation state and, for apply-then-confirm
// operations, applies the optimistic transition in the same critical section.
func (s *Store) begin(kind string, id domain.Identity, optimistic reducer.Intent) (*operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, store.ErrStoreClosed
	}

	op := newOperation(kind, id, s.state)
	s.inflight++

	if optimistic != nil {
		s.state = reducer.Apply(s.state, optimistic)
		op.advance(phaseApplied)
		s.save()
	}
	return op, nil
}

// commit folds the authority's answer into state. mutate may be nil when the
// authority only confirms.
func (s *Store) commit(ctx context.Context, op *operation, mutate func(domain.State) domain.State) (domain.State, error) {
	return s.finish(ctx, op, func(st domain.State) (domain.State, error) {
		if mutate != nil {
			st = mutate(st)
		}
		op.advance(phaseCommitted)
		operationsTotal.WithLabelValues(op.kind, phaseCommitted.String()).Inc()
		s.logger.DebugContext(ctx, "cart operation committed",
			slog.String("op", op.kind),
			slog.String("identity", op.identity.String()),
			slog.Duration("elapsed", time.Since(op.started)),
		)
		return st, nil
	})
}

// rollback restores the captured line (or snapshot) and surfaces the failure.
// Operations that never applied anything leave state as it is.
func (s *Store) rollback(ctx context.Context, op *operation, cause error) (domain.State, error) {
	return s.finish(ctx, op, func(st domain.State) (domain.State, error) {
		if op.phase == phaseApplied {
			st = op.restore(st)
		}
		op.advance(phaseRolledBack)
		operationsTotal.WithLabelValues(op.kind, phaseRolledBack.String()).Inc()
		s.logger.WarnContext(ctx, "cart operation rolled back",
			slog.String("op", op.kind),
			slog.String("identity", op.identity.String()),
			slog.String("error", cause.Error()),
		)
		if apperrors.IsRemoteFailure(cause) {
			return st, cause
		}
		return st, apperrors.RemoteOperationFailed(op.kind, cause)
	})
}

// finish ends an in-flight operation. After Close the state is left untouched.
func (s *Store) finish(ctx context.Context, op *operation, step func(domain.State) (domain.State, error)) (domain.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inflight--

	if s.closed {
		s.logger.DebugContext(ctx, "dropping cart response after close",
			slog.String("op", op.kind),
		)
		_, err := step(s.state.Clone())
		return s.view(), err
	}

	next, err := step(s.state)
	if err == nil || op.phase == phaseRolledBack {
		s.state = next
		s.save()
	}
	return s.view(), err
}

func (s *Store) view() domain.State {
	v := s.state.Clone()
	v.IsSyncing = s.inflight > 0
	return v
}

func (s *Store) save() {
	if s.persister == nil {
		return
	}
	s.persister.Save(s.state.Clone().Items)
}
