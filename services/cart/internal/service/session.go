package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/utafrali/EcommerceGo/pkg/errors"
	"github.com/utafrali/EcommerceGo/services/cart/internal/domain"
	"github.com/utafrali/EcommerceGo/services/cart/internal/persistence"
	"github.com/utafrali/EcommerceGo/services/cart/internal/store"
)

// Session is one shopper's cart on this instance. Operations on different
// lines run concurrently; operations on the same line are serialized. Clear,
// Sync and store replacement exclude every other operation.
type Session struct {
	id      string
	manager *SessionManager
	bridge  *persistence.Bridge

	ops    sync.RWMutex
	lines  keyedMutex
	userID string
	cart   store.Cart
	loaded bool
	ended  bool
	carry  []domain.LineItem

	active   atomic.Int32
	lastSeen atomic.Int64
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// UserID returns the signed-in user, or empty for a guest cart.
func (s *Session) UserID() string {
	s.ops.RLock()
	defer s.ops.RUnlock()
	return s.userID
}

// State returns the current cart state.
func (s *Session) State() (domain.State, error) {
	s.ops.RLock()
	defer s.ops.RUnlock()
	if err := s.usable(); err != nil {
		return domain.EmptyState(), err
	}
	return s.cart.State(), nil
}

// Add adds a line or merges it into the line with the same identity.
func (s *Session) Add(ctx context.Context, in store.AddInput) (domain.State, error) {
	return s.line(ctx, "cart.add", in.Identity(), func(c store.Cart) (domain.State, error) {
		return c.Add(ctx, in)
	})
}

// Remove removes the line with the given identity.
func (s *Session) Remove(ctx context.Context, id domain.Identity) (domain.State, error) {
	return s.line(ctx, "cart.remove", id, func(c store.Cart) (domain.State, error) {
		return c.Remove(ctx, id)
	})
}

// SetQuantity sets the quantity of a line; zero removes it.
func (s *Session) SetQuantity(ctx context.Context, id domain.Identity, quantity int) (domain.State, error) {
	return s.line(ctx, "cart.set_quantity", id, func(c store.Cart) (domain.State, error) {
		return c.SetQuantity(ctx, id, quantity)
	})
}

// Increment raises the quantity of a line by one.
func (s *Session) Increment(ctx context.Context, id domain.Identity) (domain.State, error) {
	return s.line(ctx, "cart.increment", id, func(c store.Cart) (domain.State, error) {
		return c.Increment(ctx, id)
	})
}

// Decrement lowers the quantity of a line by one, removing it at zero.
func (s *Session) Decrement(ctx context.Context, id domain.Identity) (domain.State, error) {
	return s.line(ctx, "cart.decrement", id, func(c store.Cart) (domain.State, error) {
		return c.Decrement(ctx, id)
	})
}

// Clear empties the cart.
func (s *Session) Clear(ctx context.Context) (st domain.State, err error) {
	ctx, end := s.startSpan(ctx, "cart.clear")
	defer func() { end(err) }()

	s.active.Add(1)
	defer s.active.Add(-1)
	s.touch(s.manager.now())

	s.ops.Lock()
	defer s.ops.Unlock()
	if err := s.usable(); err != nil {
		return domain.EmptyState(), err
	}

	st, err = s.cart.Clear(ctx)
	if err != nil {
		return st, err
	}
	s.manager.publishCleared(ctx, s.userID, s.id)
	return st, nil
}

// Sync reloads the cart from its source of record: the authority for a
// signed-in cart, the persisted projection for a guest cart.
func (s *Session) Sync(ctx context.Context) (st domain.State, err error) {
	ctx, end := s.startSpan(ctx, "cart.sync")
	defer func() { end(err) }()

	s.active.Add(1)
	defer s.active.Add(-1)
	s.touch(s.manager.now())
	return s.reload(ctx)
}

func (s *Session) reload(ctx context.Context) (domain.State, error) {
	s.ops.Lock()
	defer s.ops.Unlock()
	if s.ended {
		return domain.EmptyState(), ErrSessionEnded
	}
	if s.cart == nil {
		return domain.EmptyState(), errNotLoaded
	}

	st, err := s.cart.Sync(ctx)
	if err != nil {
		return st, err
	}
	if !s.loaded {
		s.loaded = true
		s.mergeCarry(ctx)
		st = s.cart.State()
	}
	return st, nil
}

var errNotLoaded = apperrors.ServiceUnavailable("cart is not loaded yet, retry the request")

// usable reports why the cart cannot serve operations. Callers hold ops.
func (s *Session) usable() error {
	if s.ended {
		return ErrSessionEnded
	}
	if s.cart == nil || !s.loaded {
		return errNotLoaded
	}
	return nil
}

func (s *Session) line(ctx context.Context, name string, id domain.Identity, op func(store.Cart) (domain.State, error)) (st domain.State, err error) {
	ctx, end := s.startSpan(ctx, name, attribute.String("cart.product_id", id.ProductID))
	defer func() { end(err) }()

	s.active.Add(1)
	defer s.active.Add(-1)
	s.touch(s.manager.now())

	s.ops.RLock()
	defer s.ops.RUnlock()
	if err := s.usable(); err != nil {
		return domain.EmptyState(), err
	}

	unlock := s.lines.Lock(id.String())
	defer unlock()

	before, had := lineOf(s.cart.State().Items, id)
	st, err = op(s.cart)
	if err != nil {
		return st, err
	}
	if after, has := lineOf(st.Items, id); had != has || !sameLine(before, after) {
		s.manager.publishUpdated(ctx, s.userID, s.id, st)
	}
	return st, nil
}

func lineOf(items []domain.LineItem, id domain.Identity) (domain.LineItem, bool) {
	if i := domain.FindIndex(items, id); i >= 0 {
		return items[i], true
	}
	return domain.LineItem{}, false
}

func sameLine(a, b domain.LineItem) bool {
	return a.ID == b.ID && a.Quantity == b.Quantity && a.UnitPrice.Equal(b.UnitPrice)
}

// ensure makes the session's store match userID and loads it.
func (s *Session) ensure(ctx context.Context, userID string) error {
	s.ops.RLock()
	ended := s.ended
	ready := s.cart != nil && s.loaded && s.userID == userID
	s.ops.RUnlock()
	if ended {
		return ErrSessionEnded
	}
	if ready {
		return nil
	}

	s.ops.Lock()
	defer s.ops.Unlock()
	if s.ended {
		return ErrSessionEnded
	}

	if s.cart != nil && s.userID != userID {
		s.switchUser(ctx, userID)
	}
	if s.cart == nil {
		s.userID = userID
		s.cart = s.manager.newCart(userID, s.persister())
		s.loaded = false
	}
	if s.loaded {
		return nil
	}

	lctx, end := s.startSpan(ctx, "cart.load", attribute.Bool("cart.signed_in", userID != ""))
	_, err := s.cart.Sync(lctx)
	end(err)
	if err != nil {
		return fmt.Errorf("load cart: %w", err)
	}
	s.loaded = true
	s.mergeCarry(ctx)
	return nil
}

// switchUser drops the current store. Signing in carries the guest lines
// over; signing out starts the guest cart empty.
func (s *Session) switchUser(ctx context.Context, userID string) {
	if s.userID == "" && s.loaded {
		s.carry = append(s.carry, s.cart.State().Items...)
	}
	s.cart.Close()
	s.cart = nil
	s.loaded = false

	if userID == "" {
		s.carry = nil
		if s.bridge != nil {
			s.bridge.Discard(ctx)
		}
	}

	s.manager.logger.InfoContext(ctx, "cart session switched user",
		slog.String("session_id", s.id),
		slog.Bool("signed_in", userID != ""),
	)
}

// mergeCarry adds carried guest lines into the freshly loaded store. Lines
// the store rejects are logged and dropped. Callers hold ops exclusively.
func (s *Session) mergeCarry(ctx context.Context) {
	if len(s.carry) == 0 {
		return
	}
	carry := s.carry
	s.carry = nil

	merged := 0
	for _, item := range carry {
		_, err := s.cart.Add(ctx, store.AddInput{
			ProductID: item.ProductID,
			Variant:   item.Variant,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
		if err != nil {
			s.manager.logger.WarnContext(ctx, "failed to merge guest cart line",
				slog.String("session_id", s.id),
				slog.String("product_id", item.ProductID),
				slog.String("error", err.Error()),
			)
			continue
		}
		merged++
	}

	if merged > 0 {
		s.manager.publishUpdated(ctx, s.userID, s.id, s.cart.State())
	}
}

func (s *Session) persister() store.Persister {
	if s.bridge == nil {
		return nil
	}
	return s.bridge
}

func (s *Session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

func (s *Session) idleSince(cutoff time.Time) bool {
	return s.active.Load() == 0 && s.lastSeen.Load() < cutoff.UnixNano()
}

// teardown closes the store and stops persistence. With discard the
// persisted projection is deleted as well.
func (s *Session) teardown(ctx context.Context, discard bool) {
	s.ops.Lock()
	if s.ended {
		s.ops.Unlock()
		return
	}
	s.ended = true
	if s.cart != nil {
		s.cart.Close()
	}
	s.carry = nil
	s.ops.Unlock()

	if s.bridge == nil {
		return
	}
	s.bridge.Close()
	if discard {
		s.bridge.Discard(ctx)
	}
}
