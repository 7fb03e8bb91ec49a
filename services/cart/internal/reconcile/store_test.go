package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/EcommerceGo/pkg/errors"
	"github.com/utafrali/EcommerceGo/services/cart/internal/domain"
	"github.com/utafrali/EcommerceGo/services/cart/internal/store"
)

// --- Fakes ---

var errBoom = errors.New("boom")

// fakeAuthority is an in-memory cart authority that records every call.
type fakeAuthority struct {
	mu     sync.Mutex
	items  []domain.LineItem
	nextID int
	calls  []string

	failCreate error
	failUpdate error
	failList   error
	failDelete map[string]error

	// gate blocks every call until it receives; entered is signalled first.
	gate    chan struct{}
	entered chan string
	// blockDelete blocks Delete for a single item id.
	blockDelete map[string]chan struct{}
}

func newFakeAuthority(items ...domain.LineItem) *fakeAuthority {
	return &fakeAuthority{
		items:      items,
		failDelete: map[string]error{},
		entered:    make(chan string, 16),
	}
}

func (a *fakeAuthority) record(call string) {
	a.mu.Lock()
	a.calls = append(a.calls, call)
	gate := a.gate
	a.mu.Unlock()

	a.entered <- call
	if gate != nil {
		<-gate
	}
}

func (a *fakeAuthority) Create(_ context.Context, productID string, variant *domain.Variant, quantity int) (domain.LineItem, error) {
	a.record("create:" + productID)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failCreate != nil {
		return domain.LineItem{}, a.failCreate
	}
	id := domain.NewIdentity(productID, variant)
	if i := domain.FindIndex(a.items, id); i >= 0 {
		a.items[i].Quantity += quantity
		return a.items[i].Clone(), nil
	}
	a.nextID++
	line := domain.LineItem{
		ID:        fmt.Sprintf("srv-%d", a.nextID),
		ProductID: id.ProductID,
		Variant:   id.Variant,
		UnitPrice: decimal.RequireFromString("10"),
		Quantity:  quantity,
	}
	a.items = append(a.items, line)
	return line.Clone(), nil
}

func (a *fakeAuthority) Delete(_ context.Context, itemID string) error {
	a.mu.Lock()
	block := a.blockDelete[itemID]
	a.mu.Unlock()
	a.record("delete:" + itemID)
	if block != nil {
		<-block
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.failDelete[itemID]; err != nil {
		return err
	}
	i := domain.FindIndexByID(a.items, itemID)
	if i < 0 {
		return apperrors.NotFound("cart item", itemID)
	}
	a.items = append(a.items[:i:i], a.items[i+1:]...)
	return nil
}

func (a *fakeAuthority) Update(_ context.Context, itemID string, quantity int) (domain.LineItem, error) {
	a.record(fmt.Sprintf("update:%s:%d", itemID, quantity))

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failUpdate != nil {
		return domain.LineItem{}, a.failUpdate
	}
	i := domain.FindIndexByID(a.items, itemID)
	if i < 0 {
		return domain.LineItem{}, apperrors.NotFound("cart item", itemID)
	}
	a.items[i].Quantity = quantity
	return a.items[i].Clone(), nil
}

func (a *fakeAuthority) List(context.Context) ([]domain.LineItem, error) {
	a.record("list")

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failList != nil {
		return nil, a.failList
	}
	out := make([]domain.LineItem, len(a.items))
	for i, item := range a.items {
		out[i] = item.Clone()
	}
	return out, nil
}

func (a *fakeAuthority) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

// clearingAuthority adds the single-call clear endpoint.
type clearingAuthority struct {
	*fakeAuthority
	failClear error
}

func (a *clearingAuthority) Clear(context.Context) error {
	a.record("clear")
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failClear != nil {
		return a.failClear
	}
	a.items = nil
	return nil
}

type recordingPersister struct {
	mu    sync.Mutex
	saves int
	last  []domain.LineItem
}

func (p *recordingPersister) Save(items []domain.LineItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves++
	p.last = items
}

func (p *recordingPersister) Restore(context.Context) []domain.LineItem { return nil }

// --- Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func line(id, productID string, qty int) domain.LineItem {
	return domain.LineItem{
		ID:        id,
		ProductID: productID,
		UnitPrice: decimal.RequireFromString("10"),
		Quantity:  qty,
	}
}

func ident(productID string) domain.Identity {
	return domain.Identity{ProductID: productID}
}

// seeded returns a store whose state mirrors the authority after a sync.
func seeded(t *testing.T, a Authority) *Store {
	t.Helper()
	s := NewStore(a, nil, newTestLogger())
	_, err := s.Sync(context.Background())
	require.NoError(t, err)
	return s
}

func drain(a *fakeAuthority) {
	for {
		select {
		case <-a.entered:
		default:
			return
		}
	}
}

func waitEntered(t *testing.T, a *fakeAuthority) string {
	t.Helper()
	select {
	case call := <-a.entered:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("authority call was not issued")
		return ""
	}
}

type result struct {
	state domain.State
	err   error
}

// --- Add ---

func TestStore_AddIsConfirmThenApply(t *testing.T) {
	a := newFakeAuthority()
	a.gate = make(chan struct{})
	s := NewStore(a, nil, newTestLogger())

	done := make(chan result, 1)
	go func() {
		st, err := s.Add(context.Background(), store.AddInput{ProductID: "prod-1", Name: "Mug", Quantity: 2})
		done <- result{st, err}
	}()

	assert.Equal(t, "create:prod-1", waitEntered(t, a))
	pending := s.State()
	assert.Empty(t, pending.Items, "add must not appear before the authority confirms")
	assert.True(t, pending.IsSyncing)

	close(a.gate)
	r := <-done
	require.NoError(t, r.err)

	require.Len(t, r.state.Items, 1)
	got := r.state.Items[0]
	assert.Equal(t, "srv-1", got.ID)
	assert.Equal(t, "Mug", got.Name)
	assert.Equal(t, 2, got.Quantity)
	assert.Equal(t, 2, r.state.TotalItems)
	assert.True(t, decimal.RequireFromString("20").Equal(r.state.TotalPrice))
	assert.False(t, r.state.IsSyncing)
}

func TestStore_AddMergesCanonicalLine(t *testing.T) {
	a := newFakeAuthority()
	s := NewStore(a, nil, newTestLogger())
	ctx := context.Background()
	v := &domain.Variant{Color: "red"}

	_, err := s.Add(ctx, store.AddInput{ProductID: "prod-1", Variant: v, Quantity: 1})
	require.NoError(t, err)
	st, err := s.Add(ctx, store.AddInput{ProductID: "prod-1", Variant: v, Quantity: 3})
	require.NoError(t, err)

	require.Len(t, st.Items, 1)
	assert.Equal(t, 4, st.Items[0].Quantity)
	assert.True(t, st.Consistent())
}

func TestStore_AddFailureLeavesStateUnchanged(t *testing.T) {
	a := newFakeAuthority(line("srv-a", "prod-a", 1))
	s := seeded(t, a)
	before := s.State()
	a.failCreate = errBoom

	st, err := s.Add(context.Background(), store.AddInput{ProductID: "prod-1"})
	require.Error(t, err)
	assert.True(t, apperrors.IsRemoteFailure(err))
	assert.ErrorIs(t, err, errBoom)

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "REMOTE_OPERATION_FAILED", appErr.Code)

	assert.Equal(t, before.Items, st.Items)
	assert.False(t, st.IsSyncing)
}

func TestStore_AddMalformedIsNoOp(t *testing.T) {
	a := newFakeAuthority()
	s := NewStore(a, nil, newTestLogger())

	_, err := s.Add(context.Background(), store.AddInput{ProductID: "  "})
	require.NoError(t, err)
	_, err = s.Add(context.Background(), store.AddInput{ProductID: "prod-1", Quantity: -2})
	require.NoError(t, err)

	assert.Empty(t, a.Calls())
	assert.Empty(t, s.State().Items)
}

// --- Remove / quantity ---

func TestStore_RemoveRollbackRestoresExactState(t *testing.T) {
	a := newFakeAuthority(line("srv-a", "prod-a", 1), line("srv-b", "prod-b", 2), line("srv-c", "prod-c", 3))
	s := seeded(t, a)
	before := s.State()
	a.failDelete["srv-b"] = errBoom

	st, err := s.Remove(context.Background(), ident("prod-b"))
	require.Error(t, err)
	assert.True(t, apperrors.IsRemoteFailure(err))

	assert.Equal(t, before.Items, st.Items)
	assert.Equal(t, before.TotalItems, st.TotalItems)
	assert.True(t, before.TotalPrice.Equal(st.TotalPrice))
}

func TestStore_RemoveIsApplyThenConfirm(t *testing.T) {
	a := newFakeAuthority(line("srv-a", "prod-a", 1))
	s := seeded(t, a)
	drain(a)
	a.gate = make(chan struct{})

	done := make(chan result, 1)
	go func() {
		st, err := s.Remove(context.Background(), ident("prod-a"))
		done <- result{st, err}
	}()

	assert.Equal(t, "delete:srv-a", waitEntered(t, a))
	pending := s.State()
	assert.Empty(t, pending.Items)
	assert.True(t, pending.IsSyncing)

	close(a.gate)
	r := <-done
	require.NoError(t, r.err)
	assert.Empty(t, r.state.Items)
	assert.False(t, r.state.IsSyncing)
}

func TestStore_RemoveAbsentMakesNoCall(t *testing.T) {
	a := newFakeAuthority()
	s := NewStore(a, nil, newTestLogger())

	st, err := s.Remove(context.Background(), ident("nope"))
	require.NoError(t, err)
	assert.Empty(t, st.Items)
	assert.Empty(t, a.Calls())
}

func TestStore_SetQuantityMergesCanonical(t *testing.T) {
	a := newFakeAuthority(line("srv-a", "prod-a", 1))
	s := seeded(t, a)

	st, err := s.SetQuantity(context.Background(), ident("prod-a"), 5)
	require.NoError(t, err)

	require.Len(t, st.Items, 1)
	assert.Equal(t, 5, st.Items[0].Quantity)
	assert.Equal(t, 5, st.TotalItems)
	assert.Contains(t, a.Calls(), "update:srv-a:5")
}

func TestStore_SetQuantityRollback(t *testing.T) {
	a := newFakeAuthority(line("srv-a", "prod-a", 2), line("srv-b", "prod-b", 1))
	s := seeded(t, a)
	before := s.State()
	a.failUpdate = errBoom

	st, err := s.SetQuantity(context.Background(), ident("prod-a"), 9)
	require.Error(t, err)
	assert.Equal(t, before.Items, st.Items)
}

func TestStore_SetQuantityZeroDeletes(t *testing.T) {
	a := newFakeAuthority(line("srv-a", "prod-a", 2))
	s := seeded(t, a)

	st, err := s.SetQuantity(context.Background(), ident("prod-a"), 0)
	require.NoError(t, err)
	assert.Empty(t, st.Items)
	assert.Contains(t, a.Calls(), "delete:srv-a")
}

func TestStore_IncrementAndDecrement(t *testing.T) {
	a := newFakeAuthority(line("srv-a", "prod-a", 1))
	s := seeded(t, a)
	ctx := context.Background()

	st, err := s.Increment(ctx, ident("prod-a"))
	require.NoError(t, err)
	assert.Equal(t, 2, st.Items[0].Quantity)

	st, err = s.Decrement(ctx, ident("prod-a"))
	require.NoError(t, err)
	assert.Equal(t, 1, st.Items[0].Quantity)

	st, err = s.Decrement(ctx, ident("prod-a"))
	require.NoError(t, err)
	assert.Empty(t, st.Items)

	assert.Equal(t, []string{"list", "update:srv-a:2", "update:srv-a:1", "delete:srv-a"}, a.Calls())
}

func TestStore_ConcurrentRollbackKeepsOtherSuccess(t *testing.T) {
	a := newFakeAuthority(line("srv-a", "prod-a", 1), line("srv-b", "prod-b", 1))
	s := seeded(t, a)
	drain(a)

	release := make(chan struct{})
	a.blockDelete = map[string]chan struct{}{"srv-a": release}
	a.failDelete["srv-a"] = errBoom

	done := make(chan result, 1)
	go func() {
		st, err := s.Remove(context.Background(), ident("prod-a"))
		done <- result{st, err}
	}()
	assert.Equal(t, "delete:srv-a", waitEntered(t, a))

	st, err := s.Remove(context.Background(), ident("prod-b"))
	require.NoError(t, err)
	assert.Empty(t, st.Items)
	assert.True(t, st.IsSyncing)

	close(release)
	r := <-done
	require.Error(t, r.err)

	require.Len(t, r.state.Items, 1)
	assert.Equal(t, "srv-a", r.state.Items[0].ID)
	assert.Equal(t, 1, r.state.TotalItems)
	assert.False(t, r.state.IsSyncing)
}

// --- Clear ---

func TestStore_ClearWithClearer(t *testing.T) {
	a := &clearingAuthority{fakeAuthority: newFakeAuthority(line("srv-a", "prod-a", 1), line("srv-b", "prod-b", 1))}
	s := seeded(t, a)

	st, err := s.Clear(context.Background())
	require.NoError(t, err)
	assert.Empty(t, st.Items)
	assert.False(t, st.IsOpen)
	assert.Equal(t, []string{"list", "clear"}, a.Calls())

	st, err = s.Clear(context.Background())
	require.NoError(t, err)
	assert.Empty(t, st.Items)
}

func TestStore_ClearRollbackRestoresSnapshot(t *testing.T) {
	a := &clearingAuthority{fakeAuthority: newFakeAuthority(line("srv-a", "prod-a", 1), line("srv-b", "prod-b", 4))}
	s := seeded(t, a)
	before := s.State()
	a.failClear = errBoom

	st, err := s.Clear(context.Background())
	require.Error(t, err)
	assert.Equal(t, before.Items, st.Items)
	assert.Equal(t, 5, st.TotalItems)
}

func TestStore_ClearFallsBackToPerItemDeletes(t *testing.T) {
	a := newFakeAuthority(line("srv-a", "prod-a", 1), line("srv-b", "prod-b", 1))
	s := seeded(t, a)

	st, err := s.Clear(context.Background())
	require.NoError(t, err)
	assert.Empty(t, st.Items)
	assert.Equal(t, []string{"list", "delete:srv-a", "delete:srv-b"}, a.Calls())
}

func TestStore_ClearPartialFailureReportsDivergence(t *testing.T) {
	a := newFakeAuthority(line("srv-a", "prod-a", 1), line("srv-b", "prod-b", 1))
	s := seeded(t, a)
	before := s.State()
	a.failDelete["srv-b"] = errBoom

	st, err := s.Clear(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDivergence)
	assert.ErrorIs(t, err, errBoom)
	assert.True(t, apperrors.IsRemoteFailure(err))
	assert.Equal(t, before.Items, st.Items)

	// Sync converges on what the authority actually holds.
	st, err = s.Sync(context.Background())
	require.NoError(t, err)
	require.Len(t, st.Items, 1)
	assert.Equal(t, "srv-b", st.Items[0].ID)
}

func TestStore_ClearFirstDeleteFailureIsNotDivergence(t *testing.T) {
	a := newFakeAuthority(line("srv-a", "prod-a", 1))
	s := seeded(t, a)
	a.failDelete["srv-a"] = errBoom

	_, err := s.Clear(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDivergence)
}

// --- Sync / lifecycle ---

func TestStore_SyncReplacesState(t *testing.T) {
	a := newFakeAuthority()
	s := NewStore(a, nil, newTestLogger())
	_, err := s.Add(context.Background(), store.AddInput{ProductID: "prod-1"})
	require.NoError(t, err)

	a.mu.Lock()
	a.items = []domain.LineItem{line("srv-x", "prod-x", 3)}
	a.mu.Unlock()

	st, err := s.Sync(context.Background())
	require.NoError(t, err)
	require.Len(t, st.Items, 1)
	assert.Equal(t, "srv-x", st.Items[0].ID)
	assert.Equal(t, 3, st.TotalItems)
}

func TestStore_SyncFailureKeepsState(t *testing.T) {
	a := newFakeAuthority(line("srv-a", "prod-a", 1))
	s := seeded(t, a)
	before := s.State()
	a.failList = errBoom

	st, err := s.Sync(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsRemoteFailure(err))
	assert.Equal(t, before.Items, st.Items)
}

func TestStore_CloseDropsLateResults(t *testing.T) {
	a := newFakeAuthority(line("srv-a", "prod-a", 1))
	a.gate = make(chan struct{})
	s := NewStore(a, nil, newTestLogger())

	done := make(chan result, 1)
	go func() {
		st, err := s.Sync(context.Background())
		done <- result{st, err}
	}()
	waitEntered(t, a)

	s.Close()
	close(a.gate)
	<-done

	assert.Empty(t, s.State().Items)

	_, err := s.Add(context.Background(), store.AddInput{ProductID: "prod-1"})
	assert.ErrorIs(t, err, store.ErrStoreClosed)
}

func TestStore_PersistsAfterChanges(t *testing.T) {
	a := newFakeAuthority()
	p := &recordingPersister{}
	s := NewStore(a, p, newTestLogger())

	_, err := s.Add(context.Background(), store.AddInput{ProductID: "prod-1"})
	require.NoError(t, err)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, 1, p.saves)
	require.Len(t, p.last, 1)
	assert.Equal(t, "srv-1", p.last[0].ID)
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "pending", phasePending.String())
	assert.Equal(t, "applied", phaseApplied.String())
	assert.Equal(t, "committed", phaseCommitted.String())
	assert.Equal(t, "rolled_back", phaseRolledBack.String())
}

func TestOperation_AdvanceStopsAtTerminal(t *testing.T) {
	op := newOperation(opRemove, ident("prod-a"), domain.EmptyState())
	op.advance(phaseApplied)
	op.advance(phaseRolledBack)
	op.advance(phaseCommitted)
	assert.Equal(t, phaseRolledBack, op.phase)
}
