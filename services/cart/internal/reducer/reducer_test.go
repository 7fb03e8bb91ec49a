package reducer

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/EcommerceGo/services/cart/internal/domain"
)

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ident(productID string, v *domain.Variant) domain.Identity {
	return domain.Identity{ProductID: productID, Variant: v}
}

func run(intents ...Intent) domain.State {
	s := domain.EmptyState()
	for _, in := range intents {
		s = Apply(s, in)
	}
	return s
}

// ============================================================================
// Add
// ============================================================================

func TestAdd_NewItem(t *testing.T) {
	s := run(Add{ID: "line-1", ProductID: "prod-1", UnitPrice: price("19.99"), Quantity: 2, Name: "Widget"})

	require.Len(t, s.Items, 1)
	assert.Equal(t, "line-1", s.Items[0].ID)
	assert.Equal(t, "prod-1", s.Items[0].ProductID)
	assert.Equal(t, "Widget", s.Items[0].Name)
	assert.Equal(t, 2, s.Items[0].Quantity)
	assert.Equal(t, 2, s.TotalItems)
	assert.True(t, price("39.98").Equal(s.TotalPrice))
}

func TestAdd_DefaultQuantityIsOne(t *testing.T) {
	s := run(Add{ProductID: "prod-1", UnitPrice: price("5")})
	require.Len(t, s.Items, 1)
	assert.Equal(t, 1, s.Items[0].Quantity)
}

func TestAdd_MergesSameIdentity(t *testing.T) {
	v := &domain.Variant{Size: "M"}
	s := run(
		Add{ID: "line-1", ProductID: "prod-1", Variant: v, UnitPrice: price("10"), Quantity: 2},
		Add{ID: "line-2", ProductID: "prod-1", Variant: &domain.Variant{Size: "M"}, UnitPrice: price("10"), Quantity: 3},
	)

	require.Len(t, s.Items, 1)
	assert.Equal(t, 5, s.Items[0].Quantity)
	assert.Equal(t, "line-1", s.Items[0].ID, "merge keeps the original line id")
	assert.Equal(t, 5, s.TotalItems)
}

func TestAdd_VariantDiscrimination(t *testing.T) {
	s := run(
		Add{ProductID: "prod-1", Variant: &domain.Variant{Size: "M"}, UnitPrice: price("10"), Quantity: 1},
		Add{ProductID: "prod-1", Variant: &domain.Variant{Size: "L"}, UnitPrice: price("10"), Quantity: 1},
	)

	require.Len(t, s.Items, 2)
	assert.Equal(t, 2, s.TotalItems)
}

func TestAdd_VariedAndUnvariedStaySeparate(t *testing.T) {
	s := run(
		Add{ProductID: "prod-1", UnitPrice: price("10")},
		Add{ProductID: "prod-1", Variant: &domain.Variant{Color: "red"}, UnitPrice: price("10")},
	)
	assert.Len(t, s.Items, 2)
}

func TestAdd_EmptyVariantTreatedAsNone(t *testing.T) {
	s := run(
		Add{ProductID: "prod-1", UnitPrice: price("10")},
		Add{ProductID: "prod-1", Variant: &domain.Variant{}, UnitPrice: price("10")},
	)
	require.Len(t, s.Items, 1)
	assert.Equal(t, 2, s.Items[0].Quantity)
	assert.Nil(t, s.Items[0].Variant)
}

func TestAdd_KeepsOriginalUnitPrice(t *testing.T) {
	s := run(
		Add{ProductID: "prod-1", UnitPrice: price("10.00"), Quantity: 1},
		Add{ProductID: "prod-1", UnitPrice: price("12.50"), Quantity: 1},
	)
	require.Len(t, s.Items, 1)
	assert.True(t, price("10.00").Equal(s.Items[0].UnitPrice))
	assert.True(t, price("20.00").Equal(s.TotalPrice))
}

func TestAdd_MalformedIsNoop(t *testing.T) {
	s := run(
		Add{ProductID: "", UnitPrice: price("10")},
		Add{ProductID: "   ", UnitPrice: price("10")},
		Add{ProductID: "prod-1", UnitPrice: price("10"), Quantity: -3},
	)
	assert.Empty(t, s.Items)
	assert.Equal(t, 0, s.TotalItems)
}

// ============================================================================
// Remove / SetQuantity / Increment / Decrement
// ============================================================================

func TestRemove(t *testing.T) {
	s := run(
		Add{ProductID: "prod-1", UnitPrice: price("10")},
		Add{ProductID: "prod-2", UnitPrice: price("3"), Quantity: 2},
		Remove{Identity: ident("prod-1", nil)},
	)
	require.Len(t, s.Items, 1)
	assert.Equal(t, "prod-2", s.Items[0].ProductID)
	assert.Equal(t, 2, s.TotalItems)
	assert.True(t, price("6").Equal(s.TotalPrice))
}

func TestRemove_AbsentIsNoop(t *testing.T) {
	before := run(Add{ProductID: "prod-1", UnitPrice: price("10")})
	after := Apply(before, Remove{Identity: ident("prod-1", &domain.Variant{Size: "M"})})
	assert.Equal(t, before, after)
}

func TestSetQuantity_Replaces(t *testing.T) {
	s := run(
		Add{ProductID: "prod-1", UnitPrice: price("2"), Quantity: 4},
		SetQuantity{Identity: ident("prod-1", nil), Quantity: 7},
	)
	require.Len(t, s.Items, 1)
	assert.Equal(t, 7, s.Items[0].Quantity)
	assert.True(t, price("14").Equal(s.TotalPrice))
}

func TestSetQuantity_ZeroRemoves(t *testing.T) {
	v := &domain.Variant{Size: "M"}
	s := run(
		Add{ProductID: "prod-1", Variant: v, UnitPrice: price("2")},
		SetQuantity{Identity: ident("prod-1", v), Quantity: 0},
	)
	assert.Empty(t, s.Items)
	assert.Equal(t, 0, s.TotalItems)
}

func TestSetQuantity_NegativeRemoves(t *testing.T) {
	s := run(
		Add{ProductID: "prod-1", UnitPrice: price("2")},
		SetQuantity{Identity: ident("prod-1", nil), Quantity: -1},
	)
	assert.Empty(t, s.Items)
}

func TestSetQuantity_NoMatchIsNoop(t *testing.T) {
	s := run(
		Add{ProductID: "prod-1", UnitPrice: price("2")},
		SetQuantity{Identity: ident("prod-9", nil), Quantity: 3},
	)
	require.Len(t, s.Items, 1)
	assert.Equal(t, 1, s.Items[0].Quantity)
}

func TestIncrement(t *testing.T) {
	s := run(
		Add{ProductID: "prod-1", UnitPrice: price("2")},
		Increment{Identity: ident("prod-1", nil)},
		Increment{Identity: ident("prod-absent", nil)},
	)
	require.Len(t, s.Items, 1)
	assert.Equal(t, 2, s.Items[0].Quantity)
	assert.Equal(t, 2, s.TotalItems)
}

func TestDecrement(t *testing.T) {
	s := run(
		Add{ProductID: "prod-1", UnitPrice: price("2"), Quantity: 2},
		Decrement{Identity: ident("prod-1", nil)},
	)
	require.Len(t, s.Items, 1)
	assert.Equal(t, 1, s.Items[0].Quantity)
}

func TestDecrement_AtOneRemoves(t *testing.T) {
	s := run(
		Add{ProductID: "prod-1", UnitPrice: price("2")},
		Decrement{Identity: ident("prod-1", nil)},
	)
	assert.Empty(t, s.Items)
	assert.True(t, s.TotalPrice.IsZero())
}

// ============================================================================
// Clear / LoadSnapshot / visibility
// ============================================================================

func TestClear_Idempotent(t *testing.T) {
	s := run(
		Add{ProductID: "prod-1", UnitPrice: price("2")},
		Open{},
	)
	once := Apply(s, Clear{})
	twice := Apply(once, Clear{})

	assert.Equal(t, once, twice)
	assert.Empty(t, once.Items)
	assert.Equal(t, 0, once.TotalItems)
	assert.True(t, once.TotalPrice.IsZero())
	assert.False(t, once.IsOpen)
}

func TestLoadSnapshot_ReplacesAndRecomputes(t *testing.T) {
	s := run(Add{ProductID: "prod-old", UnitPrice: price("2")})
	s = Apply(s, LoadSnapshot{Items: []domain.LineItem{
		{ID: "a", ProductID: "prod-1", UnitPrice: price("1.5"), Quantity: 2},
		{ID: "b", ProductID: "prod-2", UnitPrice: price("4"), Quantity: 1},
	}})

	require.Len(t, s.Items, 2)
	assert.Equal(t, 3, s.TotalItems)
	assert.True(t, price("7").Equal(s.TotalPrice))
}

func TestLoadSnapshot_DoesNotDeduplicate(t *testing.T) {
	s := Apply(domain.EmptyState(), LoadSnapshot{Items: []domain.LineItem{
		{ID: "a", ProductID: "prod-1", Quantity: 1},
		{ID: "b", ProductID: "prod-1", Quantity: 1},
	}})
	assert.Len(t, s.Items, 2)
}

func TestLoadSnapshot_CopiesInput(t *testing.T) {
	in := []domain.LineItem{{ID: "a", ProductID: "prod-1", Variant: &domain.Variant{Size: "M"}, Quantity: 1}}
	s := Apply(domain.EmptyState(), LoadSnapshot{Items: in})
	in[0].Variant.Size = "L"
	assert.Equal(t, "M", s.Items[0].Variant.Size)
}

func TestVisibility(t *testing.T) {
	s := run(Add{ProductID: "prod-1", UnitPrice: price("2")}, Open{})
	assert.True(t, s.IsOpen)
	s = Apply(s, Toggle{})
	assert.False(t, s.IsOpen)
	s = Apply(s, Toggle{})
	assert.True(t, s.IsOpen)
	s = Apply(s, Close{})
	assert.False(t, s.IsOpen)
	assert.Len(t, s.Items, 1)
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	before := run(Add{ProductID: "prod-1", UnitPrice: price("2"), Quantity: 3})
	snapshot := before.Clone()

	_ = Apply(before, Increment{Identity: ident("prod-1", nil)})
	_ = Apply(before, Remove{Identity: ident("prod-1", nil)})

	assert.Equal(t, snapshot, before)
}

// ============================================================================
// Randomized replay: identity uniqueness, totals consistency, positive quantities
// ============================================================================

func TestApply_RandomSequencesKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	products := []string{"prod-1", "prod-2", "prod-3"}
	variants := []*domain.Variant{nil, {Size: "M"}, {Size: "L"}, {Color: "red", Size: "M"}}
	prices := []decimal.Decimal{price("0.10"), price("9.99"), price("15"), price("100.01")}

	randomIdentity := func() domain.Identity {
		return ident(products[rng.Intn(len(products))], variants[rng.Intn(len(variants))])
	}

	for round := 0; round < 50; round++ {
		s := domain.EmptyState()
		for step := 0; step < 200; step++ {
			id := randomIdentity()
			var in Intent
			switch rng.Intn(7) {
			case 0, 1:
				in = Add{ProductID: id.ProductID, Variant: id.Variant, UnitPrice: prices[rng.Intn(len(prices))], Quantity: rng.Intn(4)}
			case 2:
				in = Remove{Identity: id}
			case 3:
				in = SetQuantity{Identity: id, Quantity: rng.Intn(6) - 1}
			case 4:
				in = Increment{Identity: id}
			case 5:
				in = Decrement{Identity: id}
			case 6:
				if rng.Intn(10) == 0 {
					in = Clear{}
				} else {
					in = Toggle{}
				}
			}
			s = Apply(s, in)

			require.True(t, s.Consistent(), "round %d step %d: totals drifted", round, step)
			seen := make(map[string]bool, len(s.Items))
			for _, item := range s.Items {
				key := item.Identity().String()
				require.False(t, seen[key], "round %d step %d: duplicate identity %s", round, step, key)
				seen[key] = true
				require.GreaterOrEqual(t, item.Quantity, 1)
			}
		}
	}
}
