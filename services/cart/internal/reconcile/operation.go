package reconcile

import (
	"time"

	"github.com/utafrali/EcommerceGo/services/cart/internal/domain"
)

// Operation kinds, also used as metric labels.
const (
	opAdd         = "add"
	opRemove      = "remove"
	opSetQuantity = "set_quantity"
	opClear       = "clear"
	opSync        = "sync"
)

// phase is the position of one in-flight operation in the two-phase protocol.
type phase int

const (
	phasePending phase = iota
	phaseApplied
	phaseCommitted
	phaseRolledBack
)

func (p phase) String() string {
	switch p {
	case phasePending:
		return "pending"
	case phaseApplied:
		return "applied"
	case phaseCommitted:
		return "committed"
	case phaseRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// operation tracks one user-initiated mutation from capture to commit or rollback.
//
//	pending -> applied -> committed | rolled_back   (apply-then-confirm)
//	pending -> committed | rolled_back              (confirm-then-apply)
type operation struct {
	kind     string
	identity domain.Identity
	phase    phase
	started  time.Time

	// before is the affected line as it was captured, nil if it was absent.
	before      *domain.LineItem
	beforeIndex int

	// snapshot is the whole pre-operation state, used by clear.
	snapshot domain.State
}

func newOperation(kind string, id domain.Identity, s domain.State) *operation {
	op := &operation{
		kind:        kind,
		identity:    id,
		phase:       phasePending,
		started:     time.Now(),
		beforeIndex: -1,
		snapshot:    s.Clone(),
	}
	if i := domain.FindIndex(s.Items, id); i >= 0 {
		line := s.Items[i].Clone()
		op.before = &line
		op.beforeIndex = i
	}
	return op
}

func (op *operation) advance(to phase) {
	if op.phase == phaseCommitted || op.phase == phaseRolledBack {
		return
	}
	op.phase = to
}

// restore puts the captured pre-operation line back into s, leaving every
// other line as it currently is.
func (op *operation) restore(s domain.State) domain.State {
	if op.kind == opClear {
		restored := op.snapshot.Clone()
		restored.IsSyncing = s.IsSyncing
		return restored
	}

	items := make([]domain.LineItem, 0, len(s.Items)+1)
	for _, item := range s.Items {
		if domain.IdentityMatches(item, op.identity) {
			continue
		}
		items = append(items, item)
	}
	if op.before != nil {
		at := op.beforeIndex
		if at > len(items) {
			at = len(items)
		}
		items = append(items[:at], append([]domain.LineItem{op.before.Clone()}, items[at:]...)...)
	}
	return s.WithItems(items)
}

// merge folds the authority's canonical line into s. A line with the same id
// or identity is replaced in place; otherwise the line is appended. A canonical
// quantity below one removes the line.
func merge(s domain.State, canonical domain.LineItem, opIdentity domain.Identity) domain.State {
	canonical = canonical.Clone()
	canonical.Variant = domain.NormalizeVariant(canonical.Variant)

	i := domain.FindIndexByID(s.Items, canonical.ID)
	if i < 0 {
		i = domain.FindIndex(s.Items, canonical.Identity())
	}
	if i < 0 {
		i = domain.FindIndex(s.Items, opIdentity)
	}

	items := s.Items
	switch {
	case canonical.Quantity < 1 && i >= 0:
		items = append(items[:i:i], items[i+1:]...)
	case canonical.Quantity < 1:
	case i >= 0:
		items[i] = canonical
	default:
		items = append(items, canonical)
	}
	return s.WithItems(items)
}
