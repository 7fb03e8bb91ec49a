package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/utafrali/EcommerceGo/services/cart/internal/domain"
	"github.com/utafrali/EcommerceGo/services/cart/internal/store"
)

const (
	keyPrefix    = "cart:snapshot:"
	writeTimeout = 5 * time.Second
)

// entry is the persisted projection of one line. Prices, names and variants
// are not stored; restored lines are re-priced by the store.
type entry struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Key returns the cache key holding a session's projection.
func Key(sessionID string) string {
	return keyPrefix + sessionID
}

// Bridge persists a cart's projection for one session. Saves never block the
// caller: a single background writer always stores the most recent projection
// and drops superseded ones.
type Bridge struct {
	cache  Cache
	key    string
	logger *slog.Logger

	mu      sync.Mutex
	pending []entry
	dirty   bool
	latest  []entry
	saved   bool
	closed  bool
	wake    chan struct{}
	done    chan struct{}

	// writeMu orders writer flushes against Discard.
	writeMu sync.Mutex
}

var _ store.Persister = (*Bridge)(nil)

// NewBridge creates a bridge for sessionID and starts its writer.
func NewBridge(cache Cache, sessionID string, logger *slog.Logger) *Bridge {
	b := &Bridge{
		cache:  cache,
		key:    Key(sessionID),
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

// Save schedules items to be written. Only the latest projection is kept.
func (b *Bridge) Save(items []domain.LineItem) {
	projection := make([]entry, 0, len(items))
	for _, item := range items {
		projection = append(projection, entry{ID: item.ID, ProductID: item.ProductID, Quantity: item.Quantity})
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.pending = projection
	b.dirty = true
	b.latest = projection
	b.saved = true
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Restore reads the projection back. Once this bridge has saved, its latest
// projection is returned without touching the cache, so a restore never sees
// a write that is still queued. Missing, unreadable or corrupt data yields an
// empty cart; malformed entries are dropped.
func (b *Bridge) Restore(ctx context.Context) []domain.LineItem {
	b.mu.Lock()
	if b.saved {
		latest := b.latest
		b.mu.Unlock()
		return toItems(latest)
	}
	b.mu.Unlock()

	data, err := b.cache.Get(ctx, b.key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			b.logger.WarnContext(ctx, "failed to read persisted cart",
				slog.String("key", b.key),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}

	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		b.logger.WarnContext(ctx, "discarding corrupt persisted cart",
			slog.String("key", b.key),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return toItems(entries)
}

func toItems(entries []entry) []domain.LineItem {
	items := make([]domain.LineItem, 0, len(entries))
	for _, e := range entries {
		if e.ProductID == "" || e.Quantity < 1 {
			continue
		}
		items = append(items, domain.LineItem{ID: e.ID, ProductID: e.ProductID, Quantity: e.Quantity})
	}
	return items
}

// Discard drops any pending write and deletes the persisted projection.
func (b *Bridge) Discard(ctx context.Context) {
	b.mu.Lock()
	b.pending = nil
	b.dirty = false
	b.latest = nil
	b.saved = false
	b.mu.Unlock()

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := b.cache.Delete(ctx, b.key); err != nil {
		b.logger.WarnContext(ctx, "failed to discard persisted cart",
			slog.String("key", b.key),
			slog.String("error", err.Error()),
		)
	}
}

// Close flushes the latest pending projection and stops the writer. It is
// safe to call more than once.
func (b *Bridge) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.wake)
	}
	b.mu.Unlock()
	<-b.done
}

func (b *Bridge) run() {
	defer close(b.done)
	for range b.wake {
		b.flush()
	}
	b.flush()
}

func (b *Bridge) flush() {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	b.mu.Lock()
	if !b.dirty {
		b.mu.Unlock()
		return
	}
	projection := b.pending
	b.dirty = false
	b.mu.Unlock()

	data, err := json.Marshal(projection)
	if err != nil {
		b.logger.Error("failed to encode cart projection", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := b.cache.Set(ctx, b.key, data); err != nil {
		b.logger.WarnContext(ctx, "failed to persist cart",
			slog.String("key", b.key),
			slog.String("error", err.Error()),
		)
		return
	}
	b.logger.DebugContext(ctx, "cart persisted",
		slog.String("key", b.key),
		slog.Int("lines", len(projection)),
	)
}
