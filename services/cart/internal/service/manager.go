// Package service owns the lifecycle of cart sessions. Each session holds
// exactly one cart store: a local store for guests and a store synchronized
// with the cart authority for signed-in users.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/utafrali/EcommerceGo/pkg/errors"
	"github.com/utafrali/EcommerceGo/services/cart/internal/domain"
	"github.com/utafrali/EcommerceGo/services/cart/internal/persistence"
	"github.com/utafrali/EcommerceGo/services/cart/internal/reconcile"
	"github.com/utafrali/EcommerceGo/services/cart/internal/store"
)

// ErrSessionEnded is returned by operations on a session that was torn down.
var ErrSessionEnded = errors.New("cart session ended")

// EventPublisher publishes cart change events. *event.Producer satisfies it.
type EventPublisher interface {
	PublishCartUpdated(ctx context.Context, userID, sessionID string, state domain.State) error
	PublishCartCleared(ctx context.Context, userID, sessionID string) error
}

// AuthorityFunc returns the cart authority of a signed-in user.
type AuthorityFunc func(userID string) reconcile.Authority

// Dependencies are the collaborators of a SessionManager. Only Authority is
// needed for signed-in carts; every other field is optional.
type Dependencies struct {
	Cache     persistence.Cache
	Authority AuthorityFunc
	Catalog   store.Catalog
	Events    EventPublisher
}

// SessionManager creates, looks up and tears down cart sessions.
type SessionManager struct {
	deps   Dependencies
	idle   time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionManager creates a manager. Sessions unused for longer than idle
// are torn down by Reap.
func NewSessionManager(deps Dependencies, idle time.Duration, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		deps:     deps,
		idle:     idle,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Open returns the session with the given id, creating it when needed, and
// makes sure its store matches userID: empty means a guest cart. A change of
// user replaces the store; the lines of a guest cart are carried over into
// the signed-in cart. A new store is loaded before Open returns.
func (m *SessionManager) Open(ctx context.Context, sessionID, userID string) (*Session, error) {
	if sessionID == "" {
		return nil, apperrors.InvalidInput("session id is required")
	}
	if userID != "" && m.deps.Authority == nil {
		return nil, apperrors.ServiceUnavailable("signed-in carts are not available")
	}

	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		s = m.newSession(sessionID)
		m.sessions[sessionID] = s
		sessionsOpen.Inc()
	}
	s.touch(m.now())
	m.mu.Unlock()

	if err := s.ensure(ctx, userID); err != nil {
		return s, err
	}
	return s, nil
}

func (m *SessionManager) newSession(id string) *Session {
	s := &Session{id: id, manager: m}
	if m.deps.Cache != nil {
		s.bridge = persistence.NewBridge(m.deps.Cache, id, m.logger)
	}
	return s
}

func (m *SessionManager) newCart(userID string, p store.Persister) store.Cart {
	if userID == "" {
		return store.NewLocalStore(p, m.deps.Catalog, m.logger)
	}
	return reconcile.NewStore(m.deps.Authority(userID), p, m.logger)
}

// Lookup returns a live session without creating or touching it.
func (m *SessionManager) Lookup(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Len returns the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// End tears a session down on logout or checkout completion: its store is
// closed and its persisted projection is deleted. Ending an unknown session
// only deletes the projection.
func (m *SessionManager) End(ctx context.Context, sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if !ok {
		if m.deps.Cache != nil {
			if err := m.deps.Cache.Delete(ctx, persistence.Key(sessionID)); err != nil {
				m.logger.WarnContext(ctx, "failed to delete persisted cart",
					slog.String("session_id", sessionID),
					slog.String("error", err.Error()),
				)
			}
		}
		return
	}

	s.teardown(ctx, true)
	sessionsOpen.Dec()
	sessionsClosed.WithLabelValues("ended").Inc()
	m.logger.InfoContext(ctx, "cart session ended", slog.String("session_id", sessionID))
}

// Reap tears down sessions idle for longer than the configured timeout and
// returns how many were removed. Their persisted projection is kept so a
// returning guest gets the cart back.
func (m *SessionManager) Reap(ctx context.Context) int {
	cutoff := m.now().Add(-m.idle)

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.idleSince(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.teardown(ctx, false)
		sessionsOpen.Dec()
		sessionsClosed.WithLabelValues("idle").Inc()
	}
	if len(idle) > 0 {
		m.logger.InfoContext(ctx, "reaped idle cart sessions", slog.Int("sessions", len(idle)))
	}
	return len(idle)
}

// RunReaper calls Reap every interval until ctx is canceled.
func (m *SessionManager) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reap(ctx)
		}
	}
}

// ResyncUser reloads every live session of userID except exceptSessionID
// from the cart authority. It returns the number of sessions reloaded.
func (m *SessionManager) ResyncUser(ctx context.Context, userID, exceptSessionID string) (int, error) {
	m.mu.Lock()
	candidates := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		if id != exceptSessionID {
			candidates = append(candidates, s)
		}
	}
	m.mu.Unlock()

	var (
		n    int
		errs []error
	)
	for _, s := range candidates {
		if s.UserID() != userID {
			continue
		}
		if _, err := s.reload(ctx); err != nil {
			if errors.Is(err, ErrSessionEnded) {
				continue
			}
			errs = append(errs, fmt.Errorf("session %s: %w", s.id, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Close tears every session down, flushing persisted projections.
func (m *SessionManager) Close(ctx context.Context) {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.teardown(ctx, false)
		sessionsOpen.Dec()
		sessionsClosed.WithLabelValues("shutdown").Inc()
	}
}

// publishTimeout bounds how long a cart operation waits for its event to be
// published. The event outlives the cancellation of the request.
const publishTimeout = 2 * time.Second

func publishContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
}

func (m *SessionManager) publishUpdated(ctx context.Context, userID, sessionID string, st domain.State) {
	if m.deps.Events == nil {
		return
	}
	ctx, cancel := publishContext(ctx)
	defer cancel()
	if err := m.deps.Events.PublishCartUpdated(ctx, userID, sessionID, st); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish cart.updated event",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}

func (m *SessionManager) publishCleared(ctx context.Context, userID, sessionID string) {
	if m.deps.Events == nil {
		return
	}
	ctx, cancel := publishContext(ctx)
	defer cancel()
	if err := m.deps.Events.PublishCartCleared(ctx, userID, sessionID); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish cart.cleared event",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}
