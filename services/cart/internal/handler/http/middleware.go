package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/utafrali/EcommerceGo/pkg/httputil"
	"github.com/utafrali/EcommerceGo/pkg/logger"
	"github.com/utafrali/EcommerceGo/services/cart/internal/service"
)

const (
	headerSessionID = "X-Session-ID"
	headerUserID    = "X-User-ID"
)

type contextKey string

const sessionKey contextKey = "cart_session"

// SessionIdentity requires a UUID X-Session-ID header and reads the optional
// X-User-ID header (injected by the API gateway after JWT validation). Both
// are stored in the request context; an empty user id means a guest.
func SessionIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid, ok := httputil.RequireUUIDHeader(w, r, headerSessionID)
		if !ok {
			return
		}

		ctx := logger.WithSessionID(r.Context(), sid)
		ctx = logger.WithUserID(ctx, strings.TrimSpace(r.Header.Get(headerUserID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OpenSession opens the caller's cart session and stores it in the request
// context. It must be mounted after SessionIdentity.
func (h *CartHandler) OpenSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		s, err := h.sessions.Open(ctx, logger.SessionIDFromContext(ctx), logger.UserIDFromContext(ctx))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, sessionKey, s)))
	})
}

func sessionFromContext(ctx context.Context) *service.Session {
	s, _ := ctx.Value(sessionKey).(*service.Session)
	return s
}

// ContentTypeJSON enforces that requests with a body have Content-Type: application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
					Error: &httputil.ErrorResponse{
						Code:    "UNSUPPORTED_MEDIA_TYPE",
						Message: "Content-Type must be application/json",
					},
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
