package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/EcommerceGo/pkg/logger"
)

// RequestLogger returns middleware that builds a request-scoped logger enriched
// with correlation_id, user_id, session_id, trace_id and span_id, then stores
// it in context via logger.NewContext. Downstream handlers retrieve it with
// logger.FromContext(ctx).
//
// Ids already present in the context win over the X-User-ID and X-Session-ID
// headers. Mount it AFTER RequestLogging and Tracing.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if logger.UserIDFromContext(ctx) == "" {
				if id := r.Header.Get("X-User-ID"); id != "" {
					ctx = logger.WithUserID(ctx, id)
				}
			}
			if logger.SessionIDFromContext(ctx) == "" {
				if id := r.Header.Get("X-Session-ID"); id != "" {
					ctx = logger.WithSessionID(ctx, id)
				}
			}

			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
