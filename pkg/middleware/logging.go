package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/EcommerceGo/pkg/logger"
)

const correlationHeader = "X-Correlation-ID"

// maxCorrelationIDLen bounds client-supplied correlation ids; longer ones are
// replaced.
const maxCorrelationIDLen = 128

// RequestLogging assigns a correlation ID to each request and logs it once
// served. Server errors log at error level, client errors at warn. Probe and
// scrape endpoints log at debug.
func RequestLogging(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			correlationID := strings.TrimSpace(r.Header.Get(correlationHeader))
			if correlationID == "" || len(correlationID) > maxCorrelationIDLen {
				correlationID = uuid.NewString()
			}

			ctx := logger.WithCorrelationID(r.Context(), correlationID)
			r = r.WithContext(ctx)
			w.Header().Set(correlationHeader, correlationID)

			rw := recordStatus(w)
			next.ServeHTTP(rw, r)

			l.Log(ctx, requestLevel(r.URL.Path, rw.status), "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", routePattern(r)),
				slog.Int("status", rw.status),
				slog.Duration("duration", time.Since(start)),
				slog.Int("bytes", rw.bytes),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("user_agent", r.UserAgent()),
				slog.String("correlation_id", correlationID),
			)
		})
	}
}

func requestLevel(path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	case strings.HasPrefix(path, "/health/"), path == "/metrics", strings.HasPrefix(path, "/debug/pprof/"):
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
