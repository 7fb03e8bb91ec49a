package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/EcommerceGo/pkg/health"
	"github.com/utafrali/EcommerceGo/pkg/middleware"
	"github.com/utafrali/EcommerceGo/services/cart/internal/service"
)

// RouterOptions tunes the operational surface of the router.
type RouterOptions struct {
	// PprofCIDRs allowlists /debug/pprof. Empty leaves it unmounted.
	PprofCIDRs []string

	// Per-session request budget for /api/v1/cart. A zero rate disables it.
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter creates a chi router with all cart service routes registered.
func NewRouter(
	sessions *service.SessionManager,
	healthHandler *health.Handler,
	logger *slog.Logger,
	opts RouterOptions,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("cart"))
	r.Use(middleware.Tracing("cart"))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	middleware.RegisterPprof(r, opts.PprofCIDRs, logger)

	cartHandler := NewCartHandler(sessions, logger)

	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Use(middleware.NoStore)
		r.Use(ContentTypeJSON)
		r.Use(SessionIdentity)
		r.Use(middleware.RateLimit(opts.RateLimitRPS, opts.RateLimitBurst, middleware.HeaderKey(headerSessionID), logger))

		r.Delete("/session", cartHandler.EndSession)

		r.Group(func(r chi.Router) {
			r.Use(cartHandler.OpenSession)

			r.Get("/", cartHandler.GetCart)
			r.Delete("/", cartHandler.ClearCart)
			r.Post("/sync", cartHandler.Sync)

			r.Post("/items", cartHandler.AddItem)
			r.Put("/items/quantity", cartHandler.SetQuantity)
			r.Post("/items/increment", cartHandler.Increment)
			r.Post("/items/decrement", cartHandler.Decrement)
			r.Post("/items/remove", cartHandler.RemoveItem)
		})
	})

	return r
}
