package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/storefront-session/pkg/health"
	"github.com/utafrali/storefront-session/pkg/middleware"
)

const serviceName = "storefront-session"

// RouterConfig carries the HTTP-layer knobs of NewRouter.
type RouterConfig struct {
	CORS           middleware.CORSConfig
	RequestTimeout time.Duration
	PprofCIDRs     []string
}

// NewRouter creates a chi router with all session API routes registered.
func NewRouter(
	sessions SessionManager,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(chimw.Timeout(cfg.RequestTimeout))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics(serviceName))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.RequestLogger(logger, subjectOf(sessions)))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())
	middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)

	sessionHandler := NewSessionHandler(sessions, logger)
	wishlistHandler := NewWishlistHandler(sessions, logger)

	r.Route("/api/v1/session", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.NoStore)

		r.Get("/", sessionHandler.Get)
		r.Post("/login", sessionHandler.Login)
		r.Post("/logout", sessionHandler.Logout)
		r.Post("/wishlist/reload", sessionHandler.ReloadWishlist)
	})

	r.Route("/api/v1/wishlist", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.NoStore)

		r.Get("/", wishlistHandler.List)
		r.Get("/products", wishlistHandler.Products)
		r.Get("/{productId}", wishlistHandler.Exists)
		r.Post("/{productId}/toggle", wishlistHandler.Toggle)
	})

	return r
}

func subjectOf(sessions SessionManager) middleware.SubjectFunc {
	return func() string {
		if s := sessions.Snapshot(); s.Authenticated() {
			return s.Credential.Subject
		}
		return ""
	}
}
