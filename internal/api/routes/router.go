// Package routes wires the API handlers onto a chi router.
package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	activityhandlers "apview/internal/api/handlers/activity"
	"apview/internal/api/handlers/common"
	"apview/internal/api/handlers/instance"
	mediahandlers "apview/internal/api/handlers/media"
	webfingerhandlers "apview/internal/api/handlers/webfinger"
	"apview/internal/api/middleware"
)

// Handlers are the endpoint handlers mounted by NewRouter. Instance may be
// nil when signed fetch is disabled.
type Handlers struct {
	Activity  *activityhandlers.Handler
	Webfinger *webfingerhandlers.Handler
	Media     *mediahandlers.Handler
	Instance  *instance.Handler
}

// RouterOptions configures cross-cutting middleware.
type RouterOptions struct {
	Logger *slog.Logger
	// RateLimiter is applied to /api routes when non-nil.
	RateLimiter *middleware.RateLimiter
	// TrustProxyHeaders takes the client address from X-Forwarded-For,
	// X-Real-IP or True-Client-IP. Enable only behind a reverse proxy that
	// overwrites them.
	TrustProxyHeaders bool
}

// NewRouter builds the HTTP router.
func NewRouter(h Handlers, opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	if opts.TrustProxyHeaders {
		r.Use(chiMiddleware.RealIP)
	}
	r.Use(middleware.AccessLog(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(publicCORS())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		common.WriteError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		common.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Group(func(r chi.Router) {
		if opts.RateLimiter != nil {
			r.Use(opts.RateLimiter.Middleware)
		}
		r.Use(chiMiddleware.Timeout(60 * time.Second))

		RegisterHealthRoutes(r)
		RegisterActivityRoutes(r, h.Activity)
		RegisterWebfingerRoutes(r, h.Webfinger)
		RegisterMediaRoutes(r, h.Media)
	})

	if h.Instance != nil {
		RegisterInstanceActorRoutes(r, h.Instance)
	}
	RegisterMetricsRoutes(r)

	return r
}

// publicCORS allows any origin to read the API.
func publicCORS() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})
}
