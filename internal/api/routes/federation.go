package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"apview/internal/api/handlers/instance"
	"apview/internal/metrics"
)

// RegisterInstanceActorRoutes publishes the instance actor so remote servers
// can verify signed fetches.
//
// Route: GET /actor
func RegisterInstanceActorRoutes(r chi.Router, handler *instance.Handler) {
	r.Get("/actor", handler.HandleActor)
}

// RegisterMetricsRoutes exposes Prometheus metrics.
//
// Route: GET /metrics
func RegisterMetricsRoutes(r chi.Router) {
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
}
