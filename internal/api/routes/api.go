package routes

import (
	"github.com/go-chi/chi/v5"

	activityhandlers "apview/internal/api/handlers/activity"
	"apview/internal/api/handlers/health"
	mediahandlers "apview/internal/api/handlers/media"
	webfingerhandlers "apview/internal/api/handlers/webfinger"
)

// RegisterActivityRoutes registers the ActivityPub resolver endpoint.
//
// Route: GET /api/activity?url=
func RegisterActivityRoutes(r chi.Router, handler *activityhandlers.Handler) {
	r.Get("/api/activity", handler.HandleGet)
}

// RegisterWebfingerRoutes registers the actor lookup endpoint.
//
// Route: GET /api/webfinger?resource= or ?actor_url=
func RegisterWebfingerRoutes(r chi.Router, handler *webfingerhandlers.Handler) {
	r.Get("/api/webfinger", handler.HandleGet)
}

// RegisterMediaRoutes registers the signed media proxy.
//
// Route: GET /api/media?url=&sig=
//
// Only URLs carrying a signature issued by this server are fetched.
func RegisterMediaRoutes(r chi.Router, handler *mediahandlers.Handler) {
	r.Get("/api/media", handler.HandleGet)
}

// RegisterHealthRoutes registers the liveness endpoint.
func RegisterHealthRoutes(r chi.Router) {
	r.Get("/api/health", health.HandleGet)
}
