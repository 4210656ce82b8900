// Package instance serves the instance actor used to verify signed fetches.
package instance

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"apview/internal/federation"
)

const activityJSON = "application/activity+json"

// Handler serves GET /actor.
type Handler struct {
	body []byte
}

// NewHandler creates a Handler serving actor.
func NewHandler(actor *federation.Actor) (*Handler, error) {
	body, err := json.Marshal(actor)
	if err != nil {
		return nil, err
	}
	return &Handler{body: body}, nil
}

// HandleActor handles GET /actor
func (h *Handler) HandleActor(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", activityJSON)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(h.body); err != nil {
		slog.Warn("[FEDERATION] failed to write instance actor", "error", err)
	}
}
