// Package media provides the HTTP handler for the signed media proxy.
package media

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"apview/internal/api/handlers/common"
	"apview/internal/core/media"
)

// Service is implemented by *media.Service.
type Service interface {
	Serve(ctx context.Context, rawURL, sig string) (*media.Media, error)
}

// Handler serves GET /api/media.
type Handler struct {
	service Service
}

// NewHandler creates a Handler.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// mediaCSP keeps active content such as SVG scripts from running when a
// proxied URL is opened directly.
const mediaCSP = "default-src 'none'; style-src 'unsafe-inline'; sandbox"

// HandleGet handles GET /api/media?url=&sig=
// Successful responses are the raw media bytes. Errors are JSON.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	m, err := h.service.Serve(r.Context(), q.Get("url"), q.Get("sig"))
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", m.ContentType)
	w.Header().Set("Cache-Control", m.CacheControl)
	w.Header().Set("Content-Length", strconv.Itoa(len(m.Data)))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", mediaCSP)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(m.Data); err != nil {
		slog.Warn("[MEDIA-PROXY] failed to write media response",
			"url", q.Get("url"),
			"error", err,
		)
	}
}
