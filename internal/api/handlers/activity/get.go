// Package activity provides the HTTP handler that resolves remote
// ActivityPub objects.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"apview/internal/api/handlers/common"
	"apview/internal/core/activity"
)

// Resolver is implemented by *activity.Resolver.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) (*activity.Resolved, error)
}

// Response is the body of a successful GET /api/activity.
type Response struct {
	Success     bool              `json:"success"`
	URL         string            `json:"url"`
	FinalURL    string            `json:"final_url"`
	Redirected  bool              `json:"redirected"`
	Content     json.RawMessage   `json:"content"`
	ContentType string            `json:"content_type"`
	StatusCode  int               `json:"status_code"`
	SignedMedia map[string]string `json:"_signed_media,omitempty"`
}

// Handler serves GET /api/activity.
type Handler struct {
	resolver Resolver
	maxAge   time.Duration
}

// NewHandler creates a Handler. maxAge sets the Cache-Control max-age of
// successful responses.
func NewHandler(resolver Resolver, maxAge time.Duration) *Handler {
	return &Handler{resolver: resolver, maxAge: maxAge}
}

// HandleGet handles GET /api/activity?url=
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rawURL := strings.TrimSpace(r.URL.Query().Get("url"))

	res, err := h.resolver.Resolve(r.Context(), rawURL)
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(h.maxAge.Seconds())))
	common.WriteJSON(w, http.StatusOK, Response{
		Success:     true,
		URL:         res.URL,
		FinalURL:    res.FinalURL,
		Redirected:  res.Redirected,
		Content:     res.Content,
		ContentType: res.ContentType,
		StatusCode:  res.StatusCode,
		SignedMedia: res.SignedMedia,
	})
}
