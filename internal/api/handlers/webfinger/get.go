// Package webfinger provides the HTTP handler that resolves handles and
// profile URLs to actor summaries.
package webfinger

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"apview/internal/api/handlers/common"
	"apview/internal/core/webfinger"
)

// Resolver is implemented by *webfinger.Resolver.
type Resolver interface {
	Resolve(ctx context.Context, req webfinger.Request) (*webfinger.ActorSummary, error)
}

// Response is the body of a successful GET /api/webfinger.
type Response struct {
	Success     bool              `json:"success"`
	Handle      string            `json:"handle"`
	Nickname    string            `json:"nickname"`
	ID          string            `json:"id"`
	Domain      string            `json:"domain"`
	Tag         []any             `json:"tag"`
	Icon        *string           `json:"icon"`
	SignedMedia map[string]string `json:"_signed_media,omitempty"`
}

// Handler serves GET /api/webfinger.
type Handler struct {
	resolver Resolver
	maxAge   time.Duration
}

// NewHandler creates a Handler.
func NewHandler(resolver Resolver, maxAge time.Duration) *Handler {
	return &Handler{resolver: resolver, maxAge: maxAge}
}

// HandleGet handles GET /api/webfinger?resource= or ?actor_url=
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := webfinger.Request{
		Resource: strings.TrimSpace(q.Get("resource")),
		ActorURL: strings.TrimSpace(q.Get("actor_url")),
	}

	summary, err := h.resolver.Resolve(r.Context(), req)
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}

	resp := Response{
		Success:     true,
		Handle:      summary.Handle,
		Nickname:    summary.Nickname,
		ID:          summary.ID,
		Domain:      summary.Domain,
		Tag:         summary.Tags,
		SignedMedia: summary.SignedMedia,
	}
	if resp.Tag == nil {
		resp.Tag = []any{}
	}
	if summary.Icon != "" {
		icon := summary.Icon
		resp.Icon = &icon
	}

	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(h.maxAge.Seconds())))
	common.WriteJSON(w, http.StatusOK, resp)
}
