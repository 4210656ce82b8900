// Package health provides the liveness endpoint.
package health

import (
	"net/http"

	"apview/internal/api/handlers/common"
)

// Response is the body of GET /api/health.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HandleGet handles GET /api/health
func HandleGet(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=60")
	common.WriteJSON(w, http.StatusOK, Response{Status: "ok", Message: "Server is running"})
}
