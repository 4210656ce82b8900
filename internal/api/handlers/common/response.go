// Package common holds response helpers shared by the API handlers.
package common

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"

	"apview/internal/core/apperr"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSON buffers the JSON encoding before sending headers so encoding
// failures never produce a partial response. Returns true if the response
// was written.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) bool {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		slog.Error("[API] failed to encode JSON response", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"An error occurred"}` + "\n"))
		return false
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Warn("[API] failed to write response body", "error", err)
		return false
	}
	return true
}

// WriteError writes {"error": message} with statusCode.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message})
}

// WriteServiceError maps a service error to an HTTP response. Classified
// errors keep their status and message; anything else is logged and
// reported as a generic 500.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		slog.Error("[API] unhandled service error",
			"path", r.URL.Path,
			"error", err,
		)
		WriteError(w, http.StatusInternalServerError, "An error occurred")
		return
	}

	status := apperr.StatusOf(appErr)
	switch {
	case appErr.Kind == apperr.KindInternal:
		slog.Error("[API] internal error",
			"path", r.URL.Path,
			"error", err,
		)
	case status >= http.StatusInternalServerError:
		slog.Warn("[API] upstream failure",
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	default:
		slog.Debug("[API] request rejected",
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	WriteError(w, status, appErr.Message)
}
