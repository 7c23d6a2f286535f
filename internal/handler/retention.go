// Package handler contains HTTP handlers for the Pixelift API.
//
// This file implements the retention sweep endpoint.
//
// Route:
//   - POST /internal/retention/sweep -> Sweep
//
// The route is keyed with a shared secret; it is meant to be called by an
// external scheduler, not by end users.
package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/pixelift/pixelift/internal/service"
)

// RetentionKeyHeader carries the shared sweep secret.
const RetentionKeyHeader = "X-Retention-Key"

// RetentionHandler handles retention sweep HTTP requests.
type RetentionHandler struct {
	retentionService service.RetentionService
	key              string
	logger           *slog.Logger
}

// NewRetentionHandler creates a new RetentionHandler. An empty key disables
// the endpoint.
func NewRetentionHandler(retentionService service.RetentionService, key string, logger *slog.Logger) *RetentionHandler {
	return &RetentionHandler{
		retentionService: retentionService,
		key:              key,
		logger:           logger,
	}
}

// RegisterRoutes registers retention routes on the provided mux.
func (h *RetentionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /internal/retention/sweep", h.Sweep)
}

// Sweep runs the retention sweep and reports what it did.
func (h *RetentionHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	if h.key == "" {
		h.logger.Warn("sweep requested but RETENTION_KEY is not configured")
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	provided := r.Header.Get(RetentionKeyHeader)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(h.key)) != 1 {
		h.logger.Warn("sweep request with bad key", "ip", r.RemoteAddr)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	result, err := h.retentionService.Sweep(r.Context())
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scanned":     result.Scanned,
		"deleted":     result.Deleted,
		"failed":      result.Failed,
		"total_bytes": result.TotalBytes,
	})
}
