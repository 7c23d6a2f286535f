// Package handler contains HTTP handlers for the Pixelift API.
//
// This file implements the image gallery endpoints.
//
// Routes:
//   - GET    /api/images           -> List
//   - DELETE /api/images/{id}      -> Delete
//   - POST   /api/images/{id}/like -> Like
package handler

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/pixelift/pixelift/internal/domain"
	"github.com/pixelift/pixelift/internal/middleware"
	"github.com/pixelift/pixelift/internal/service"
)

// ImageHandler handles image record HTTP requests.
type ImageHandler struct {
	imageService service.ImageService
	logger       *slog.Logger
}

// NewImageHandler creates a new ImageHandler.
func NewImageHandler(imageService service.ImageService, logger *slog.Logger) *ImageHandler {
	return &ImageHandler{
		imageService: imageService,
		logger:       logger,
	}
}

// RegisterRoutes registers image routes with the provided mux. Like is open
// to anyone with the image id; list and delete require the owner.
func (h *ImageHandler) RegisterRoutes(mux *http.ServeMux, requireSubject func(http.Handler) http.Handler) {
	mux.Handle("GET /api/images", requireSubject(http.HandlerFunc(h.List)))
	mux.Handle("DELETE /api/images/{id}", requireSubject(http.HandlerFunc(h.Delete)))
	mux.HandleFunc("POST /api/images/{id}/like", h.Like)
}

// List returns the caller's images, newest first.
func (h *ImageHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetSubject(r.Context())

	images, err := h.imageService.List(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	out := make([]ImageResponse, 0, len(images))
	for i := range images {
		out = append(out, imageResponse(&images[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"images": out})
}

// Delete removes one of the caller's images and its stored artifacts.
func (h *ImageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetSubject(r.Context())

	id, err := h.imageID(r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if err := h.imageService.Delete(r.Context(), userID, id); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Like increments an image's like counter.
func (h *ImageHandler) Like(w http.ResponseWriter, r *http.Request) {
	id, err := h.imageID(r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	likes, err := h.imageService.Like(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"likes": likes})
}

func (h *ImageHandler) imageID(r *http.Request) (uuid.UUID, error) {
	const op = "handler.image_id"

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, domain.Invalid(op, "Invalid image id.")
	}
	return id, nil
}
