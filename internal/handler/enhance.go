// Package handler contains HTTP handlers for the Pixelift API.
//
// This file implements the enhancement endpoints.
//
// Routes:
//   - POST /api/enhance        -> Enhance (signed-in, filter enhancement)
//   - POST /api/enhance/ai     -> EnhanceAI (signed-in or guest)
//   - POST /api/enhance/resume -> Resume (signed-in, replays a staged guest request)
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/pixelift/pixelift/internal/domain"
	"github.com/pixelift/pixelift/internal/enhance"
	"github.com/pixelift/pixelift/internal/inference"
	"github.com/pixelift/pixelift/internal/middleware"
	"github.com/pixelift/pixelift/internal/service"
)

// maxFormMemory bounds the in-memory part of multipart parsing (8 MB).
const maxFormMemory = 8 << 20

// =============================================================================
// Response Types
// =============================================================================

// ImageResponse is the JSON shape of an image record.
type ImageResponse struct {
	ID          uuid.UUID `json:"id"`
	OriginalURL string    `json:"original_url"`
	EnhancedURL string    `json:"enhanced_url"`
	PromptLabel string    `json:"prompt_label"`
	AI          bool      `json:"ai"`
	Likes       int       `json:"likes"`
	CreatedAt   string    `json:"created_at"`
}

func imageResponse(img *domain.Image) ImageResponse {
	return ImageResponse{
		ID:          img.ID,
		OriginalURL: img.OriginalURL,
		EnhancedURL: img.EnhancedURL,
		PromptLabel: img.PromptLabel,
		AI:          img.AI,
		Likes:       img.Likes,
		CreatedAt:   img.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// =============================================================================
// Handler Configuration
// =============================================================================

// EnhanceHandler handles enhancement HTTP requests.
type EnhanceHandler struct {
	enhanceService service.EnhanceService
	logger         *slog.Logger
}

// NewEnhanceHandler creates a new EnhanceHandler.
func NewEnhanceHandler(enhanceService service.EnhanceService, logger *slog.Logger) *EnhanceHandler {
	return &EnhanceHandler{
		enhanceService: enhanceService,
		logger:         logger,
	}
}

// RegisterRoutes registers enhancement routes with the provided mux.
// The AI route stays open to guests; the quota lives in the service.
func (h *EnhanceHandler) RegisterRoutes(mux *http.ServeMux, requireSubject func(http.Handler) http.Handler) {
	mux.Handle("POST /api/enhance", requireSubject(http.HandlerFunc(h.Enhance)))
	mux.HandleFunc("POST /api/enhance/ai", h.EnhanceAI)
	mux.Handle("POST /api/enhance/resume", requireSubject(http.HandlerFunc(h.Resume)))
}

// =============================================================================
// POST /api/enhance
// =============================================================================

// Enhance runs a filter enhancement for the signed-in user.
func (h *EnhanceHandler) Enhance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetSubject(r.Context())

	upload, err := h.readUpload(r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	filter := enhance.Filter(r.FormValue("filter"))

	img, err := h.enhanceService.Enhance(r.Context(), userID, upload, filter)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, imageResponse(img))
}

// =============================================================================
// POST /api/enhance/ai
// =============================================================================

// EnhanceAI runs an AI enhancement. Signed-in users get an image record;
// guests get the enhanced bytes plus an updated usage token.
func (h *EnhanceHandler) EnhanceAI(w http.ResponseWriter, r *http.Request) {
	upload, err := h.readUpload(r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	model := inference.Model(r.FormValue("model"))

	if userID := middleware.GetSubject(r.Context()); userID != "" {
		img, err := h.enhanceService.EnhanceAI(r.Context(), userID, upload, model)
		if err != nil {
			ErrorResponse(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, imageResponse(img))
		return
	}

	h.guestEnhanceAI(w, r, upload, model)
}

func (h *EnhanceHandler) guestEnhanceAI(w http.ResponseWriter, r *http.Request, upload service.Upload, model inference.Model) {
	rawToken := middleware.GetGuestToken(r.Context())

	result, err := h.enhanceService.GuestEnhanceAI(r.Context(), rawToken, upload, model)
	if err != nil {
		var quota *service.QuotaExhaustedError
		if errors.As(err, &quota) {
			// The wall response carries the staged request id so the client
			// can resume after sign-up.
			w.Header().Set(middleware.GuestTokenHeader, quota.Token)
			writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
				"error": map[string]string{
					"code":    domain.ErrorCode(quota.Err),
					"message": domain.ErrorMessage(quota.Err),
					"reason":  domain.ErrorReason(quota.Err),
				},
				"stage_id": quota.StageID,
			})
			return
		}
		ErrorResponse(w, r, h.logger, err)
		return
	}

	w.Header().Set(middleware.GuestTokenHeader, result.Token)
	w.Header().Set("Content-Type", result.ContentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Data); err != nil {
		h.logger.Warn("failed to write guest enhancement response", "error", err)
	}
}

// =============================================================================
// POST /api/enhance/resume
// =============================================================================

type resumeRequest struct {
	StageID uuid.UUID `json:"stage_id"`
}

// Resume replays a staged guest request as the newly signed-in user.
func (h *EnhanceHandler) Resume(w http.ResponseWriter, r *http.Request) {
	const op = "handler.resume"

	userID := middleware.GetSubject(r.Context())

	var req resumeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "Request body must be JSON with a stage_id."))
		return
	}
	if req.StageID == uuid.Nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "stage_id is required."))
		return
	}

	img, err := h.enhanceService.Resume(r.Context(), userID, req.StageID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, imageResponse(img))
}

// =============================================================================
// Internal Helpers
// =============================================================================

// readUpload extracts the uploaded image from the multipart form.
func (h *EnhanceHandler) readUpload(r *http.Request) (service.Upload, error) {
	const op = "handler.read_upload"

	r.Body = http.MaxBytesReader(nil, r.Body, service.MaxUploadBytes+maxFormMemory)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		return service.Upload{}, domain.Invalid(op, "Expected a multipart form with an image file.")
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return service.Upload{}, domain.Invalid(op, "No image was uploaded.")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, service.MaxUploadBytes+1))
	if err != nil {
		return service.Upload{}, domain.Internal(err, op, "failed to read upload")
	}

	return service.Upload{
		Data:        data,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
	}, nil
}
