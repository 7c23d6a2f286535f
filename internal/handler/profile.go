// Package handler contains HTTP handlers for the Pixelift API.
//
// This file implements the profile endpoint.
//
// Routes:
//   - GET /api/profile -> Get
package handler

import (
	"log/slog"
	"net/http"

	"github.com/pixelift/pixelift/internal/domain"
	"github.com/pixelift/pixelift/internal/middleware"
	"github.com/pixelift/pixelift/internal/service"
)

// ProfileResponse is the JSON shape of a reconciled profile.
type ProfileResponse struct {
	UserID            string `json:"user_id"`
	Tier              string `json:"tier"`
	Credits           int    `json:"credits"`
	AICredits         int    `json:"ai_credits"`
	Unlimited         bool   `json:"unlimited"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`

	// Unverified is true when the billing platform could not confirm the
	// subscription; the values shown are last known good.
	Unverified bool `json:"unverified,omitempty"`
}

// ProfileHandler handles profile HTTP requests.
type ProfileHandler struct {
	profileService service.ProfileService
	logger         *slog.Logger
}

// NewProfileHandler creates a new ProfileHandler.
func NewProfileHandler(profileService service.ProfileService, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{
		profileService: profileService,
		logger:         logger,
	}
}

// RegisterRoutes registers profile routes with the provided mux.
func (h *ProfileHandler) RegisterRoutes(mux *http.ServeMux, requireSubject func(http.Handler) http.Handler) {
	mux.Handle("GET /api/profile", requireSubject(http.HandlerFunc(h.Get)))
}

// Get returns the caller's reconciled profile.
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetSubject(r.Context())

	view, err := h.profileService.Get(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	p := view.Profile
	writeJSON(w, http.StatusOK, ProfileResponse{
		UserID:            p.UserID,
		Tier:              string(p.Tier),
		Credits:           displayCredits(&p),
		AICredits:         p.AICredits,
		Unlimited:         p.HasUnlimitedCredits(),
		CancelAtPeriodEnd: p.CancelAtPeriodEnd,
		Unverified:        view.Unverified,
	})
}

// displayCredits hides the unlimited sentinel from clients; they read the
// Unlimited flag instead.
func displayCredits(p *domain.Profile) int {
	if p.HasUnlimitedCredits() {
		return 0
	}
	return p.Credits
}
