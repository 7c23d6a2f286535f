// Package handler contains HTTP handlers for the Pixelift API.
//
// This file implements the billing endpoints.
//
// Routes:
//   - POST /api/billing/checkout   -> Checkout
//   - POST /api/billing/cancel     -> Cancel
//   - POST /api/billing/reactivate -> Reactivate
package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/pixelift/pixelift/internal/domain"
	"github.com/pixelift/pixelift/internal/middleware"
	"github.com/pixelift/pixelift/internal/service"
)

// BillingHandler handles billing HTTP requests.
type BillingHandler struct {
	checkoutService service.CheckoutService
	logger          *slog.Logger
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(checkoutService service.CheckoutService, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		checkoutService: checkoutService,
		logger:          logger,
	}
}

// RegisterRoutes registers billing routes with the provided mux. Checkout is
// left open so guests receive the needs_signup denial instead of a bare 401.
func (h *BillingHandler) RegisterRoutes(mux *http.ServeMux, requireSubject func(http.Handler) http.Handler) {
	mux.HandleFunc("POST /api/billing/checkout", h.Checkout)
	mux.Handle("POST /api/billing/cancel", requireSubject(http.HandlerFunc(h.Cancel)))
	mux.Handle("POST /api/billing/reactivate", requireSubject(http.HandlerFunc(h.Reactivate)))
}

// =============================================================================
// POST /api/billing/checkout
// =============================================================================

type checkoutRequest struct {
	Tier string `json:"tier"`
	Pack string `json:"pack"`
}

// Checkout creates a checkout session for a tier or a credit pack. Exactly
// one of tier or pack must be set; nothing is ever assumed on the caller's
// behalf.
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	const op = "handler.checkout"

	userID := middleware.GetSubject(r.Context())

	var req checkoutRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "Request body must be JSON."))
		return
	}

	if (req.Tier == "") == (req.Pack == "") {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "Provide exactly one of tier or pack."))
		return
	}

	var (
		url string
		err error
	)
	if req.Tier != "" {
		url, err = h.checkoutService.CreateSubscriptionCheckout(r.Context(), userID, domain.Tier(req.Tier))
	} else {
		url, err = h.checkoutService.CreatePackCheckout(r.Context(), userID, domain.Pack(req.Pack))
	}
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"checkout_url": url})
}

// =============================================================================
// POST /api/billing/cancel and /api/billing/reactivate
// =============================================================================

// Cancel flags the caller's subscription to end at the period boundary.
func (h *BillingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetSubject(r.Context())

	if err := h.checkoutService.Cancel(r.Context(), userID); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"cancel_at_period_end": true})
}

// Reactivate clears a pending end-of-period cancellation.
func (h *BillingHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetSubject(r.Context())

	if err := h.checkoutService.Reactivate(r.Context(), userID); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"cancel_at_period_end": false})
}
