// Package handler contains HTTP handlers for the Pixelift API.
//
// This file implements the Stripe webhook endpoint.
//
// Route:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// This route is PUBLIC (no identity middleware) because Stripe calls it
// directly. Authentication is the webhook signature.
package handler

import (
	"log/slog"
	"net/http"

	"io"

	"github.com/pixelift/pixelift/internal/billing"
	"github.com/pixelift/pixelift/internal/service"
)

// maxWebhookBody bounds the webhook payload (64 KB).
const maxWebhookBody = 65536

// WebhookHandler handles incoming webhook events from Stripe.
type WebhookHandler struct {
	billing        billing.Service // nil when Stripe is not configured
	webhookService service.WebhookService
	logger         *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(billingService billing.Service, webhookService service.WebhookService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		billing:        billingService,
		webhookService: webhookService,
		logger:         logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook verifies and applies an incoming Stripe event.
// A processing failure returns 5xx so Stripe redelivers; the idempotency
// ledger makes the redelivery safe.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		h.logger.Warn("stripe webhook received but billing is not configured")
		w.WriteHeader(http.StatusOK)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	event, err := h.billing.VerifyWebhookSignature(body, signature)
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.logger.Info("stripe webhook received", "type", event.Type, "id", event.ID)

	if err := h.webhookService.HandleEvent(r.Context(), event); err != nil {
		h.logger.Error("webhook event processing failed",
			"type", event.Type, "id", event.ID, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
