// Package service contains the business logic layer.
//
// This file implements the checkout service: creating billing checkout
// sessions and toggling end-of-period cancellation on an active
// subscription.
package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pixelift/pixelift/internal/billing"
	"github.com/pixelift/pixelift/internal/domain"
	"github.com/pixelift/pixelift/internal/entitlement"
	"github.com/pixelift/pixelift/internal/metrics"
)

// =============================================================================
// Interface Definition
// =============================================================================

// CheckoutService defines the interface for billing checkout operations.
type CheckoutService interface {
	// CreateSubscriptionCheckout creates a checkout session for a paid tier
	// and returns its URL.
	// Returns domain.EUNAUTHORIZED (needs_signup) for guest callers.
	CreateSubscriptionCheckout(ctx context.Context, userID string, tier domain.Tier) (string, error)

	// CreatePackCheckout creates a checkout session for an AI credit pack
	// and returns its URL.
	CreatePackCheckout(ctx context.Context, userID string, pack domain.Pack) (string, error)

	// Cancel flags the user's subscription to end at the period boundary.
	// Entitlements stay live until then.
	Cancel(ctx context.Context, userID string) error

	// Reactivate clears a pending end-of-period cancellation.
	Reactivate(ctx context.Context, userID string) error
}

// CheckoutStore is the persistence surface the checkout service needs.
type CheckoutStore interface {
	SetCancelAtPeriodEnd(ctx context.Context, userID string, cancel bool) error
}

// =============================================================================
// Implementation
// =============================================================================

type checkoutService struct {
	entitlements *entitlement.Service
	profiles     ProfileService
	store        CheckoutStore
	billing      billing.Service // nil when billing is not configured
	baseURL      string
	logger       *slog.Logger
}

// NewCheckoutService creates a new CheckoutService. baseURL is the public
// application URL used to build checkout redirect targets.
func NewCheckoutService(
	entitlements *entitlement.Service,
	profiles ProfileService,
	store CheckoutStore,
	billingService billing.Service,
	baseURL string,
	logger *slog.Logger,
) CheckoutService {
	return &checkoutService{
		entitlements: entitlements,
		profiles:     profiles,
		store:        store,
		billing:      billingService,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		logger:       logger,
	}
}

// CreateSubscriptionCheckout creates a checkout session for a paid tier.
func (s *checkoutService) CreateSubscriptionCheckout(ctx context.Context, userID string, tier domain.Tier) (string, error) {
	const op = "service.create_subscription_checkout"

	if err := s.entitlements.CheckCheckout(userID); err != nil {
		return "", err
	}
	if !tier.Paid() {
		return "", domain.Invalid(op, "Choose a paid tier to subscribe.")
	}

	p, err := s.preparedProfile(ctx, userID)
	if err != nil {
		return "", err
	}

	url, err := s.billing.CreateSubscriptionCheckout(
		p.BillingCustomerID, userID, tier,
		s.baseURL+"/billing/success", s.baseURL+"/billing/cancelled")
	if err != nil {
		return "", domain.Upstream(err, op, "The billing platform is unavailable. Try again shortly.")
	}

	metrics.CheckoutsCreated.WithLabelValues("subscription").Inc()
	s.logger.Info("subscription checkout created", "user_id", userID, "tier", tier)
	return url, nil
}

// CreatePackCheckout creates a checkout session for an AI credit pack.
func (s *checkoutService) CreatePackCheckout(ctx context.Context, userID string, pack domain.Pack) (string, error) {
	const op = "service.create_pack_checkout"

	if err := s.entitlements.CheckCheckout(userID); err != nil {
		return "", err
	}
	if !pack.Valid() {
		return "", domain.Invalid(op, "Choose a valid credit pack.")
	}

	p, err := s.preparedProfile(ctx, userID)
	if err != nil {
		return "", err
	}

	url, err := s.billing.CreatePackCheckout(
		p.BillingCustomerID, userID, pack,
		s.baseURL+"/billing/success", s.baseURL+"/billing/cancelled")
	if err != nil {
		return "", domain.Upstream(err, op, "The billing platform is unavailable. Try again shortly.")
	}

	metrics.CheckoutsCreated.WithLabelValues("pack").Inc()
	s.logger.Info("pack checkout created", "user_id", userID, "pack", pack)
	return url, nil
}

// Cancel flags the subscription to end at the period boundary.
func (s *checkoutService) Cancel(ctx context.Context, userID string) error {
	return s.setCancellation(ctx, userID, true)
}

// Reactivate clears a pending end-of-period cancellation.
func (s *checkoutService) Reactivate(ctx context.Context, userID string) error {
	return s.setCancellation(ctx, userID, false)
}

// =============================================================================
// Internal Helpers
// =============================================================================

// preparedProfile resolves the caller's profile with a billing customer
// reference in place, ready for a checkout call.
func (s *checkoutService) preparedProfile(ctx context.Context, userID string) (domain.Profile, error) {
	const op = "service.prepare_checkout"

	if s.billing == nil {
		return domain.Profile{}, domain.Errorf(domain.EUPSTREAM, op, "billing is not configured")
	}

	p, err := s.entitlements.ResolveProfile(ctx, userID)
	if err != nil {
		return domain.Profile{}, err
	}
	if err := s.profiles.EnsureBillingCustomer(ctx, &p); err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}

// setCancellation flips the cancel-at-period-end flag on the billing
// platform first, then mirrors it locally.
func (s *checkoutService) setCancellation(ctx context.Context, userID string, cancel bool) error {
	const op = "service.set_cancellation"

	if err := s.entitlements.CheckCheckout(userID); err != nil {
		return err
	}
	if s.billing == nil {
		return domain.Errorf(domain.EUPSTREAM, op, "billing is not configured")
	}

	p, err := s.entitlements.ResolveProfile(ctx, userID)
	if err != nil {
		return err
	}
	if p.BillingSubscriptionID == "" {
		return domain.Invalid(op, "There is no active subscription to change.")
	}

	if cancel {
		err = s.billing.CancelSubscription(p.BillingSubscriptionID)
	} else {
		err = s.billing.ReactivateSubscription(p.BillingSubscriptionID)
	}
	if err != nil {
		return domain.Upstream(err, op, "The billing platform is unavailable. Try again shortly.")
	}

	if err := s.store.SetCancelAtPeriodEnd(ctx, userID, cancel); err != nil {
		return domain.Internal(err, op, "failed to mirror cancellation flag")
	}

	s.logger.Info("subscription cancellation updated",
		"user_id", userID, "cancel_at_period_end", cancel)
	return nil
}
