// Package service contains the business logic layer.
//
// This file implements the profile service: the read path that resolves a
// user's entitlement record and reconciles it against the billing platform.
package service

import (
	"context"
	"log/slog"

	"github.com/pixelift/pixelift/internal/billing"
	"github.com/pixelift/pixelift/internal/domain"
	"github.com/pixelift/pixelift/internal/entitlement"
	"github.com/pixelift/pixelift/internal/metrics"
)

// =============================================================================
// Interface Definition
// =============================================================================

// ProfileView is the reconciled profile returned to callers.
type ProfileView struct {
	Profile domain.Profile

	// Unverified is true when the billing platform could not confirm the
	// profile's subscription state. The profile is still served.
	Unverified bool
}

// ProfileService defines the interface for profile read operations.
type ProfileService interface {
	// Get resolves the user's profile (creating it on first access) and
	// reconciles it against the billing platform.
	// Returns domain.EUNAUTHORIZED for an empty user ID.
	Get(ctx context.Context, userID string) (*ProfileView, error)

	// EnsureBillingCustomer guarantees the profile carries a billing customer
	// reference, creating one on the billing platform if needed. Mutates p.
	// Returns domain.EUPSTREAM if the billing platform call fails.
	EnsureBillingCustomer(ctx context.Context, p *domain.Profile) error
}

// ProfileStore is the persistence surface the profile service needs beyond
// what the entitlement service already covers.
type ProfileStore interface {
	SetBillingCustomer(ctx context.Context, userID, customerID string) error
}

// =============================================================================
// Implementation
// =============================================================================

type profileService struct {
	entitlements *entitlement.Service
	store        ProfileStore
	billing      billing.Service // nil when billing is not configured
	logger       *slog.Logger
}

// NewProfileService creates a new ProfileService.
func NewProfileService(
	entitlements *entitlement.Service,
	store ProfileStore,
	billingService billing.Service,
	logger *slog.Logger,
) ProfileService {
	return &profileService{
		entitlements: entitlements,
		store:        store,
		billing:      billingService,
		logger:       logger,
	}
}

// Get resolves and reconciles the user's profile.
func (s *profileService) Get(ctx context.Context, userID string) (*ProfileView, error) {
	p, err := s.entitlements.ResolveProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.entitlements.EnsureTrialCredits(ctx, &p); err != nil {
		return nil, err
	}

	rec, err := s.entitlements.Reconcile(ctx, p)
	if err != nil {
		return nil, err
	}
	metrics.ReconciliationsTotal.WithLabelValues(reconcileOutcome(rec)).Inc()

	return &ProfileView{
		Profile:    rec.Profile,
		Unverified: rec.Unverified,
	}, nil
}

// EnsureBillingCustomer creates a billing customer for the profile if it has
// none yet.
func (s *profileService) EnsureBillingCustomer(ctx context.Context, p *domain.Profile) error {
	const op = "service.ensure_billing_customer"

	if p.BillingCustomerID != "" {
		return nil
	}
	if s.billing == nil {
		return domain.Errorf(domain.EUPSTREAM, op, "billing is not configured")
	}

	customerID, err := s.billing.CreateCustomer(p.UserID)
	if err != nil {
		return domain.Upstream(err, op, "The billing platform is unavailable. Try again shortly.")
	}

	if err := s.store.SetBillingCustomer(ctx, p.UserID, customerID); err != nil {
		return domain.Internal(err, op, "failed to record billing customer")
	}

	p.BillingCustomerID = customerID
	s.logger.Info("billing customer created", "user_id", p.UserID, "customer_id", customerID)
	return nil
}

// reconcileOutcome maps a reconcile result onto a metric label.
func reconcileOutcome(rec entitlement.ReconcileResult) string {
	switch {
	case rec.Drift != "":
		return "drift"
	case rec.Unverified:
		return "unverified"
	case rec.Changed:
		return "changed"
	default:
		return "unchanged"
	}
}
