// Package entitlement is the single authority for what a profile permits.
//
// Every route that gates an action on tier or credits calls into this
// package instead of re-implementing tier/credit math inline. It answers
// three questions: does this profile exist (creating it lazily if not), does
// it permit the requested action, and is its recorded state consistent with
// the billing platform.
package entitlement

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/pixelift/pixelift/internal/billing"
	"github.com/pixelift/pixelift/internal/domain"
)

// Store is the profile persistence the entitlement service needs.
type Store interface {
	GetProfile(ctx context.Context, userID string) (domain.Profile, error)
	CreateProfile(ctx context.Context, p domain.Profile) error
	UpdateProfileBilling(ctx context.Context, p domain.Profile) error
	SetCancelAtPeriodEnd(ctx context.Context, userID string, cancel bool) error
	AddAICredits(ctx context.Context, userID string, amount int) error
	CountAIImages(ctx context.Context, userID string) (int64, error)
}

// Service implements entitlement resolution and reconciliation.
//
// billingService may be nil when Stripe is not configured (development
// mode); reconciliation then reports profiles with a billing reference as
// unverified instead of failing.
type Service struct {
	store       Store
	billing     billing.Service
	freeCredits int
	logger      *slog.Logger
}

// New creates the entitlement service. freeCredits is the canonical free
// quota: it seeds new profiles and bounds both the guest quota and the free
// AI trial.
func New(store Store, billingService billing.Service, freeCredits int, logger *slog.Logger) *Service {
	return &Service{
		store:       store,
		billing:     billingService,
		freeCredits: freeCredits,
		logger:      logger,
	}
}

// FreeCredits returns the configured free quota.
func (s *Service) FreeCredits() int {
	return s.freeCredits
}

// ResolveProfile fetches a user's profile, creating it on first access with
// the free tier and the configured free quota.
func (s *Service) ResolveProfile(ctx context.Context, userID string) (domain.Profile, error) {
	const op = "entitlement.resolve_profile"

	if userID == "" {
		return domain.Profile{}, domain.Unauthorized(op, "Sign in to continue.")
	}

	p, err := s.store.GetProfile(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Profile{}, domain.Internal(err, op, "failed to load profile")
	}

	fresh := domain.NewProfile(userID, s.freeCredits)
	if err := s.store.CreateProfile(ctx, *fresh); err != nil {
		return domain.Profile{}, domain.Internal(err, op, "failed to create profile")
	}

	// Re-read: a concurrent first request may have won the insert.
	p, err = s.store.GetProfile(ctx, userID)
	if err != nil {
		return domain.Profile{}, domain.Internal(err, op, "failed to load profile after create")
	}
	s.logger.Info("profile created", "user_id", userID, "credits", p.Credits)
	return p, nil
}

// CheckEnhance decides whether the profile permits a basic enhancement:
// any paid tier, or at least one credit on the free tier.
func (s *Service) CheckEnhance(p *domain.Profile) error {
	const op = "entitlement.check_enhance"

	if p.Tier.Paid() {
		return nil
	}
	if p.Credits >= 1 {
		return nil
	}
	return domain.NeedsPurchase(op, "You're out of free enhancements. Upgrade to keep going.")
}

// CheckAIEnhance decides whether the profile permits an AI enhancement.
// Callers should run EnsureTrialCredits first so a free user's trial
// allotment is materialized; after that the check is a plain balance test.
func (s *Service) CheckAIEnhance(p *domain.Profile) error {
	const op = "entitlement.check_ai_enhance"

	if p.AICredits >= 1 {
		return nil
	}
	return domain.NeedsPurchase(op, "You're out of AI credits. Buy a credit pack or go Premier.")
}

// CheckGuestAIEnhance enforces the guest quota. The guest counter is
// client-held and resettable, so this is a UX gate, not a security boundary;
// the denial reason is always needs_signup, since a guest must create an account
// before any purchase flow.
func (s *Service) CheckGuestAIEnhance(used int) error {
	const op = "entitlement.check_guest_ai"

	if used < s.freeCredits {
		return nil
	}
	return domain.NeedsSignup(op, "You've used your free enhancements. Create an account to continue.")
}

// CheckCheckout requires an authenticated identity: guest checkout is
// disallowed regardless of stated intent to pay.
func (s *Service) CheckCheckout(userID string) error {
	const op = "entitlement.check_checkout"

	if userID == "" {
		return &domain.Error{
			Code:    domain.EUNAUTHORIZED,
			Op:      op,
			Message: "Create an account before purchasing.",
			Reason:  domain.ReasonNeedsSignup,
		}
	}
	return nil
}

// EnsureTrialCredits materializes the free AI trial for a non-premier
// profile with an empty balance: if the user has produced fewer AI-tagged
// images than the free quota, the remainder is granted as AI credits. Paid
// allotments and purchased packs already live in the balance, so this is a
// no-op for them.
func (s *Service) EnsureTrialCredits(ctx context.Context, p *domain.Profile) error {
	const op = "entitlement.ensure_trial"

	if p.Tier.Premier() || p.AICredits > 0 {
		return nil
	}

	used, err := s.store.CountAIImages(ctx, p.UserID)
	if err != nil {
		return domain.Internal(err, op, "failed to count prior AI enhancements")
	}
	remaining := s.freeCredits - int(used)
	if remaining <= 0 {
		return nil
	}

	if err := s.store.AddAICredits(ctx, p.UserID, remaining); err != nil {
		return domain.Internal(err, op, "failed to grant trial credits")
	}
	p.AICredits += remaining
	s.logger.Info("trial AI credits granted", "user_id", p.UserID, "granted", remaining)
	return nil
}
