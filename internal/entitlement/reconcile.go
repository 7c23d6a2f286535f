package entitlement

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v79"

	"github.com/pixelift/pixelift/internal/billing"
	"github.com/pixelift/pixelift/internal/domain"
)

// ReconcileResult reports what reconciliation did.
type ReconcileResult struct {
	Profile domain.Profile

	// Changed is true when the local profile was rewritten to match the
	// billing platform.
	Changed bool

	// Unverified is true when the billing platform could not be reached; the
	// profile is returned as last known, never denied.
	Unverified bool

	// Drift carries a diagnostic when local and billing state disagree in a
	// way reconciliation cannot resolve (unknown price id). Non-fatal.
	Drift string
}

// Reconcile compares the local profile against the billing platform's live
// subscription state and repairs the local record where they disagree. The
// billing platform wins for tier and cancellation state; local credit
// balances are preserved except for the grant applied when entering an
// active paid tier.
func (s *Service) Reconcile(ctx context.Context, p domain.Profile) (ReconcileResult, error) {
	const op = "entitlement.reconcile"

	res := ReconcileResult{Profile: p}

	// Nothing to verify against.
	if p.BillingSubscriptionID == "" {
		return res, nil
	}
	if s.billing == nil {
		res.Unverified = true
		return res, nil
	}

	view, err := s.billing.GetSubscription(p.BillingSubscriptionID)
	if err != nil {
		// A billing outage must not block the request: return the last-known
		// profile and flag it unverified.
		s.logger.Warn("billing lookup failed during reconcile",
			"user_id", p.UserID, "subscription_id", p.BillingSubscriptionID, "error", err)
		res.Unverified = true
		return res, nil
	}

	switch {
	case view.Active():
		return s.reconcileActive(ctx, p, view)
	case subscriptionGone(view.Status):
		return s.reconcileGone(ctx, p, view)
	default:
		// Lapsed but not gone (past_due, unpaid, paused): only the
		// cancellation flag is mirrored; credits are left untouched.
		if p.CancelAtPeriodEnd != view.CancelAtPeriodEnd {
			if err := s.store.SetCancelAtPeriodEnd(ctx, p.UserID, view.CancelAtPeriodEnd); err != nil {
				return res, domain.Internal(err, op, "failed to sync cancellation flag")
			}
			p.CancelAtPeriodEnd = view.CancelAtPeriodEnd
			res.Profile = p
			res.Changed = true
		}
		return res, nil
	}
}

func (s *Service) reconcileActive(ctx context.Context, p domain.Profile, view billing.SubscriptionView) (ReconcileResult, error) {
	const op = "entitlement.reconcile"

	res := ReconcileResult{Profile: p}

	tier, ok := s.billing.Resolver().TierForPrice(view.PriceID, view.UnitAmount, view.Interval)
	if !ok {
		// Unknown price: keep the local tier and surface a diagnostic rather
		// than guessing. The cancellation flag is still billing-owned.
		res.Drift = fmt.Sprintf("active subscription %s has unknown price %q (amount=%d interval=%s)",
			view.ID, view.PriceID, view.UnitAmount, view.Interval)
		s.logger.Warn("tier drift: unknown price id",
			"user_id", p.UserID, "price_id", view.PriceID,
			"unit_amount", view.UnitAmount, "interval", view.Interval)

		if p.CancelAtPeriodEnd != view.CancelAtPeriodEnd {
			if err := s.store.SetCancelAtPeriodEnd(ctx, p.UserID, view.CancelAtPeriodEnd); err != nil {
				return res, domain.Internal(err, op, "failed to sync cancellation flag")
			}
			p.CancelAtPeriodEnd = view.CancelAtPeriodEnd
			res.Profile = p
			res.Changed = true
		}
		return res, nil
	}

	if p.Tier == tier && p.CancelAtPeriodEnd == view.CancelAtPeriodEnd {
		return res, nil
	}

	updated := ApplyTierGrant(p, tier)
	updated.CancelAtPeriodEnd = view.CancelAtPeriodEnd
	updated.BillingSubscriptionID = view.ID

	if err := s.store.UpdateProfileBilling(ctx, updated); err != nil {
		return res, domain.Internal(err, op, "failed to repair profile")
	}

	s.logger.Info("profile reconciled with billing platform",
		"user_id", p.UserID, "old_tier", p.Tier, "new_tier", tier,
		"cancel_at_period_end", view.CancelAtPeriodEnd)

	res.Profile = updated
	res.Changed = true
	return res, nil
}

// reconcileGone handles a subscription the billing platform reports as
// terminally over. This mirrors the subscription.deleted webhook in case the
// event was missed: downgrade to free, zero both counters, clear the
// subscription reference.
func (s *Service) reconcileGone(ctx context.Context, p domain.Profile, view billing.SubscriptionView) (ReconcileResult, error) {
	const op = "entitlement.reconcile"

	res := ReconcileResult{Profile: p}

	downgraded := Downgrade(p)
	if err := s.store.UpdateProfileBilling(ctx, downgraded); err != nil {
		return res, domain.Internal(err, op, "failed to downgrade profile")
	}

	s.logger.Info("profile downgraded: subscription gone",
		"user_id", p.UserID, "subscription_id", view.ID, "status", view.Status)

	res.Profile = downgraded
	res.Changed = true
	return res, nil
}

// ApplyTierGrant returns the profile rewritten for an active paid tier:
// unlimited basic credits, and the tier's AI allotment when that raises the
// balance. An existing higher balance (purchased top-ups) is never lowered,
// and tiers without an allotment leave the balance alone.
func ApplyTierGrant(p domain.Profile, tier domain.Tier) domain.Profile {
	grant := domain.GrantForTier(tier)
	p.Tier = tier
	p.Credits = grant.Credits
	if grant.AICredits > p.AICredits {
		p.AICredits = grant.AICredits
	}
	return p
}

// Downgrade returns the profile reset to the free tier with both counters
// zeroed and the subscription reference cleared. The customer reference is
// kept so a future checkout reuses the same billing customer.
func Downgrade(p domain.Profile) domain.Profile {
	p.Tier = domain.TierFree
	p.Credits = 0
	p.AICredits = 0
	p.BillingSubscriptionID = ""
	p.CancelAtPeriodEnd = false
	return p
}

// subscriptionGone reports whether the status means the subscription no
// longer entitles anything and never will again.
func subscriptionGone(status string) bool {
	switch status {
	case string(stripe.SubscriptionStatusCanceled),
		string(stripe.SubscriptionStatusIncompleteExpired):
		return true
	}
	return false
}
