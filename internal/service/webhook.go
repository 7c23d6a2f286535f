// Package service contains the business logic layer.
//
// This file implements the billing webhook service. Webhooks and
// reconciliation repair the same state from two directions: webhooks push
// billing changes as they happen, reconciliation pulls current state on
// read. Both apply the same grant and downgrade rules.
package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/stripe/stripe-go/v79"

	"github.com/pixelift/pixelift/internal/billing"
	"github.com/pixelift/pixelift/internal/domain"
	"github.com/pixelift/pixelift/internal/entitlement"
	"github.com/pixelift/pixelift/internal/metrics"
)

// =============================================================================
// Interface Definition
// =============================================================================

// WebhookService defines the interface for applying billing events.
type WebhookService interface {
	// HandleEvent applies a verified billing event to local state.
	// Unknown event types are logged and ignored; the caller should still
	// acknowledge them so the billing platform stops retrying.
	HandleEvent(ctx context.Context, event stripe.Event) error
}

// WebhookStore is the persistence surface the webhook service needs.
//
// ApplyPackEvent and ApplyTierEvent commit the grant and the session-id
// idempotency record atomically, returning false for a session already
// applied. A grant that fails must leave the session unrecorded so a
// redelivery can retry it.
type WebhookStore interface {
	GetProfile(ctx context.Context, userID string) (domain.Profile, error)
	GetProfileByCustomerID(ctx context.Context, customerID string) (domain.Profile, error)
	GetProfileBySubscriptionID(ctx context.Context, subscriptionID string) (domain.Profile, error)
	UpdateProfileBilling(ctx context.Context, p domain.Profile) error
	ApplyPackEvent(ctx context.Context, sessionID, userID string, credits int) (bool, error)
	ApplyTierEvent(ctx context.Context, sessionID string, p domain.Profile) (bool, error)
}

// =============================================================================
// Implementation
// =============================================================================

type webhookService struct {
	store    WebhookStore
	resolver *billing.PriceResolver
	logger   *slog.Logger
}

// NewWebhookService creates a new WebhookService.
func NewWebhookService(store WebhookStore, resolver *billing.PriceResolver, logger *slog.Logger) WebhookService {
	return &webhookService{
		store:    store,
		resolver: resolver,
		logger:   logger,
	}
}

// HandleEvent applies a verified billing event.
func (s *webhookService) HandleEvent(ctx context.Context, event stripe.Event) error {
	var err error
	switch event.Type {
	case "checkout.session.completed":
		err = s.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.updated":
		err = s.handleSubscriptionUpdated(ctx, event)
	case "customer.subscription.deleted":
		err = s.handleSubscriptionDeleted(ctx, event)
	default:
		// Stripe sends every event type the endpoint is subscribed to;
		// anything unhandled is acknowledged so it stops retrying.
		s.logger.Debug("ignoring webhook event", "type", event.Type, "event_id", event.ID)
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "ignored").Inc()
		return nil
	}

	status := "applied"
	if err != nil {
		status = "failed"
	}
	metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), status).Inc()
	return err
}

// =============================================================================
// Event Handlers
// =============================================================================

// handleCheckoutCompleted applies a finished checkout: a tier purchase
// records the billing references and applies the tier grant; a pack purchase
// adds AI credits. The store commits each grant together with the session id
// in an idempotency ledger, so a redelivered event grants nothing twice and
// a failed grant stays retriable.
func (s *webhookService) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	const op = "service.webhook_checkout_completed"

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return domain.Invalid(op, "malformed checkout.session.completed payload")
	}

	userID := session.Metadata[billing.MetadataUserID]
	if userID == "" {
		// Metadata is written by our checkout creation; a session without it
		// did not originate here.
		s.logger.Warn("checkout session without user metadata", "session_id", session.ID)
		return nil
	}

	if pack := domain.Pack(session.Metadata[billing.MetadataPack]); pack != "" {
		return s.applyPackPurchase(ctx, userID, session.ID, pack)
	}

	tier := domain.Tier(session.Metadata[billing.MetadataTier])
	if !tier.Paid() {
		s.logger.Warn("checkout session with unusable metadata",
			"session_id", session.ID, "user_id", userID, "tier", tier)
		return nil
	}
	return s.applyTierPurchase(ctx, userID, session, tier)
}

func (s *webhookService) applyPackPurchase(ctx context.Context, userID, sessionID string, pack domain.Pack) error {
	const op = "service.webhook_pack_purchase"

	if !pack.Valid() {
		s.logger.Warn("checkout session with unknown pack",
			"session_id", sessionID, "user_id", userID, "pack", pack)
		return nil
	}

	fresh, err := s.store.ApplyPackEvent(ctx, sessionID, userID, pack.Credits())
	if err != nil {
		return domain.Internal(err, op, "failed to grant pack credits")
	}
	if !fresh {
		s.logger.Info("duplicate checkout event skipped",
			"session_id", sessionID, "user_id", userID)
		return nil
	}

	s.logger.Info("AI credit pack applied",
		"user_id", userID, "pack", pack, "credits", pack.Credits(), "session_id", sessionID)
	return nil
}

func (s *webhookService) applyTierPurchase(ctx context.Context, userID string, session stripe.CheckoutSession, tier domain.Tier) error {
	const op = "service.webhook_tier_purchase"

	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// First touch through the webhook: seed the row so the grant has
			// somewhere to land. paid tiers don't need the free quota.
			p = *domain.NewProfile(userID, 0)
		} else {
			return domain.Internal(err, op, "failed to load profile")
		}
	}

	if session.Customer != nil {
		p.BillingCustomerID = session.Customer.ID
	}
	if session.Subscription != nil {
		p.BillingSubscriptionID = session.Subscription.ID
	}
	p = entitlement.ApplyTierGrant(p, tier)
	p.CancelAtPeriodEnd = false

	fresh, err := s.store.ApplyTierEvent(ctx, session.ID, p)
	if err != nil {
		return domain.Internal(err, op, "failed to apply tier purchase")
	}
	if !fresh {
		s.logger.Info("duplicate checkout event skipped",
			"session_id", session.ID, "user_id", userID)
		return nil
	}

	s.logger.Info("tier purchase applied",
		"user_id", userID, "tier", tier,
		"subscription_id", p.BillingSubscriptionID, "session_id", session.ID)
	return nil
}

// handleSubscriptionUpdated mirrors the subscription's current state onto
// the profile: grant on an active known price, flag sync on an unknown one,
// downgrade when the subscription is terminally over.
func (s *webhookService) handleSubscriptionUpdated(ctx context.Context, event stripe.Event) error {
	const op = "service.webhook_subscription_updated"

	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return domain.Invalid(op, "malformed subscription payload")
	}

	p, ok, err := s.findProfile(ctx, &sub)
	if err != nil {
		return domain.Internal(err, op, "failed to load profile")
	}
	if !ok {
		// The checkout.session.completed event that links the subscription to
		// a profile may not have arrived yet. The next event or a read-path
		// reconcile will catch up.
		s.logger.Warn("subscription event for unknown profile",
			"subscription_id", sub.ID)
		return nil
	}

	view := billing.ViewFromSubscription(&sub)

	if !view.Active() {
		// canceled and incomplete_expired are terminal statuses the billing
		// platform never revives, so they downgrade immediately, the same as
		// the read-path reconciler and the deleted event.
		if view.Status == string(stripe.SubscriptionStatusCanceled) ||
			view.Status == string(stripe.SubscriptionStatusIncompleteExpired) {
			return s.downgrade(ctx, p, view.ID, view.Status)
		}
		// Lapsed but recoverable: mirror the cancellation flag only.
		p.CancelAtPeriodEnd = view.CancelAtPeriodEnd
		if err := s.store.UpdateProfileBilling(ctx, p); err != nil {
			return domain.Internal(err, op, "failed to sync profile")
		}
		return nil
	}

	tier, known := s.resolver.TierForPrice(view.PriceID, view.UnitAmount, view.Interval)
	if !known {
		s.logger.Warn("tier drift: unknown price id in webhook",
			"user_id", p.UserID, "price_id", view.PriceID,
			"unit_amount", view.UnitAmount, "interval", view.Interval)
		p.CancelAtPeriodEnd = view.CancelAtPeriodEnd
		if err := s.store.UpdateProfileBilling(ctx, p); err != nil {
			return domain.Internal(err, op, "failed to sync profile")
		}
		return nil
	}

	updated := entitlement.ApplyTierGrant(p, tier)
	updated.BillingSubscriptionID = view.ID
	updated.CancelAtPeriodEnd = view.CancelAtPeriodEnd

	if err := s.store.UpdateProfileBilling(ctx, updated); err != nil {
		return domain.Internal(err, op, "failed to apply subscription update")
	}

	s.logger.Info("subscription update applied",
		"user_id", p.UserID, "tier", tier,
		"cancel_at_period_end", view.CancelAtPeriodEnd)
	return nil
}

// handleSubscriptionDeleted downgrades the profile to free.
func (s *webhookService) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	const op = "service.webhook_subscription_deleted"

	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return domain.Invalid(op, "malformed subscription payload")
	}

	p, ok, err := s.findProfile(ctx, &sub)
	if err != nil {
		return domain.Internal(err, op, "failed to load profile")
	}
	if !ok {
		s.logger.Warn("subscription deletion for unknown profile",
			"subscription_id", sub.ID)
		return nil
	}

	return s.downgrade(ctx, p, sub.ID, string(sub.Status))
}

// =============================================================================
// Internal Helpers
// =============================================================================

// findProfile locates the profile a subscription event refers to by the
// customer reference, falling back to the subscription reference for events
// that carry no customer.
func (s *webhookService) findProfile(ctx context.Context, sub *stripe.Subscription) (domain.Profile, bool, error) {
	if sub.Customer != nil && sub.Customer.ID != "" {
		p, err := s.store.GetProfileByCustomerID(ctx, sub.Customer.ID)
		if err == nil {
			return p, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.Profile{}, false, err
		}
	}

	p, err := s.store.GetProfileBySubscriptionID(ctx, sub.ID)
	if err == nil {
		return p, true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Profile{}, false, nil
	}
	return domain.Profile{}, false, err
}

func (s *webhookService) downgrade(ctx context.Context, p domain.Profile, subscriptionID, status string) error {
	const op = "service.webhook_downgrade"

	downgraded := entitlement.Downgrade(p)
	if err := s.store.UpdateProfileBilling(ctx, downgraded); err != nil {
		return domain.Internal(err, op, "failed to downgrade profile")
	}

	s.logger.Info("profile downgraded by webhook",
		"user_id", p.UserID, "subscription_id", subscriptionID, "status", status)
	return nil
}
