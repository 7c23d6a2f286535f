package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stripe/stripe-go/v79"

	"github.com/pixelift/pixelift/internal/billing"
	"github.com/pixelift/pixelift/internal/domain"
)

// =============================================================================
// Test Fakes
// =============================================================================

type fakeWebhookStore struct {
	profiles map[string]domain.Profile
	applied  map[string]bool

	updated  []domain.Profile
	grantErr error // fails the next grant, consumed once
}

func newFakeWebhookStore() *fakeWebhookStore {
	return &fakeWebhookStore{
		profiles: make(map[string]domain.Profile),
		applied:  make(map[string]bool),
	}
}

func (s *fakeWebhookStore) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	p, ok := s.profiles[userID]
	if !ok {
		return domain.Profile{}, sql.ErrNoRows
	}
	return p, nil
}

func (s *fakeWebhookStore) GetProfileByCustomerID(ctx context.Context, customerID string) (domain.Profile, error) {
	for _, p := range s.profiles {
		if p.BillingCustomerID == customerID {
			return p, nil
		}
	}
	return domain.Profile{}, sql.ErrNoRows
}

func (s *fakeWebhookStore) GetProfileBySubscriptionID(ctx context.Context, subscriptionID string) (domain.Profile, error) {
	for _, p := range s.profiles {
		if p.BillingSubscriptionID == subscriptionID {
			return p, nil
		}
	}
	return domain.Profile{}, sql.ErrNoRows
}

func (s *fakeWebhookStore) UpdateProfileBilling(ctx context.Context, p domain.Profile) error {
	s.profiles[p.UserID] = p
	s.updated = append(s.updated, p)
	return nil
}

// ApplyPackEvent mirrors the repository's transactional semantics: a failed
// grant leaves the session id unrecorded.
func (s *fakeWebhookStore) ApplyPackEvent(ctx context.Context, sessionID, userID string, credits int) (bool, error) {
	if s.applied[sessionID] {
		return false, nil
	}
	if err := s.takeGrantErr(); err != nil {
		return false, err
	}
	p := s.profiles[userID]
	p.UserID = userID
	p.AICredits += credits
	s.profiles[userID] = p
	s.applied[sessionID] = true
	return true, nil
}

func (s *fakeWebhookStore) ApplyTierEvent(ctx context.Context, sessionID string, p domain.Profile) (bool, error) {
	if s.applied[sessionID] {
		return false, nil
	}
	if err := s.takeGrantErr(); err != nil {
		return false, err
	}
	s.profiles[p.UserID] = p
	s.updated = append(s.updated, p)
	s.applied[sessionID] = true
	return true, nil
}

func (s *fakeWebhookStore) takeGrantErr() error {
	err := s.grantErr
	s.grantErr = nil
	return err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func webhookResolver() *billing.PriceResolver {
	return billing.NewPriceResolver(billing.PriceConfig{
		MonthlyPriceID:        "price_monthly",
		PremierMonthlyPriceID: "price_premier_monthly",
	})
}

func stripeEvent(t *testing.T, eventType string, payload string) stripe.Event {
	t.Helper()
	return stripe.Event{
		ID:   "evt_test",
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: json.RawMessage(payload)},
	}
}

// =============================================================================
// Checkout Completed Tests
// =============================================================================

func TestHandleEvent_CheckoutTierPurchaseSeedsProfile(t *testing.T) {
	store := newFakeWebhookStore()
	svc := NewWebhookService(store, webhookResolver(), discardLogger())

	event := stripeEvent(t, "checkout.session.completed", `{
		"id": "cs_1",
		"customer": "cus_1",
		"subscription": "sub_1",
		"metadata": {"userId": "u", "tier": "premier_monthly"}
	}`)
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := store.profiles["u"]
	if p.Tier != domain.TierPremierMonthly {
		t.Errorf("expected premier_monthly, got %s", p.Tier)
	}
	if p.Credits != domain.UnlimitedCredits {
		t.Errorf("expected unlimited credits, got %d", p.Credits)
	}
	if p.AICredits != 80 {
		t.Errorf("expected 80 AI credits, got %d", p.AICredits)
	}
	if p.BillingCustomerID != "cus_1" || p.BillingSubscriptionID != "sub_1" {
		t.Errorf("expected billing references recorded, got customer=%q subscription=%q",
			p.BillingCustomerID, p.BillingSubscriptionID)
	}
}

func TestHandleEvent_CheckoutPackGrantsCredits(t *testing.T) {
	store := newFakeWebhookStore()
	store.profiles["u"] = domain.Profile{UserID: "u", Tier: domain.TierMonthly, AICredits: 2}
	svc := NewWebhookService(store, webhookResolver(), discardLogger())

	event := stripeEvent(t, "checkout.session.completed", `{
		"id": "cs_1",
		"metadata": {"userId": "u", "pack": "large"}
	}`)
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := store.profiles["u"].AICredits; got != 52 {
		t.Errorf("expected 52 AI credits after large pack, got %d", got)
	}
	if store.profiles["u"].Tier != domain.TierMonthly {
		t.Error("pack purchase must not change the tier")
	}
}

func TestHandleEvent_DuplicateCheckoutAppliedOnce(t *testing.T) {
	store := newFakeWebhookStore()
	store.profiles["u"] = domain.Profile{UserID: "u", Tier: domain.TierFree}
	svc := NewWebhookService(store, webhookResolver(), discardLogger())

	event := stripeEvent(t, "checkout.session.completed", `{
		"id": "cs_1",
		"metadata": {"userId": "u", "pack": "small"}
	}`)

	for i := 0; i < 3; i++ {
		if err := svc.HandleEvent(context.Background(), event); err != nil {
			t.Fatalf("unexpected error on delivery %d: %v", i+1, err)
		}
	}

	if got := store.profiles["u"].AICredits; got != 5 {
		t.Errorf("expected small pack applied once (5 credits), got %d", got)
	}
}

func TestHandleEvent_CheckoutGrantFailureRetriable(t *testing.T) {
	store := newFakeWebhookStore()
	store.profiles["u"] = domain.Profile{UserID: "u", Tier: domain.TierFree}
	store.grantErr = errors.New("connection reset")
	svc := NewWebhookService(store, webhookResolver(), discardLogger())

	event := stripeEvent(t, "checkout.session.completed", `{
		"id": "cs_1",
		"metadata": {"userId": "u", "pack": "large"}
	}`)

	if err := svc.HandleEvent(context.Background(), event); err == nil {
		t.Fatal("expected first delivery to fail")
	}
	if got := store.profiles["u"].AICredits; got != 0 {
		t.Fatalf("expected no credits after failed grant, got %d", got)
	}

	// The failed grant must not occupy the idempotency ledger; the billing
	// platform redelivers after an error response.
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unexpected error on redelivery: %v", err)
	}
	if got := store.profiles["u"].AICredits; got != 50 {
		t.Errorf("expected pack applied on redelivery, got %d credits", got)
	}
}

func TestHandleEvent_CheckoutWithoutUserMetadataIgnored(t *testing.T) {
	store := newFakeWebhookStore()
	svc := NewWebhookService(store, webhookResolver(), discardLogger())

	event := stripeEvent(t, "checkout.session.completed", `{"id": "cs_1", "metadata": {}}`)
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("expected foreign session acknowledged, got %v", err)
	}
	if len(store.profiles) != 0 {
		t.Error("expected no profile writes")
	}
}

// =============================================================================
// Subscription Updated Tests
// =============================================================================

const activeSubscriptionPayload = `{
	"id": "sub_1",
	"status": "active",
	"customer": "cus_1",
	"cancel_at_period_end": true,
	"items": {"data": [{"price": {
		"id": "price_monthly",
		"unit_amount": 1499,
		"recurring": {"interval": "month"}
	}}]}
}`

func TestHandleEvent_SubscriptionUpdatedAppliesGrant(t *testing.T) {
	store := newFakeWebhookStore()
	store.profiles["u"] = domain.Profile{UserID: "u", Tier: domain.TierFree, BillingSubscriptionID: "sub_1"}
	svc := NewWebhookService(store, webhookResolver(), discardLogger())

	event := stripeEvent(t, "customer.subscription.updated", activeSubscriptionPayload)
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := store.profiles["u"]
	if p.Tier != domain.TierMonthly {
		t.Errorf("expected monthly, got %s", p.Tier)
	}
	if !p.CancelAtPeriodEnd {
		t.Error("expected cancellation flag mirrored")
	}
}

func TestHandleEvent_SubscriptionUpdatedFindsProfileByCustomer(t *testing.T) {
	store := newFakeWebhookStore()
	// Profile linked by customer id only; the checkout event that records the
	// subscription id has not arrived yet.
	store.profiles["u"] = domain.Profile{UserID: "u", Tier: domain.TierFree, BillingCustomerID: "cus_1"}
	svc := NewWebhookService(store, webhookResolver(), discardLogger())

	event := stripeEvent(t, "customer.subscription.updated", activeSubscriptionPayload)
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := store.profiles["u"]
	if p.Tier != domain.TierMonthly {
		t.Errorf("expected monthly, got %s", p.Tier)
	}
	if p.BillingSubscriptionID != "sub_1" {
		t.Errorf("expected subscription reference recorded, got %q", p.BillingSubscriptionID)
	}
}

func TestHandleEvent_SubscriptionUpdatedMatchesCustomerFirst(t *testing.T) {
	store := newFakeWebhookStore()
	// The subscription reference is stale after a plan switch; the customer
	// reference is the durable link.
	store.profiles["u"] = domain.Profile{
		UserID: "u", Tier: domain.TierFree,
		BillingCustomerID: "cus_1", BillingSubscriptionID: "sub_old",
	}
	svc := NewWebhookService(store, webhookResolver(), discardLogger())

	event := stripeEvent(t, "customer.subscription.updated", activeSubscriptionPayload)
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := store.profiles["u"]
	if p.Tier != domain.TierMonthly {
		t.Errorf("expected monthly, got %s", p.Tier)
	}
	if p.BillingSubscriptionID != "sub_1" {
		t.Errorf("expected subscription reference refreshed, got %q", p.BillingSubscriptionID)
	}
}

func TestHandleEvent_SubscriptionUpdatedUnknownProfileAcknowledged(t *testing.T) {
	store := newFakeWebhookStore()
	svc := NewWebhookService(store, webhookResolver(), discardLogger())

	event := stripeEvent(t, "customer.subscription.updated", activeSubscriptionPayload)
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("expected unknown profile acknowledged, got %v", err)
	}
	if len(store.updated) != 0 {
		t.Error("expected no profile writes")
	}
}

func TestHandleEvent_SubscriptionUpdatedUnknownPriceKeepsTier(t *testing.T) {
	store := newFakeWebhookStore()
	store.profiles["u"] = domain.Profile{
		UserID: "u", Tier: domain.TierMonthly,
		Credits: domain.UnlimitedCredits, BillingSubscriptionID: "sub_1",
	}
	svc := NewWebhookService(store, webhookResolver(), discardLogger())

	event := stripeEvent(t, "customer.subscription.updated", `{
		"id": "sub_1",
		"status": "active",
		"cancel_at_period_end": true,
		"items": {"data": [{"price": {
			"id": "price_mystery",
			"unit_amount": 777,
			"recurring": {"interval": "month"}
		}}]}
	}`)
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := store.profiles["u"]
	if p.Tier != domain.TierMonthly {
		t.Errorf("expected local tier kept, got %s", p.Tier)
	}
	if !p.CancelAtPeriodEnd {
		t.Error("expected cancellation flag still mirrored")
	}
}

func TestHandleEvent_SubscriptionCanceledDowngrades(t *testing.T) {
	store := newFakeWebhookStore()
	store.profiles["u"] = domain.Profile{
		UserID: "u", Tier: domain.TierPremierYearly,
		Credits: domain.UnlimitedCredits, AICredits: 400,
		BillingCustomerID: "cus_1", BillingSubscriptionID: "sub_1",
	}
	svc := NewWebhookService(store, webhookResolver(), discardLogger())

	event := stripeEvent(t, "customer.subscription.updated", `{
		"id": "sub_1",
		"status": "canceled"
	}`)
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := store.profiles["u"]
	if p.Tier != domain.TierFree || p.Credits != 0 || p.AICredits != 0 {
		t.Errorf("expected full downgrade, got tier=%s credits=%d ai=%d", p.Tier, p.Credits, p.AICredits)
	}
	if p.BillingCustomerID != "cus_1" {
		t.Error("expected customer reference kept")
	}
}

// =============================================================================
// Subscription Deleted Tests
// =============================================================================

func TestHandleEvent_SubscriptionDeletedDowngrades(t *testing.T) {
	store := newFakeWebhookStore()
	store.profiles["u"] = domain.Profile{
		UserID: "u", Tier: domain.TierWeekly,
		Credits: domain.UnlimitedCredits, BillingSubscriptionID: "sub_1",
	}
	svc := NewWebhookService(store, webhookResolver(), discardLogger())

	event := stripeEvent(t, "customer.subscription.deleted", `{"id": "sub_1", "status": "canceled"}`)
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := store.profiles["u"]
	if p.Tier != domain.TierFree {
		t.Errorf("expected free tier, got %s", p.Tier)
	}
	if p.BillingSubscriptionID != "" {
		t.Error("expected subscription reference cleared")
	}
}

// =============================================================================
// Unknown Event Tests
// =============================================================================

func TestHandleEvent_UnknownTypeAcknowledged(t *testing.T) {
	store := newFakeWebhookStore()
	svc := NewWebhookService(store, webhookResolver(), discardLogger())

	event := stripeEvent(t, "invoice.paid", `{"id": "in_1"}`)
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("expected unknown type acknowledged, got %v", err)
	}
	if len(store.updated) != 0 {
		t.Error("expected no writes for unknown event type")
	}
}

func TestHandleEvent_MalformedPayloadFails(t *testing.T) {
	store := newFakeWebhookStore()
	svc := NewWebhookService(store, webhookResolver(), discardLogger())

	event := stripeEvent(t, "checkout.session.completed", `{not json`)
	if err := svc.HandleEvent(context.Background(), event); domain.ErrorCode(err) != domain.EINVALID {
		t.Errorf("expected EINVALID, got %v", err)
	}
}
