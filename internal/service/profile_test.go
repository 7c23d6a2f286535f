package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v79"

	"github.com/pixelift/pixelift/internal/billing"
	"github.com/pixelift/pixelift/internal/domain"
	"github.com/pixelift/pixelift/internal/entitlement"
)

// =============================================================================
// Test Fakes
// =============================================================================

func (s *fakeProfileStore) SetBillingCustomer(ctx context.Context, userID, customerID string) error {
	p := s.profiles[userID]
	p.UserID = userID
	p.BillingCustomerID = customerID
	s.profiles[userID] = p
	return nil
}

type fakeServiceBilling struct {
	customerID        string
	createCustomerErr error
	subView           billing.SubscriptionView
	subErr            error
	checkoutURL       string
	checkoutErr       error

	customersCreated int
	canceled         []string
	reactivated      []string
}

func (f *fakeServiceBilling) CreateCustomer(userID string) (string, error) {
	if f.createCustomerErr != nil {
		return "", f.createCustomerErr
	}
	f.customersCreated++
	return f.customerID, nil
}

func (f *fakeServiceBilling) CreateSubscriptionCheckout(customerID, userID string, tier domain.Tier, successURL, cancelURL string) (string, error) {
	if f.checkoutErr != nil {
		return "", f.checkoutErr
	}
	return f.checkoutURL, nil
}

func (f *fakeServiceBilling) CreatePackCheckout(customerID, userID string, pack domain.Pack, successURL, cancelURL string) (string, error) {
	if f.checkoutErr != nil {
		return "", f.checkoutErr
	}
	return f.checkoutURL, nil
}

func (f *fakeServiceBilling) GetSubscription(subscriptionID string) (billing.SubscriptionView, error) {
	return f.subView, f.subErr
}

func (f *fakeServiceBilling) CancelSubscription(subscriptionID string) error {
	f.canceled = append(f.canceled, subscriptionID)
	return nil
}

func (f *fakeServiceBilling) ReactivateSubscription(subscriptionID string) error {
	f.reactivated = append(f.reactivated, subscriptionID)
	return nil
}

func (f *fakeServiceBilling) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	return stripe.Event{}, nil
}

func (f *fakeServiceBilling) Resolver() *billing.PriceResolver {
	return webhookResolver()
}

// =============================================================================
// Get Tests
// =============================================================================

func TestProfileGet_CreatesOnFirstAccess(t *testing.T) {
	profiles := newFakeProfileStore()
	ents := entitlement.New(profiles, nil, 3, discardLogger())
	svc := NewProfileService(ents, profiles, nil, discardLogger())

	view, err := svc.Get(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.Profile.Tier != domain.TierFree {
		t.Errorf("expected free tier, got %s", view.Profile.Tier)
	}
	if view.Profile.Credits != 3 {
		t.Errorf("expected 3 credits, got %d", view.Profile.Credits)
	}
	if view.Unverified {
		t.Error("a profile without billing references is always verified")
	}
}

func TestProfileGet_UnverifiedOnBillingOutage(t *testing.T) {
	profiles := newFakeProfileStore()
	profiles.profiles["u"] = domain.Profile{
		UserID: "u", Tier: domain.TierMonthly,
		Credits: domain.UnlimitedCredits, BillingSubscriptionID: "sub_1",
	}
	b := &fakeServiceBilling{subErr: errors.New("api unreachable")}
	ents := entitlement.New(profiles, b, 3, discardLogger())
	svc := NewProfileService(ents, profiles, b, discardLogger())

	view, err := svc.Get(context.Background(), "u")
	if err != nil {
		t.Fatalf("expected outage absorbed, got %v", err)
	}
	if !view.Unverified {
		t.Error("expected unverified view")
	}
	if view.Profile.Tier != domain.TierMonthly {
		t.Errorf("expected last-known tier served, got %s", view.Profile.Tier)
	}
}

func TestProfileGet_RejectsGuests(t *testing.T) {
	profiles := newFakeProfileStore()
	ents := entitlement.New(profiles, nil, 3, discardLogger())
	svc := NewProfileService(ents, profiles, nil, discardLogger())

	_, err := svc.Get(context.Background(), "")
	if domain.ErrorCode(err) != domain.EUNAUTHORIZED {
		t.Errorf("expected EUNAUTHORIZED, got %s", domain.ErrorCode(err))
	}
}

// =============================================================================
// EnsureBillingCustomer Tests
// =============================================================================

func TestEnsureBillingCustomer_CreatesWhenMissing(t *testing.T) {
	profiles := newFakeProfileStore()
	profiles.profiles["u"] = domain.Profile{UserID: "u", Tier: domain.TierFree}
	b := &fakeServiceBilling{customerID: "cus_new"}
	ents := entitlement.New(profiles, b, 3, discardLogger())
	svc := NewProfileService(ents, profiles, b, discardLogger())

	p := profiles.profiles["u"]
	if err := svc.EnsureBillingCustomer(context.Background(), &p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if p.BillingCustomerID != "cus_new" {
		t.Errorf("expected customer reference on the profile, got %q", p.BillingCustomerID)
	}
	if profiles.profiles["u"].BillingCustomerID != "cus_new" {
		t.Error("expected customer reference persisted")
	}
	if b.customersCreated != 1 {
		t.Errorf("expected one customer created, got %d", b.customersCreated)
	}
}

func TestEnsureBillingCustomer_ReusesExisting(t *testing.T) {
	profiles := newFakeProfileStore()
	b := &fakeServiceBilling{customerID: "cus_new"}
	ents := entitlement.New(profiles, b, 3, discardLogger())
	svc := NewProfileService(ents, profiles, b, discardLogger())

	p := domain.Profile{UserID: "u", BillingCustomerID: "cus_old"}
	if err := svc.EnsureBillingCustomer(context.Background(), &p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.BillingCustomerID != "cus_old" {
		t.Errorf("expected existing customer kept, got %q", p.BillingCustomerID)
	}
	if b.customersCreated != 0 {
		t.Errorf("expected no customer created, got %d", b.customersCreated)
	}
}

func TestEnsureBillingCustomer_UpstreamOnFailure(t *testing.T) {
	profiles := newFakeProfileStore()
	b := &fakeServiceBilling{createCustomerErr: errors.New("api down")}
	ents := entitlement.New(profiles, b, 3, discardLogger())
	svc := NewProfileService(ents, profiles, b, discardLogger())

	p := domain.Profile{UserID: "u"}
	if err := svc.EnsureBillingCustomer(context.Background(), &p); domain.ErrorCode(err) != domain.EUPSTREAM {
		t.Errorf("expected EUPSTREAM, got %v", err)
	}
}

func TestEnsureBillingCustomer_NilBillingIsUpstream(t *testing.T) {
	profiles := newFakeProfileStore()
	ents := entitlement.New(profiles, nil, 3, discardLogger())
	svc := NewProfileService(ents, profiles, nil, discardLogger())

	p := domain.Profile{UserID: "u"}
	if err := svc.EnsureBillingCustomer(context.Background(), &p); domain.ErrorCode(err) != domain.EUPSTREAM {
		t.Errorf("expected EUPSTREAM, got %v", err)
	}
}
