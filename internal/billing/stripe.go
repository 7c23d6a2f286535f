// Package billing provides Stripe billing integration for subscriptions and
// AI credit pack purchases.
package billing

import (
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/subscription"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/pixelift/pixelift/internal/domain"
)

// Checkout metadata keys. The values round-trip through Stripe and come back
// on the checkout.session.completed event; the webhook handler treats them
// as authoritative for routing the grant.
const (
	MetadataUserID = "userId"
	MetadataTier   = "tier"
	MetadataPack   = "pack"
)

// SubscriptionView is the typed projection of a Stripe subscription limited
// to exactly the fields this system consumes. Nothing reads the raw SDK
// object outside this package.
type SubscriptionView struct {
	ID                string
	Status            string
	PriceID           string
	UnitAmount        int64
	Interval          string
	CurrentPeriodEnd  time.Time
	CancelAtPeriodEnd bool
}

// Active reports whether the subscription is in an entitling state.
func (v SubscriptionView) Active() bool {
	return v.Status == string(stripe.SubscriptionStatusActive) ||
		v.Status == string(stripe.SubscriptionStatusTrialing)
}

// Service defines the interface for billing operations.
type Service interface {
	// CreateCustomer creates a new Stripe customer for the given user.
	CreateCustomer(userID string) (string, error)

	// CreateSubscriptionCheckout creates a Checkout session for a tier
	// subscription. Returns the checkout URL to redirect the user to.
	CreateSubscriptionCheckout(customerID, userID string, tier domain.Tier, successURL, cancelURL string) (string, error)

	// CreatePackCheckout creates a one-time-payment Checkout session for an
	// AI credit pack.
	CreatePackCheckout(customerID, userID string, pack domain.Pack, successURL, cancelURL string) (string, error)

	// GetSubscription retrieves a subscription as a typed view.
	GetSubscription(subscriptionID string) (SubscriptionView, error)

	// CancelSubscription sets a subscription to cancel at period end.
	CancelSubscription(subscriptionID string) error

	// ReactivateSubscription removes the cancel_at_period_end flag.
	ReactivateSubscription(subscriptionID string) error

	// VerifyWebhookSignature verifies the Stripe webhook signature and returns the event.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)

	// Resolver returns the price-to-tier resolver.
	Resolver() *PriceResolver
}

// stripeService is the concrete implementation of Service.
type stripeService struct {
	webhookSecret string
	resolver      *PriceResolver
}

// NewStripeService creates a new Stripe billing service.
//
// The secretKey authenticates Stripe API calls; the webhookSecret verifies
// incoming webhook signatures.
func NewStripeService(secretKey, webhookSecret string, prices PriceConfig) Service {
	stripe.Key = secretKey

	return &stripeService{
		webhookSecret: webhookSecret,
		resolver:      NewPriceResolver(prices),
	}
}

func (s *stripeService) CreateCustomer(userID string) (string, error) {
	params := &stripe.CustomerParams{}
	params.AddMetadata(MetadataUserID, userID)
	c, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create customer: %w", err)
	}
	return c.ID, nil
}

func (s *stripeService) CreateSubscriptionCheckout(customerID, userID string, tier domain.Tier, successURL, cancelURL string) (string, error) {
	priceID, ok := s.resolver.PriceForTier(tier)
	if !ok {
		return "", fmt.Errorf("no price configured for tier %q", tier)
	}

	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}
	params.AddMetadata(MetadataUserID, userID)
	params.AddMetadata(MetadataTier, string(tier))

	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create subscription checkout: %w", err)
	}
	return sess.URL, nil
}

func (s *stripeService) CreatePackCheckout(customerID, userID string, pack domain.Pack, successURL, cancelURL string) (string, error) {
	priceID, ok := s.resolver.PriceForPack(pack)
	if !ok {
		return "", fmt.Errorf("no price configured for pack %q", pack)
	}

	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}
	params.AddMetadata(MetadataUserID, userID)
	params.AddMetadata(MetadataPack, string(pack))

	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create pack checkout: %w", err)
	}
	return sess.URL, nil
}

func (s *stripeService) GetSubscription(subscriptionID string) (SubscriptionView, error) {
	sub, err := subscription.Get(subscriptionID, nil)
	if err != nil {
		return SubscriptionView{}, fmt.Errorf("stripe get subscription: %w", err)
	}
	return ViewFromSubscription(sub), nil
}

func (s *stripeService) CancelSubscription(subscriptionID string) error {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	_, err := subscription.Update(subscriptionID, params)
	if err != nil {
		return fmt.Errorf("stripe cancel subscription: %w", err)
	}
	return nil
}

func (s *stripeService) ReactivateSubscription(subscriptionID string) error {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(false),
	}
	_, err := subscription.Update(subscriptionID, params)
	if err != nil {
		return fmt.Errorf("stripe reactivate subscription: %w", err)
	}
	return nil
}

func (s *stripeService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe webhook signature verification failed: %w", err)
	}
	return event, nil
}

func (s *stripeService) Resolver() *PriceResolver {
	return s.resolver
}

// ViewFromSubscription projects an SDK subscription object into the typed
// view. Missing price data yields zero values; the resolver's fallback then
// has nothing to match and reconciliation surfaces drift instead of guessing.
func ViewFromSubscription(sub *stripe.Subscription) SubscriptionView {
	view := SubscriptionView{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CurrentPeriodEnd:  time.Unix(sub.CurrentPeriodEnd, 0),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		price := sub.Items.Data[0].Price
		view.PriceID = price.ID
		view.UnitAmount = price.UnitAmount
		if price.Recurring != nil {
			view.Interval = string(price.Recurring.Interval)
		}
	}
	return view
}
