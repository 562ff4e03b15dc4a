// Package billing provides Stripe billing integration for subscription management.
package billing

import (
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"
	billingportalsession "github.com/stripe/stripe-go/v79/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/subscription"
	"github.com/stripe/stripe-go/v79/webhook"
)

// Subscription is the slice of Stripe subscription state the entitlement
// layer cares about.
type Subscription struct {
	ID        string
	PriceID   string
	Status    string
	PeriodEnd time.Time
}

// Active reports whether the subscription grants entitlement.
func (s *Subscription) Active() bool {
	return s != nil && s.Status == string(stripe.SubscriptionStatusActive)
}

// Service defines the interface for billing operations.
type Service interface {
	// FindCustomerByEmail looks up the Stripe customer for an email.
	// Returns ("", nil) when no customer exists.
	FindCustomerByEmail(email string) (string, error)

	// CustomerEmail resolves a Stripe customer ID back to its email.
	CustomerEmail(customerID string) (string, error)

	// ActiveSubscription returns the customer's active subscription, or
	// nil when none exists.
	ActiveSubscription(customerID string) (*Subscription, error)

	// CreateCheckoutSession creates a Stripe Checkout session for subscribing.
	// Returns the checkout URL to redirect the user to.
	CreateCheckoutSession(customerID, email, priceID, successURL, cancelURL string) (string, error)

	// CreatePortalSession creates a Stripe Customer Portal session.
	// Returns the portal URL to redirect the user to.
	CreatePortalSession(customerID, returnURL string) (string, error)

	// VerifyWebhookSignature verifies the Stripe webhook signature and returns the event.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)

	// TierForPriceID returns the subscription tier name for a given Stripe
	// price ID, or "" when the price is not recognized.
	TierForPriceID(priceID string) string
}

// PriceConfig holds the Stripe price IDs for each paid plan.
type PriceConfig struct {
	ProPriceID     string
	ProPlusPriceID string
}

// stripeService is the concrete implementation of Service.
type stripeService struct {
	webhookSecret string
	prices        PriceConfig
	priceToTier   map[string]string // maps price ID -> tier name
}

// NewStripeService creates a new Stripe billing service.
//
// The secretKey is used to authenticate Stripe API calls.
// The webhookSecret is used to verify incoming webhook signatures.
// The prices configure which Stripe price IDs map to which tiers.
func NewStripeService(secretKey, webhookSecret string, prices PriceConfig) Service {
	stripe.Key = secretKey

	priceToTier := make(map[string]string)
	if prices.ProPriceID != "" {
		priceToTier[prices.ProPriceID] = "Pro"
	}
	if prices.ProPlusPriceID != "" {
		priceToTier[prices.ProPlusPriceID] = "Pro Plus"
	}

	return &stripeService{
		webhookSecret: webhookSecret,
		prices:        prices,
		priceToTier:   priceToTier,
	}
}

func (s *stripeService) FindCustomerByEmail(email string) (string, error) {
	params := &stripe.CustomerListParams{
		Email: stripe.String(email),
	}
	params.Limit = stripe.Int64(1)

	iter := customer.List(params)
	for iter.Next() {
		return iter.Customer().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("stripe list customers: %w", err)
	}
	return "", nil
}

func (s *stripeService) CustomerEmail(customerID string) (string, error) {
	c, err := customer.Get(customerID, nil)
	if err != nil {
		return "", fmt.Errorf("stripe get customer: %w", err)
	}
	return c.Email, nil
}

func (s *stripeService) ActiveSubscription(customerID string) (*Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	params.Limit = stripe.Int64(1)

	iter := subscription.List(params)
	for iter.Next() {
		sub := iter.Subscription()
		result := &Subscription{
			ID:        sub.ID,
			Status:    string(sub.Status),
			PeriodEnd: time.Unix(sub.CurrentPeriodEnd, 0),
		}
		if len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
			result.PriceID = sub.Items.Data[0].Price.ID
		}
		return result, nil
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("stripe list subscriptions: %w", err)
	}
	return nil, nil
}

func (s *stripeService) CreateCheckoutSession(customerID, email, priceID, successURL, cancelURL string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}
	// Reuse the existing customer when we have one so subscriptions stay
	// attached to a single customer per email.
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	} else {
		params.CustomerEmail = stripe.String(email)
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create checkout session: %w", err)
	}
	return sess.URL, nil
}

func (s *stripeService) CreatePortalSession(customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	sess, err := billingportalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create portal session: %w", err)
	}
	return sess.URL, nil
}

func (s *stripeService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe webhook signature verification failed: %w", err)
	}
	return event, nil
}

func (s *stripeService) TierForPriceID(priceID string) string {
	if tier, ok := s.priceToTier[priceID]; ok {
		return tier
	}
	return ""
}
