// Package service contains the business logic layer.
//
// This file implements the entitlement service: translating a user's
// subscription state into a usage limit, and reconciling that state with
// the billing provider.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pixelsmith-app/pixelsmith/internal/billing"
	"github.com/pixelsmith-app/pixelsmith/internal/domain"
	"github.com/pixelsmith-app/pixelsmith/internal/repository"
)

// SubscriberStore defines the persistence operations the entitlement
// service needs. Implemented by repository.Store.
type SubscriberStore interface {
	GetSubscriberByEmail(ctx context.Context, email string) (*domain.Subscriber, error)
	UpsertSubscriber(ctx context.Context, sub *domain.Subscriber) error
}

// =============================================================================
// Interface Definition
// =============================================================================

// EntitlementService defines operations for resolving and refreshing a
// user's subscription entitlement.
type EntitlementService interface {
	// ResolveLimit returns the current (tier, limit) pair for an email.
	// Users with no subscriber row, or with subscribed=false, resolve to
	// the Free tier.
	ResolveLimit(ctx context.Context, email string) (domain.Entitlement, error)

	// Refresh queries the billing provider for the email's subscription
	// state and upserts the subscriber row to match. Idempotent: repeated
	// calls with unchanged upstream data converge to the same stored row.
	Refresh(ctx context.Context, userID, email string) (*domain.SubscriptionInfo, error)

	// SyncSubscription reconciles the subscriber row from a webhook-borne
	// subscription object. Returns the customer's email and whether the
	// subscription is active after the event.
	SyncSubscription(ctx context.Context, customerID string, sub *billing.Subscription) (email string, active bool, err error)
}

// =============================================================================
// Implementation
// =============================================================================

type entitlementService struct {
	store   SubscriberStore
	billing billing.Service
	logger  *slog.Logger
}

// NewEntitlementService creates a new EntitlementService.
func NewEntitlementService(store SubscriberStore, billingService billing.Service, logger *slog.Logger) EntitlementService {
	return &entitlementService{
		store:   store,
		billing: billingService,
		logger:  logger,
	}
}

// ResolveLimit returns the current entitlement for an email.
func (s *entitlementService) ResolveLimit(ctx context.Context, email string) (domain.Entitlement, error) {
	const op = "entitlement.resolve_limit"

	sub, err := s.store.GetSubscriberByEmail(ctx, email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return domain.Entitlement{}, domain.Internal(err, op, "failed to load subscriber")
	}

	return domain.Entitlement{
		Tier:  sub.Tier(),
		Limit: sub.Limit(),
	}, nil
}

// Refresh pulls subscription state from the billing provider and stores it.
func (s *entitlementService) Refresh(ctx context.Context, userID, email string) (*domain.SubscriptionInfo, error) {
	const op = "entitlement.refresh"

	customerID, err := s.billing.FindCustomerByEmail(email)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to look up billing customer")
	}

	// No billing customer: record an explicit unsubscribed state rather
	// than leaving a possibly stale subscribed=true row behind.
	if customerID == "" {
		s.logger.Info("no billing customer found, storing unsubscribed state", "email", email)
		if err := s.store.UpsertSubscriber(ctx, &domain.Subscriber{
			Email:  email,
			UserID: userID,
		}); err != nil {
			return nil, domain.Internal(err, op, "failed to store subscriber")
		}
		return &domain.SubscriptionInfo{Subscribed: false}, nil
	}

	sub, err := s.billing.ActiveSubscription(customerID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list subscriptions")
	}

	record := &domain.Subscriber{
		Email:            email,
		UserID:           userID,
		StripeCustomerID: customerID,
	}
	info := &domain.SubscriptionInfo{}

	if sub.Active() {
		tier := s.tierForPrice(sub.PriceID)
		periodEnd := sub.PeriodEnd
		record.Subscribed = true
		record.SubscriptionTier = tier
		record.SubscriptionEnd = &periodEnd
		info.Subscribed = true
		info.SubscriptionTier = tier
		info.SubscriptionEnd = &periodEnd
		s.logger.Info("active subscription found",
			"email", email, "customer_id", customerID, "tier", tier, "period_end", periodEnd)
	} else {
		s.logger.Info("no active subscription", "email", email, "customer_id", customerID)
	}

	if err := s.store.UpsertSubscriber(ctx, record); err != nil {
		return nil, domain.Internal(err, op, "failed to store subscriber")
	}

	return info, nil
}

// SyncSubscription applies a webhook subscription change to the subscriber row.
func (s *entitlementService) SyncSubscription(ctx context.Context, customerID string, sub *billing.Subscription) (string, bool, error) {
	const op = "entitlement.sync_subscription"

	email, err := s.billing.CustomerEmail(customerID)
	if err != nil {
		return "", false, domain.Internal(err, op, "failed to resolve customer email")
	}
	if email == "" {
		return "", false, domain.Invalid(op, "billing customer has no email")
	}

	record := &domain.Subscriber{
		Email:            email,
		StripeCustomerID: customerID,
	}
	active := sub.Active()
	if active {
		tier := s.tierForPrice(sub.PriceID)
		periodEnd := sub.PeriodEnd
		record.Subscribed = true
		record.SubscriptionTier = tier
		record.SubscriptionEnd = &periodEnd
	}

	if err := s.store.UpsertSubscriber(ctx, record); err != nil {
		return "", false, domain.Internal(err, op, "failed to store subscriber")
	}

	s.logger.Info("subscriber reconciled from webhook",
		"email", email, "customer_id", customerID,
		"subscribed", record.Subscribed, "tier", record.SubscriptionTier)
	return email, active, nil
}

// tierForPrice maps a Stripe price ID to a tier. Prices we don't recognize
// are stored verbatim as an unknown tier, which LimitForTier later maps to
// the Free limit.
func (s *entitlementService) tierForPrice(priceID string) domain.SubscriptionTier {
	if tier := s.billing.TierForPriceID(priceID); tier != "" {
		return domain.SubscriptionTier(tier)
	}
	s.logger.Warn("unrecognized price ID, defaulting tier", "price_id", priceID)
	return domain.SubscriptionTier("Unknown")
}
