// Package domain contains core business types and interfaces.
//
// This file defines the Subscriber domain type and the subscription tier
// configuration used to derive monthly usage limits.
package domain

import (
	"time"
)

// SubscriptionTier represents the pricing tier of a subscription.
type SubscriptionTier string

const (
	SubscriptionTierFree    SubscriptionTier = "Free"
	SubscriptionTierPro     SubscriptionTier = "Pro"
	SubscriptionTierProPlus SubscriptionTier = "Pro Plus"
)

// TierLimits maps subscription tiers to their monthly usage limit
// (generations + edits combined).
var TierLimits = map[SubscriptionTier]int{
	SubscriptionTierFree:    5,
	SubscriptionTierPro:     25,
	SubscriptionTierProPlus: 500,
}

// LimitForTier returns the monthly usage limit for a tier.
// Unknown tiers fall back to the Free limit rather than granting
// unlimited or zero quota.
func LimitForTier(tier SubscriptionTier) int {
	if limit, ok := TierLimits[tier]; ok {
		return limit
	}
	return TierLimits[SubscriptionTierFree]
}

// Subscriber represents a user's billing relationship.
//
// A row is created on the first entitlement check or first billing event
// for an email. Rows are only mutated through subscription refresh and
// webhook reconciliation, and are never deleted.
type Subscriber struct {
	Email            string
	UserID           string // External identity provider subject; may be empty for webhook-created rows
	StripeCustomerID string // Empty until the user has been through checkout
	Subscribed       bool
	SubscriptionTier SubscriptionTier // Zero value when not subscribed
	SubscriptionEnd  *time.Time
	UpdatedAt        time.Time
}

// Limit returns the usage limit implied by the subscriber's current tier.
// Unsubscribed users get the Free limit.
func (s *Subscriber) Limit() int {
	if s == nil || !s.Subscribed {
		return TierLimits[SubscriptionTierFree]
	}
	return LimitForTier(s.SubscriptionTier)
}

// Tier returns the effective tier, mapping unsubscribed or missing rows to Free.
func (s *Subscriber) Tier() SubscriptionTier {
	if s == nil || !s.Subscribed || s.SubscriptionTier == "" {
		return SubscriptionTierFree
	}
	return s.SubscriptionTier
}

// Entitlement is the resolved (tier, limit) pair for a user at a point in time.
type Entitlement struct {
	Tier  SubscriptionTier
	Limit int
}

// SubscriptionInfo is the result of refreshing subscription state from the
// billing provider, returned by the entitlement refresh endpoint.
type SubscriptionInfo struct {
	Subscribed       bool
	SubscriptionTier SubscriptionTier
	SubscriptionEnd  *time.Time
}
