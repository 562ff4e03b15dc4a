// Package handler contains HTTP handlers for the Pixelsmith API.
//
// This file implements subscription and billing endpoints backed by Stripe.
//
// Routes handled:
//   - GET  /api/subscription     -> CheckSubscription
//   - POST /api/billing/checkout -> CreateCheckout
//   - POST /api/billing/portal   -> OpenPortal
//
// All routes require bearer authentication.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pixelsmith-app/pixelsmith/internal/billing"
	"github.com/pixelsmith-app/pixelsmith/internal/domain"
	"github.com/pixelsmith-app/pixelsmith/internal/identity"
	"github.com/pixelsmith-app/pixelsmith/internal/repository"
	"github.com/pixelsmith-app/pixelsmith/internal/service"
)

// BillingHandler handles billing and subscription HTTP requests.
type BillingHandler struct {
	billing     billing.Service
	entitlement service.EntitlementService
	subscribers service.SubscriberStore
	baseURL     string
	logger      *slog.Logger
}

// NewBillingHandler creates a new BillingHandler.
// billingService may be nil when Stripe is not configured (development mode).
func NewBillingHandler(billingService billing.Service, entitlement service.EntitlementService, subscribers service.SubscriberStore, baseURL string, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		billing:     billingService,
		entitlement: entitlement,
		subscribers: subscribers,
		baseURL:     baseURL,
		logger:      logger,
	}
}

// RegisterRoutes registers billing routes on the provided mux.
func (h *BillingHandler) RegisterRoutes(mux *http.ServeMux, requireIdentity func(http.Handler) http.Handler) {
	mux.Handle("GET /api/subscription", requireIdentity(http.HandlerFunc(h.CheckSubscription)))
	mux.Handle("POST /api/billing/checkout", requireIdentity(http.HandlerFunc(h.CreateCheckout)))
	mux.Handle("POST /api/billing/portal", requireIdentity(http.HandlerFunc(h.OpenPortal)))
}

// CheckSubscription refreshes the caller's subscription state from Stripe
// and returns the stored result.
func (h *BillingHandler) CheckSubscription(w http.ResponseWriter, r *http.Request) {
	const op = "handler.check_subscription"

	id := identity.FromContext(r.Context())
	if id == nil {
		ErrorResponse(w, r, h.logger, domain.Unauthorized(op, "authentication required"))
		return
	}

	if h.billing == nil {
		h.logger.Warn("subscription check requested but billing is not configured")
		WriteJSON(w, http.StatusOK, map[string]any{"subscribed": false})
		return
	}

	info, err := h.entitlement.Refresh(r.Context(), id.UserID, id.Email)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if !info.Subscribed {
		WriteJSON(w, http.StatusOK, map[string]any{"subscribed": false})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"subscribed":        true,
		"subscription_tier": info.SubscriptionTier,
		"subscription_end":  info.SubscriptionEnd,
	})
}

type checkoutRequest struct {
	PriceID string `json:"price_id"`
}

// CreateCheckout creates a Stripe Checkout session and returns its URL.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	const op = "handler.create_checkout"

	id := identity.FromContext(r.Context())
	if id == nil {
		ErrorResponse(w, r, h.logger, domain.Unauthorized(op, "authentication required"))
		return
	}

	if h.billing == nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "billing is not configured"))
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PriceID == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "price_id is required"))
		return
	}

	customerID := h.customerID(r, id.Email)

	successURL := fmt.Sprintf("%s/?checkout=success", h.baseURL)
	cancelURL := fmt.Sprintf("%s/?checkout=canceled", h.baseURL)

	checkoutURL, err := h.billing.CreateCheckoutSession(customerID, id.Email, req.PriceID, successURL, cancelURL)
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, op, "failed to create checkout session"))
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"url": checkoutURL})
}

// OpenPortal creates a Stripe Customer Portal session and returns its URL.
func (h *BillingHandler) OpenPortal(w http.ResponseWriter, r *http.Request) {
	const op = "handler.open_portal"

	id := identity.FromContext(r.Context())
	if id == nil {
		ErrorResponse(w, r, h.logger, domain.Unauthorized(op, "authentication required"))
		return
	}

	if h.billing == nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "billing is not configured"))
		return
	}

	customerID := h.customerID(r, id.Email)
	if customerID == "" {
		// Fall back to a live lookup for users whose subscriber row has
		// not been refreshed since checkout.
		var err error
		customerID, err = h.billing.FindCustomerByEmail(id.Email)
		if err != nil {
			ErrorResponse(w, r, h.logger, domain.Internal(err, op, "failed to look up billing customer"))
			return
		}
	}
	if customerID == "" {
		ErrorResponse(w, r, h.logger, domain.NotFound(op, "billing customer", id.Email))
		return
	}

	returnURL := fmt.Sprintf("%s/", h.baseURL)
	portalURL, err := h.billing.CreatePortalSession(customerID, returnURL)
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, op, "failed to create portal session"))
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"url": portalURL})
}

// customerID returns the stored Stripe customer reference for the email,
// or "" when the user has never been through checkout.
func (h *BillingHandler) customerID(r *http.Request, email string) string {
	sub, err := h.subscribers.GetSubscriberByEmail(r.Context(), email)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			h.logger.Warn("failed to load subscriber for customer lookup", "error", err, "email", email)
		}
		return ""
	}
	return sub.StripeCustomerID
}
