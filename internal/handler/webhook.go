// This file implements the Stripe webhook endpoint that keeps subscriber
// and usage state in sync with billing events.
//
// Routes handled:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// The endpoint is authenticated by the Stripe webhook signature, not by a
// bearer token. A request whose signature does not verify is rejected
// before any state is read or written.
package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v79"

	"github.com/pixelsmith-app/pixelsmith/internal/billing"
	"github.com/pixelsmith-app/pixelsmith/internal/domain"
	"github.com/pixelsmith-app/pixelsmith/internal/metrics"
	"github.com/pixelsmith-app/pixelsmith/internal/service"
)

// maxWebhookBodySize bounds webhook payloads. Stripe events are small;
// anything larger is not a legitimate event.
const maxWebhookBodySize = 64 * 1024

// WebhookHandler handles incoming Stripe webhook events.
type WebhookHandler struct {
	billing     billing.Service
	entitlement service.EntitlementService
	usage       service.UsageService
	logger      *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(billingService billing.Service, entitlement service.EntitlementService, usage service.UsageService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		billing:     billingService,
		entitlement: entitlement,
		usage:       usage,
		logger:      logger,
	}
}

// RegisterRoutes registers the webhook route on the provided mux.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook verifies and dispatches a Stripe event.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	const op = "handler.stripe_webhook"

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "failed to read request body"))
		return
	}

	event, err := h.billing.VerifyWebhookSignature(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "invalid webhook signature"))
		return
	}

	h.logger.Info("webhook event received", "type", event.Type, "id", event.ID)

	outcome := "processed"
	switch event.Type {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted":
		err = h.handleSubscriptionChange(r, event)
	case "invoice.payment_succeeded":
		err = h.handlePaymentSucceeded(r, event)
	case "invoice.payment_failed":
		h.handlePaymentFailed(event)
	default:
		h.logger.Info("ignoring unhandled webhook event", "type", event.Type)
		outcome = "ignored"
	}

	if err != nil {
		metrics.WebhookEvents.WithLabelValues(string(event.Type), "error").Inc()
		ErrorResponse(w, r, h.logger, err)
		return
	}

	metrics.WebhookEvents.WithLabelValues(string(event.Type), outcome).Inc()
	WriteJSON(w, http.StatusOK, map[string]any{"received": true})
}

// handleSubscriptionChange reconciles subscriber state from a subscription
// lifecycle event and, when the subscription is active after the event,
// starts a fresh usage period.
func (h *WebhookHandler) handleSubscriptionChange(r *http.Request, event stripe.Event) error {
	const op = "handler.webhook_subscription_change"

	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return domain.Invalid(op, "malformed subscription payload")
	}
	if sub.Customer == nil || sub.Customer.ID == "" {
		return domain.Invalid(op, "subscription event has no customer")
	}

	change := &billing.Subscription{
		ID:        sub.ID,
		Status:    string(sub.Status),
		PeriodEnd: periodEnd(&sub),
	}
	if len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		change.PriceID = sub.Items.Data[0].Price.ID
	}

	email, active, err := h.entitlement.SyncSubscription(r.Context(), sub.Customer.ID, change)
	if err != nil {
		return err
	}

	// An activation (or a renewal delivered as an update) grants a full
	// fresh allowance for the new billing period.
	if active {
		if _, err := h.usage.ResetPeriod(r.Context(), email); err != nil {
			return err
		}
	}
	return nil
}

// handlePaymentSucceeded resets the usage period on renewal payments.
func (h *WebhookHandler) handlePaymentSucceeded(r *http.Request, event stripe.Event) error {
	const op = "handler.webhook_payment_succeeded"

	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return domain.Invalid(op, "malformed invoice payload")
	}
	if inv.Customer == nil || inv.Customer.ID == "" {
		return domain.Invalid(op, "invoice event has no customer")
	}

	email := inv.CustomerEmail
	if email == "" {
		var err error
		email, err = h.billing.CustomerEmail(inv.Customer.ID)
		if err != nil {
			return domain.Internal(err, op, "failed to resolve customer email")
		}
	}
	if email == "" {
		return domain.Invalid(op, "invoice customer has no email")
	}

	if _, err := h.usage.ResetPeriod(r.Context(), email); err != nil {
		return err
	}
	return nil
}

// handlePaymentFailed records the failure. Entitlement changes arrive via
// the subscription lifecycle events once Stripe transitions the
// subscription out of active, so there is nothing to mutate here.
func (h *WebhookHandler) handlePaymentFailed(event stripe.Event) {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		h.logger.Warn("malformed invoice payload on payment_failed", "event_id", event.ID)
		return
	}
	customerID := ""
	if inv.Customer != nil {
		customerID = inv.Customer.ID
	}
	h.logger.Warn("invoice payment failed",
		"customer_id", customerID, "invoice_id", inv.ID, "amount_due", inv.AmountDue)
}

// periodEnd extracts the current period end from a subscription event.
func periodEnd(sub *stripe.Subscription) time.Time {
	if sub.CurrentPeriodEnd > 0 {
		return time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	return time.Time{}
}
