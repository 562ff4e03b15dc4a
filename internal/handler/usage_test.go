package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"

	"github.com/pixelsmith-app/pixelsmith/internal/billing"
	"github.com/pixelsmith-app/pixelsmith/internal/domain"
	"github.com/pixelsmith-app/pixelsmith/internal/identity"
)

// =============================================================================
// Mock Service Implementations
// =============================================================================

// mockUsageService implements the service.UsageService interface for testing.
type mockUsageService struct {
	GetOrCreateCurrentPeriodFunc func(ctx context.Context, userID, email string) (*domain.UsageRecord, error)
	TryConsumeFunc               func(ctx context.Context, userID, email string, action domain.Action) (*domain.ConsumeResult, error)
	ResetPeriodFunc              func(ctx context.Context, email string) (*domain.UsageRecord, error)
}

func (m *mockUsageService) GetOrCreateCurrentPeriod(ctx context.Context, userID, email string) (*domain.UsageRecord, error) {
	if m.GetOrCreateCurrentPeriodFunc != nil {
		return m.GetOrCreateCurrentPeriodFunc(ctx, userID, email)
	}
	return nil, errors.New("GetOrCreateCurrentPeriodFunc not implemented")
}

func (m *mockUsageService) TryConsume(ctx context.Context, userID, email string, action domain.Action) (*domain.ConsumeResult, error) {
	if m.TryConsumeFunc != nil {
		return m.TryConsumeFunc(ctx, userID, email, action)
	}
	return nil, errors.New("TryConsumeFunc not implemented")
}

func (m *mockUsageService) ResetPeriod(ctx context.Context, email string) (*domain.UsageRecord, error) {
	if m.ResetPeriodFunc != nil {
		return m.ResetPeriodFunc(ctx, email)
	}
	return nil, errors.New("ResetPeriodFunc not implemented")
}

// mockEntitlementService implements the service.EntitlementService interface for testing.
type mockEntitlementService struct {
	ResolveLimitFunc     func(ctx context.Context, email string) (domain.Entitlement, error)
	RefreshFunc          func(ctx context.Context, userID, email string) (*domain.SubscriptionInfo, error)
	SyncSubscriptionFunc func(ctx context.Context, customerID string, sub *billing.Subscription) (string, bool, error)
}

func (m *mockEntitlementService) ResolveLimit(ctx context.Context, email string) (domain.Entitlement, error) {
	if m.ResolveLimitFunc != nil {
		return m.ResolveLimitFunc(ctx, email)
	}
	return domain.Entitlement{}, errors.New("ResolveLimitFunc not implemented")
}

func (m *mockEntitlementService) Refresh(ctx context.Context, userID, email string) (*domain.SubscriptionInfo, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, userID, email)
	}
	return nil, errors.New("RefreshFunc not implemented")
}

func (m *mockEntitlementService) SyncSubscription(ctx context.Context, customerID string, sub *billing.Subscription) (string, bool, error) {
	if m.SyncSubscriptionFunc != nil {
		return m.SyncSubscriptionFunc(ctx, customerID, sub)
	}
	return "", false, errors.New("SyncSubscriptionFunc not implemented")
}

// mockBillingService implements the billing.Service interface for testing.
type mockBillingService struct {
	FindCustomerByEmailFunc   func(email string) (string, error)
	CustomerEmailFunc         func(customerID string) (string, error)
	ActiveSubscriptionFunc    func(customerID string) (*billing.Subscription, error)
	CreateCheckoutSessionFunc func(customerID, email, priceID, successURL, cancelURL string) (string, error)
	CreatePortalSessionFunc   func(customerID, returnURL string) (string, error)
	VerifyWebhookFunc         func(payload []byte, signature string) (stripe.Event, error)
	TierForPriceIDFunc        func(priceID string) string
}

func (m *mockBillingService) FindCustomerByEmail(email string) (string, error) {
	if m.FindCustomerByEmailFunc != nil {
		return m.FindCustomerByEmailFunc(email)
	}
	return "", errors.New("FindCustomerByEmailFunc not implemented")
}

func (m *mockBillingService) CustomerEmail(customerID string) (string, error) {
	if m.CustomerEmailFunc != nil {
		return m.CustomerEmailFunc(customerID)
	}
	return "", errors.New("CustomerEmailFunc not implemented")
}

func (m *mockBillingService) ActiveSubscription(customerID string) (*billing.Subscription, error) {
	if m.ActiveSubscriptionFunc != nil {
		return m.ActiveSubscriptionFunc(customerID)
	}
	return nil, errors.New("ActiveSubscriptionFunc not implemented")
}

func (m *mockBillingService) CreateCheckoutSession(customerID, email, priceID, successURL, cancelURL string) (string, error) {
	if m.CreateCheckoutSessionFunc != nil {
		return m.CreateCheckoutSessionFunc(customerID, email, priceID, successURL, cancelURL)
	}
	return "", errors.New("CreateCheckoutSessionFunc not implemented")
}

func (m *mockBillingService) CreatePortalSession(customerID, returnURL string) (string, error) {
	if m.CreatePortalSessionFunc != nil {
		return m.CreatePortalSessionFunc(customerID, returnURL)
	}
	return "", errors.New("CreatePortalSessionFunc not implemented")
}

func (m *mockBillingService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	if m.VerifyWebhookFunc != nil {
		return m.VerifyWebhookFunc(payload, signature)
	}
	return stripe.Event{}, errors.New("VerifyWebhookFunc not implemented")
}

func (m *mockBillingService) TierForPriceID(priceID string) string {
	if m.TierForPriceIDFunc != nil {
		return m.TierForPriceIDFunc(priceID)
	}
	return ""
}

// =============================================================================
// Test Helpers
// =============================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// authenticatedRequest builds a request carrying a resolved identity, as the
// auth middleware would.
func authenticatedRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	ctx := identity.WithIdentity(req.Context(), &identity.Identity{
		UserID: "user_123",
		Email:  "user@example.com",
	})
	return req.WithContext(ctx)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// =============================================================================
// TrackUsage Tests
// =============================================================================

func TestTrackUsageAccepted(t *testing.T) {
	usage := &mockUsageService{
		TryConsumeFunc: func(ctx context.Context, userID, email string, action domain.Action) (*domain.ConsumeResult, error) {
			assert.Equal(t, "user_123", userID)
			assert.Equal(t, "user@example.com", email)
			assert.Equal(t, domain.ActionGenerate, action)
			return &domain.ConsumeResult{
				Accepted:  true,
				Record:    &domain.UsageRecord{TotalUsage: 3, GenerationCount: 3},
				Tier:      domain.SubscriptionTierFree,
				Limit:     5,
				Remaining: 2,
			}, nil
		},
	}

	h := NewUsageHandler(usage, &mockEntitlementService{}, testLogger())
	req := authenticatedRequest(http.MethodPost, "/api/usage/track", strings.NewReader(`{"action":"generate"}`))
	rec := httptest.NewRecorder()

	h.TrackUsage(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(5), body["limit"])
	assert.Equal(t, float64(2), body["remaining"])
}

func TestTrackUsageRejectedAtLimit(t *testing.T) {
	usage := &mockUsageService{
		TryConsumeFunc: func(ctx context.Context, userID, email string, action domain.Action) (*domain.ConsumeResult, error) {
			return &domain.ConsumeResult{
				Accepted: false,
				Record:   &domain.UsageRecord{TotalUsage: 5},
				Tier:     domain.SubscriptionTierFree,
				Limit:    5,
			}, nil
		},
	}

	h := NewUsageHandler(usage, &mockEntitlementService{}, testLogger())
	req := authenticatedRequest(http.MethodPost, "/api/usage/track", strings.NewReader(`{"action":"edit"}`))
	rec := httptest.NewRecorder()

	h.TrackUsage(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "usage limit reached for current billing period", body["error"])
	assert.Equal(t, float64(5), body["current_usage"])
	assert.Equal(t, float64(5), body["limit"])
	assert.Equal(t, "Free", body["subscription_tier"])
}

func TestTrackUsageRejectsUnknownAction(t *testing.T) {
	consumed := false
	usage := &mockUsageService{
		TryConsumeFunc: func(ctx context.Context, userID, email string, action domain.Action) (*domain.ConsumeResult, error) {
			consumed = true
			return nil, nil
		},
	}

	h := NewUsageHandler(usage, &mockEntitlementService{}, testLogger())
	req := authenticatedRequest(http.MethodPost, "/api/usage/track", strings.NewReader(`{"action":"upscale"}`))
	rec := httptest.NewRecorder()

	h.TrackUsage(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, consumed, "invalid actions must not consume quota")
}

func TestTrackUsageRejectsMalformedBody(t *testing.T) {
	h := NewUsageHandler(&mockUsageService{}, &mockEntitlementService{}, testLogger())
	req := authenticatedRequest(http.MethodPost, "/api/usage/track", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()

	h.TrackUsage(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrackUsageRequiresIdentity(t *testing.T) {
	h := NewUsageHandler(&mockUsageService{}, &mockEntitlementService{}, testLogger())
	req := httptest.NewRequest(http.MethodPost, "/api/usage/track", strings.NewReader(`{"action":"generate"}`))
	rec := httptest.NewRecorder()

	h.TrackUsage(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTrackUsageInternalErrorIsGeneric(t *testing.T) {
	usage := &mockUsageService{
		TryConsumeFunc: func(ctx context.Context, userID, email string, action domain.Action) (*domain.ConsumeResult, error) {
			return nil, domain.Internal(errors.New("pq: connection refused"), "usage.consume", "failed to record usage")
		},
	}

	h := NewUsageHandler(usage, &mockEntitlementService{}, testLogger())
	req := authenticatedRequest(http.MethodPost, "/api/usage/track", strings.NewReader(`{"action":"generate"}`))
	rec := httptest.NewRecorder()

	h.TrackUsage(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused", "internal details must not leak")
}

// =============================================================================
// GetUsage Tests
// =============================================================================

func TestGetUsageReturnsRecordAndLimit(t *testing.T) {
	usage := &mockUsageService{
		GetOrCreateCurrentPeriodFunc: func(ctx context.Context, userID, email string) (*domain.UsageRecord, error) {
			return &domain.UsageRecord{TotalUsage: 2, GenerationCount: 1, EditCount: 1}, nil
		},
	}
	entitlement := &mockEntitlementService{
		ResolveLimitFunc: func(ctx context.Context, email string) (domain.Entitlement, error) {
			return domain.Entitlement{Tier: domain.SubscriptionTierPro, Limit: 25}, nil
		},
	}

	h := NewUsageHandler(usage, entitlement, testLogger())
	req := authenticatedRequest(http.MethodGet, "/api/usage", nil)
	rec := httptest.NewRecorder()

	h.GetUsage(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(25), body["limit"])
	assert.Equal(t, float64(23), body["remaining"])
	assert.Equal(t, "Pro", body["tier"])
}

func TestGetUsageRemainingNeverNegative(t *testing.T) {
	// A downgrade can leave usage above the new limit.
	usage := &mockUsageService{
		GetOrCreateCurrentPeriodFunc: func(ctx context.Context, userID, email string) (*domain.UsageRecord, error) {
			return &domain.UsageRecord{TotalUsage: 20}, nil
		},
	}
	entitlement := &mockEntitlementService{
		ResolveLimitFunc: func(ctx context.Context, email string) (domain.Entitlement, error) {
			return domain.Entitlement{Tier: domain.SubscriptionTierFree, Limit: 5}, nil
		},
	}

	h := NewUsageHandler(usage, entitlement, testLogger())
	req := authenticatedRequest(http.MethodGet, "/api/usage", nil)
	rec := httptest.NewRecorder()

	h.GetUsage(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(0), body["remaining"])
}
