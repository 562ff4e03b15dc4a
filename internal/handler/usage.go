// Package handler contains HTTP handlers for the Pixelsmith API.
//
// This file implements the usage enforcement endpoints.
//
// Routes handled:
//   - POST /api/usage/track -> TrackUsage
//   - GET  /api/usage       -> GetUsage
//
// Both routes require bearer authentication.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pixelsmith-app/pixelsmith/internal/domain"
	"github.com/pixelsmith-app/pixelsmith/internal/identity"
	"github.com/pixelsmith-app/pixelsmith/internal/service"
)

// UsageHandler exposes the usage ledger over HTTP.
type UsageHandler struct {
	usage       service.UsageService
	entitlement service.EntitlementService
	logger      *slog.Logger
}

// NewUsageHandler creates a new UsageHandler.
func NewUsageHandler(usage service.UsageService, entitlement service.EntitlementService, logger *slog.Logger) *UsageHandler {
	return &UsageHandler{
		usage:       usage,
		entitlement: entitlement,
		logger:      logger,
	}
}

// RegisterRoutes registers usage routes on the provided mux.
func (h *UsageHandler) RegisterRoutes(mux *http.ServeMux, requireIdentity func(http.Handler) http.Handler) {
	mux.Handle("POST /api/usage/track", requireIdentity(http.HandlerFunc(h.TrackUsage)))
	mux.Handle("GET /api/usage", requireIdentity(http.HandlerFunc(h.GetUsage)))
}

type trackUsageRequest struct {
	Action string `json:"action"`
}

// TrackUsage attempts to consume one unit of quota for the requested action.
func (h *UsageHandler) TrackUsage(w http.ResponseWriter, r *http.Request) {
	const op = "handler.track_usage"

	id := identity.FromContext(r.Context())
	if id == nil {
		ErrorResponse(w, r, h.logger, domain.Unauthorized(op, "authentication required"))
		return
	}

	var req trackUsageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "invalid request body"))
		return
	}
	action, err := domain.ParseAction(req.Action)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	result, err := h.usage.TryConsume(r.Context(), id.UserID, id.Email, action)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	WriteConsumeResult(w, result)
}

// GetUsage returns the current period's usage record and limit.
func (h *UsageHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	const op = "handler.get_usage"

	id := identity.FromContext(r.Context())
	if id == nil {
		ErrorResponse(w, r, h.logger, domain.Unauthorized(op, "authentication required"))
		return
	}

	record, err := h.usage.GetOrCreateCurrentPeriod(r.Context(), id.UserID, id.Email)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	ent, err := h.entitlement.ResolveLimit(r.Context(), id.Email)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"usage":     record,
		"limit":     ent.Limit,
		"remaining": max(ent.Limit-record.TotalUsage, 0),
		"tier":      ent.Tier,
	})
}

// WriteConsumeResult renders a ConsumeResult with the status code the
// outcome calls for: 200 for accepted, 429 for quota exceeded.
func WriteConsumeResult(w http.ResponseWriter, result *domain.ConsumeResult) {
	if !result.Accepted {
		WriteJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":             "usage limit reached for current billing period",
			"current_usage":     result.Record.TotalUsage,
			"limit":             result.Limit,
			"subscription_tier": result.Tier,
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"usage":     result.Record,
		"limit":     result.Limit,
		"remaining": result.Remaining,
	})
}
