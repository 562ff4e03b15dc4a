// Package service contains the business logic layer.
//
// This file implements the usage ledger: the period-scoped consumption
// counter and the quota-enforcing consume operation.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pixelsmith-app/pixelsmith/internal/domain"
	"github.com/pixelsmith-app/pixelsmith/internal/metrics"
	"github.com/pixelsmith-app/pixelsmith/internal/repository"
)

// UsageStore defines the persistence operations the usage service needs.
// Implemented by repository.Store.
type UsageStore interface {
	GetCurrentUsage(ctx context.Context, email string, now time.Time) (*domain.UsageRecord, error)
	CreateUsage(ctx context.Context, userID, email string, start, end time.Time) (*domain.UsageRecord, error)
	ConsumeUsage(ctx context.Context, id uuid.UUID, action domain.Action, limit int) (*domain.UsageRecord, error)
	GetUsageByID(ctx context.Context, id uuid.UUID) (*domain.UsageRecord, error)
	ResetUsage(ctx context.Context, email string, start, end time.Time) (*domain.UsageRecord, error)
}

// =============================================================================
// Interface Definition
// =============================================================================

// UsageService defines operations on the per-period usage ledger.
type UsageService interface {
	// GetOrCreateCurrentPeriod returns the usage record covering now,
	// creating a zeroed record for the current calendar month when none
	// exists. Expired records are never returned.
	GetOrCreateCurrentPeriod(ctx context.Context, userID, email string) (*domain.UsageRecord, error)

	// TryConsume attempts to consume one unit of quota for the given
	// action. The limit check and increment are atomic at the storage
	// layer, so concurrent requests from one user cannot push usage past
	// the limit. A rejected attempt leaves the record unchanged.
	TryConsume(ctx context.Context, userID, email string, action domain.Action) (*domain.ConsumeResult, error)

	// ResetPeriod starts a fresh billing period for the email with zeroed
	// counters and a [now, now+1 month) window. Called by the billing
	// event synchronizer on renewal and activation.
	ResetPeriod(ctx context.Context, email string) (*domain.UsageRecord, error)
}

// =============================================================================
// Implementation
// =============================================================================

type usageService struct {
	store       UsageStore
	entitlement EntitlementService
	logger      *slog.Logger
	now         func() time.Time
}

// NewUsageService creates a new UsageService.
func NewUsageService(store UsageStore, entitlement EntitlementService, logger *slog.Logger) UsageService {
	return &usageService{
		store:       store,
		entitlement: entitlement,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// GetOrCreateCurrentPeriod returns the live usage record for an email.
func (s *usageService) GetOrCreateCurrentPeriod(ctx context.Context, userID, email string) (*domain.UsageRecord, error) {
	const op = "usage.get_or_create_period"

	now := s.now()
	rec, err := s.store.GetCurrentUsage(ctx, email, now)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, domain.Internal(err, op, "failed to load usage record")
	}

	start, end := domain.MonthWindow(now)
	rec, err = s.store.CreateUsage(ctx, userID, email, start, end)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to create usage record")
	}

	s.logger.Info("created usage record for new period",
		"email", email, "period_start", start, "period_end", end)
	return rec, nil
}

// TryConsume is the sole mutating entry point for usage counters.
func (s *usageService) TryConsume(ctx context.Context, userID, email string, action domain.Action) (*domain.ConsumeResult, error) {
	const op = "usage.consume"

	rec, err := s.GetOrCreateCurrentPeriod(ctx, userID, email)
	if err != nil {
		return nil, err
	}

	ent, err := s.entitlement.ResolveLimit(ctx, email)
	if err != nil {
		return nil, err
	}

	if rec.TotalUsage >= ent.Limit {
		s.logger.Info("usage limit reached",
			"email", email, "used", rec.TotalUsage, "limit", ent.Limit, "tier", ent.Tier)
		metrics.UsageRejections.WithLabelValues(string(ent.Tier)).Inc()
		return &domain.ConsumeResult{
			Accepted: false,
			Record:   rec,
			Tier:     ent.Tier,
			Limit:    ent.Limit,
		}, nil
	}

	updated, err := s.store.ConsumeUsage(ctx, rec.ID, action, ent.Limit)
	if errors.Is(err, repository.ErrLimitReached) {
		// A concurrent request for this user took the last unit between
		// our read and the conditional update.
		current, readErr := s.store.GetUsageByID(ctx, rec.ID)
		if readErr != nil {
			current = rec
		}
		s.logger.Info("usage limit reached on conditional update",
			"email", email, "used", current.TotalUsage, "limit", ent.Limit, "tier", ent.Tier)
		metrics.UsageRejections.WithLabelValues(string(ent.Tier)).Inc()
		return &domain.ConsumeResult{
			Accepted: false,
			Record:   current,
			Tier:     ent.Tier,
			Limit:    ent.Limit,
		}, nil
	}
	if err != nil {
		// The quota was validated but the write failed; the caller must
		// treat this as enforcement failure, not as usage granted.
		return nil, domain.Internal(err, op, "failed to record usage")
	}

	metrics.UsageConsumed.WithLabelValues(string(action)).Inc()
	s.logger.Info("usage recorded",
		"email", email, "action", action,
		"total_usage", updated.TotalUsage, "limit", ent.Limit,
		"remaining", ent.Limit-updated.TotalUsage)

	return &domain.ConsumeResult{
		Accepted:  true,
		Record:    updated,
		Tier:      ent.Tier,
		Limit:     ent.Limit,
		Remaining: ent.Limit - updated.TotalUsage,
	}, nil
}

// ResetPeriod zeroes the ledger for a fresh billing period starting now.
func (s *usageService) ResetPeriod(ctx context.Context, email string) (*domain.UsageRecord, error) {
	const op = "usage.reset_period"

	now := s.now()
	rec, err := s.store.ResetUsage(ctx, email, now, now.AddDate(0, 1, 0))
	if err != nil {
		return nil, domain.Internal(err, op, "failed to reset usage record")
	}

	s.logger.Info("usage reset for new billing period",
		"email", email, "period_start", rec.CurrentPeriodStart, "period_end", rec.CurrentPeriodEnd)
	return rec, nil
}
