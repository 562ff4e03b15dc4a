// Package repository provides Postgres persistence for subscribers and
// usage records.
//
// All quota mutations flow through the conditional-update queries in this
// package so the limit check and the increment happen in a single
// statement at the storage layer.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pixelsmith-app/pixelsmith/internal/domain"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("repository: not found")

// ErrLimitReached is returned by ConsumeUsage when the conditional
// increment matched no row because total_usage had already reached the
// limit.
var ErrLimitReached = errors.New("repository: usage limit reached")

// Store wraps a database handle with typed queries.
type Store struct {
	db *sql.DB
}

// New creates a Store backed by the given database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// =============================================================================
// Subscribers
// =============================================================================

// GetSubscriberByEmail returns the subscriber row for an email, or
// ErrNotFound when the user has never been seen by billing.
func (s *Store) GetSubscriberByEmail(ctx context.Context, email string) (*domain.Subscriber, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT email, user_id, stripe_customer_id, subscribed, subscription_tier, subscription_end, updated_at
		FROM subscribers
		WHERE email = $1`, email)

	var (
		sub        domain.Subscriber
		userID     sql.NullString
		customerID sql.NullString
		tier       sql.NullString
		periodEnd  sql.NullTime
	)
	err := row.Scan(&sub.Email, &userID, &customerID, &sub.Subscribed, &tier, &periodEnd, &sub.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sub.UserID = userID.String
	sub.StripeCustomerID = customerID.String
	sub.SubscriptionTier = domain.SubscriptionTier(tier.String)
	if periodEnd.Valid {
		t := periodEnd.Time
		sub.SubscriptionEnd = &t
	}
	return &sub, nil
}

// UpsertSubscriber writes the full reconciled billing state for an email.
// The row is keyed by email; repeated upserts with identical upstream data
// converge to the same stored state.
func (s *Store) UpsertSubscriber(ctx context.Context, sub *domain.Subscriber) error {
	var (
		userID     = nullString(sub.UserID)
		customerID = nullString(sub.StripeCustomerID)
		tier       = nullString(string(sub.SubscriptionTier))
		periodEnd  sql.NullTime
	)
	if sub.SubscriptionEnd != nil {
		periodEnd = sql.NullTime{Time: *sub.SubscriptionEnd, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscribers (email, user_id, stripe_customer_id, subscribed, subscription_tier, subscription_end, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (email) DO UPDATE SET
			user_id            = COALESCE(EXCLUDED.user_id, subscribers.user_id),
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			subscribed         = EXCLUDED.subscribed,
			subscription_tier  = EXCLUDED.subscription_tier,
			subscription_end   = EXCLUDED.subscription_end,
			updated_at         = now()`,
		sub.Email, userID, customerID, sub.Subscribed, tier, periodEnd)
	return err
}

// =============================================================================
// Usage records
// =============================================================================

// GetCurrentUsage returns the usage record covering now for an email, or
// ErrNotFound when no unexpired record exists.
func (s *Store) GetCurrentUsage(ctx context.Context, email string, now time.Time) (*domain.UsageRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, email, generation_count, edit_count, total_usage,
		       current_period_start, current_period_end, updated_at
		FROM usage_records
		WHERE email = $1 AND current_period_end > $2
		ORDER BY current_period_start DESC
		LIMIT 1`, email, now)
	return scanUsage(row)
}

// CreateUsage inserts a zeroed usage record for the given period window.
// Two concurrent first-requests-of-a-period may both attempt this insert;
// the unique (email, current_period_start) constraint plus DO NOTHING +
// re-read resolves the race with a single surviving row.
func (s *Store) CreateUsage(ctx context.Context, userID, email string, start, end time.Time) (*domain.UsageRecord, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records (id, user_id, email, generation_count, edit_count, total_usage,
		                           current_period_start, current_period_end, updated_at)
		VALUES ($1, $2, $3, 0, 0, 0, $4, $5, now())
		ON CONFLICT (email, current_period_start) DO NOTHING`,
		uuid.New(), nullString(userID), email, start, end)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, email, generation_count, edit_count, total_usage,
		       current_period_start, current_period_end, updated_at
		FROM usage_records
		WHERE email = $1 AND current_period_start = $2`, email, start)
	return scanUsage(row)
}

// ConsumeUsage atomically increments a usage record by one unit of the
// given action, but only while total_usage is below limit. Returns
// ErrLimitReached without mutating anything when the record is already at
// or over the limit.
func (s *Store) ConsumeUsage(ctx context.Context, id uuid.UUID, action domain.Action, limit int) (*domain.UsageRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE usage_records
		SET total_usage      = total_usage + 1,
		    generation_count = generation_count + CASE WHEN $2 = 'generate' THEN 1 ELSE 0 END,
		    edit_count       = edit_count + CASE WHEN $2 = 'edit' THEN 1 ELSE 0 END,
		    updated_at       = now()
		WHERE id = $1 AND total_usage < $3
		RETURNING id, user_id, email, generation_count, edit_count, total_usage,
		          current_period_start, current_period_end, updated_at`,
		id, string(action), limit)

	rec, err := scanUsage(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrLimitReached
	}
	return rec, err
}

// GetUsageByID reloads a usage record, used to report current counts after
// a rejected consume.
func (s *Store) GetUsageByID(ctx context.Context, id uuid.UUID) (*domain.UsageRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, email, generation_count, edit_count, total_usage,
		       current_period_start, current_period_end, updated_at
		FROM usage_records
		WHERE id = $1`, id)
	return scanUsage(row)
}

// ResetUsage starts a fresh billing period for an email: any still-open
// record is closed at now, and a zeroed record covering [start, end) is
// inserted. Runs in one transaction so there is never more than one
// current record per email.
func (s *Store) ResetUsage(ctx context.Context, email string, start, end time.Time) (*domain.UsageRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE usage_records
		SET current_period_end = $2, updated_at = now()
		WHERE email = $1 AND current_period_end > $2 AND current_period_start < $2`,
		email, start)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO usage_records (id, user_id, email, generation_count, edit_count, total_usage,
		                           current_period_start, current_period_end, updated_at)
		VALUES ($1, NULL, $2, 0, 0, 0, $3, $4, now())
		ON CONFLICT (email, current_period_start) DO UPDATE SET
			generation_count   = 0,
			edit_count         = 0,
			total_usage        = 0,
			current_period_end = EXCLUDED.current_period_end,
			updated_at         = now()
		RETURNING id, user_id, email, generation_count, edit_count, total_usage,
		          current_period_start, current_period_end, updated_at`,
		uuid.New(), email, start, end)

	rec, err := scanUsage(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}

// =============================================================================
// Helpers
// =============================================================================

func scanUsage(row *sql.Row) (*domain.UsageRecord, error) {
	var (
		rec    domain.UsageRecord
		userID sql.NullString
	)
	err := row.Scan(&rec.ID, &userID, &rec.Email, &rec.GenerationCount, &rec.EditCount,
		&rec.TotalUsage, &rec.CurrentPeriodStart, &rec.CurrentPeriodEnd, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.UserID = userID.String
	return &rec, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
