// Package domain contains core business types and interfaces.
//
// This file defines the usage ledger types: the per-period consumption
// record and the result of attempting to consume one unit of quota.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Action identifies the kind of metered operation being consumed.
type Action string

const (
	ActionGenerate Action = "generate"
	ActionEdit     Action = "edit"
)

// ParseAction validates a raw action string from a request body.
func ParseAction(raw string) (Action, error) {
	switch Action(raw) {
	case ActionGenerate, ActionEdit:
		return Action(raw), nil
	}
	return "", Invalid("usage.parse_action", fmt.Sprintf("unknown action %q", raw))
}

// UsageRecord represents one user's consumption within one billing period.
//
// The period is the half-open interval [CurrentPeriodStart, CurrentPeriodEnd).
// A record is current only while now < CurrentPeriodEnd; expired records are
// superseded by a new record, never mutated back into service.
type UsageRecord struct {
	ID                 uuid.UUID `json:"id"`
	UserID             string    `json:"user_id"`
	Email              string    `json:"email"`
	GenerationCount    int       `json:"generation_count"`
	EditCount          int       `json:"edit_count"`
	TotalUsage         int       `json:"total_usage"`
	CurrentPeriodStart time.Time `json:"current_period_start"`
	CurrentPeriodEnd   time.Time `json:"current_period_end"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Current reports whether the record covers the given instant.
func (r *UsageRecord) Current(now time.Time) bool {
	return now.Before(r.CurrentPeriodEnd)
}

// ConsumeResult is the outcome of a TryConsume call.
// Exactly one of Accepted/Rejected semantics applies: when Accepted is
// false the record was not mutated.
type ConsumeResult struct {
	Accepted  bool
	Record    *UsageRecord
	Tier      SubscriptionTier
	Limit     int
	Remaining int // Limit - TotalUsage after the increment; 0 when rejected
}

// QuotaExceeded creates the user-facing error returned when a consume
// attempt is rejected. It carries ERATELIMIT so the handler layer maps it
// to HTTP 429.
func QuotaExceeded(op string, used, limit int, tier SubscriptionTier) *Error {
	return &Error{
		Code:    ERATELIMIT,
		Op:      op,
		Message: fmt.Sprintf("usage limit reached for current billing period (%d/%d on %s)", used, limit, tier),
	}
}

// MonthWindow returns the calendar-month billing window containing now:
// the first day of the month at 00:00 UTC through the same instant one
// month later.
func MonthWindow(now time.Time) (start, end time.Time) {
	now = now.UTC()
	start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, 0)
	return start, end
}
