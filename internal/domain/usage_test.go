package domain

import (
	"testing"
	"time"
)

// =============================================================================
// Action Parsing Tests
// =============================================================================

func TestParseAction(t *testing.T) {
	testCases := []struct {
		name    string
		raw     string
		want    Action
		wantErr bool
	}{
		{"generate", "generate", ActionGenerate, false},
		{"edit", "edit", ActionEdit, false},
		{"empty", "", "", true},
		{"unknown", "upscale", "", true},
		{"case sensitive", "Generate", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseAction(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got action %q", tc.raw, got)
				}
				if ErrorCode(err) != EINVALID {
					t.Errorf("expected EINVALID code, got %q", ErrorCode(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected action %q, got %q", tc.want, got)
			}
		})
	}
}

// =============================================================================
// Billing Window Tests
// =============================================================================

func TestMonthWindow(t *testing.T) {
	testCases := []struct {
		name      string
		now       time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "mid month",
			now:       time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC),
			wantStart: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "first instant of month",
			now:       time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "last instant of month",
			now:       time.Date(2025, 1, 31, 23, 59, 59, 0, time.UTC),
			wantStart: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "december rolls into next year",
			now:       time.Date(2024, 12, 20, 8, 0, 0, 0, time.UTC),
			wantStart: time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "non-UTC input is normalized",
			now:       time.Date(2025, 6, 1, 1, 0, 0, 0, time.FixedZone("CEST", 2*3600)),
			wantStart: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			start, end := MonthWindow(tc.now)
			if !start.Equal(tc.wantStart) {
				t.Errorf("expected start %v, got %v", tc.wantStart, start)
			}
			if !end.Equal(tc.wantEnd) {
				t.Errorf("expected end %v, got %v", tc.wantEnd, end)
			}
		})
	}
}

func TestUsageRecordCurrent(t *testing.T) {
	rec := &UsageRecord{
		CurrentPeriodStart: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		CurrentPeriodEnd:   time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}

	if !rec.Current(time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Error("record should be current mid-period")
	}
	// The window is half-open: the end instant belongs to the next period.
	if rec.Current(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Error("record should not be current at the period end instant")
	}
	if rec.Current(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Error("record should not be current after the period ends")
	}
}

func TestQuotaExceededError(t *testing.T) {
	err := QuotaExceeded("usage.consume", 5, 5, SubscriptionTierFree)

	if ErrorCode(err) != ERATELIMIT {
		t.Errorf("expected ERATELIMIT code, got %q", ErrorCode(err))
	}
	if ErrorOp(err) != "usage.consume" {
		t.Errorf("expected op usage.consume, got %q", ErrorOp(err))
	}
}
