package identity

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pixelsmith-app/pixelsmith/internal/domain"
)

// =============================================================================
// Claim Extraction Tests
// =============================================================================

func TestIdentityFromClaims(t *testing.T) {
	testCases := []struct {
		name       string
		claims     jwt.MapClaims
		wantUserID string
		wantEmail  string
		wantErr    bool
	}{
		{
			name:       "standard claims",
			claims:     jwt.MapClaims{"sub": "user_123", "email": "user@example.com"},
			wantUserID: "user_123",
			wantEmail:  "user@example.com",
		},
		{
			name:       "user_id fallback",
			claims:     jwt.MapClaims{"user_id": "user_456", "email": "user@example.com"},
			wantUserID: "user_456",
			wantEmail:  "user@example.com",
		},
		{
			name:       "primaryEmailAddress fallback",
			claims:     jwt.MapClaims{"sub": "user_123", "primaryEmailAddress": "primary@example.com"},
			wantUserID: "user_123",
			wantEmail:  "primary@example.com",
		},
		{
			name:       "email_address fallback",
			claims:     jwt.MapClaims{"sub": "user_123", "email_address": "alt@example.com"},
			wantUserID: "user_123",
			wantEmail:  "alt@example.com",
		},
		{
			name:       "sub preferred over user_id",
			claims:     jwt.MapClaims{"sub": "user_123", "user_id": "other", "email": "user@example.com"},
			wantUserID: "user_123",
			wantEmail:  "user@example.com",
		},
		{
			name:    "missing subject",
			claims:  jwt.MapClaims{"email": "user@example.com"},
			wantErr: true,
		},
		{
			name:    "missing email",
			claims:  jwt.MapClaims{"sub": "user_123"},
			wantErr: true,
		},
		{
			name:    "non-string email is ignored",
			claims:  jwt.MapClaims{"sub": "user_123", "email": 42},
			wantErr: true,
		},
		{
			name:    "empty claims",
			claims:  jwt.MapClaims{},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := IdentityFromClaims(tc.claims)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got identity %+v", id)
				}
				if domain.ErrorCode(err) != domain.EUNAUTHORIZED {
					t.Errorf("expected EUNAUTHORIZED code, got %q", domain.ErrorCode(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id.UserID != tc.wantUserID {
				t.Errorf("expected user ID %q, got %q", tc.wantUserID, id.UserID)
			}
			if id.Email != tc.wantEmail {
				t.Errorf("expected email %q, got %q", tc.wantEmail, id.Email)
			}
		})
	}
}

// =============================================================================
// Context Tests
// =============================================================================

func TestIdentityContextRoundTrip(t *testing.T) {
	id := &Identity{UserID: "user_123", Email: "user@example.com"}

	ctx := WithIdentity(t.Context(), id)
	got := FromContext(ctx)

	if got == nil {
		t.Fatal("expected identity in context")
	}
	if got.UserID != "user_123" || got.Email != "user@example.com" {
		t.Errorf("unexpected identity: %+v", got)
	}
}

func TestFromContextWithoutIdentity(t *testing.T) {
	if got := FromContext(t.Context()); got != nil {
		t.Errorf("expected nil identity, got %+v", got)
	}
}

// =============================================================================
// Resolver Construction Tests
// =============================================================================

func TestNewResolverRequiresIssuer(t *testing.T) {
	_, err := NewResolver("", "")
	if err == nil {
		t.Fatal("expected error for empty issuer")
	}
	if domain.ErrorCode(err) != domain.EINVALID {
		t.Errorf("expected EINVALID code, got %q", domain.ErrorCode(err))
	}
}
