// Package identity resolves bearer credentials to a stable user identity.
//
// Tokens are issued by the external identity provider and verified against
// its JWKS endpoint; we never decode claims without checking the signature.
package identity

import (
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/pixelsmith-app/pixelsmith/internal/domain"
)

const defaultLeeway = 30 * time.Second

// Identity is the resolved (user id, email) pair extracted from a verified
// credential.
type Identity struct {
	UserID string
	Email  string
}

// Resolver validates identity-provider JWTs and extracts the claims the
// rest of the system keys on.
type Resolver interface {
	// Resolve verifies the raw bearer token and returns the identity it
	// carries. Fails with an EUNAUTHORIZED domain error on a malformed or
	// unverifiable token, or when the email claim is absent.
	Resolve(token string) (*Identity, error)
}

type jwksResolver struct {
	issuer  string
	keyfunc keyfunc.Keyfunc
	parser  *jwt.Parser
}

// NewResolver builds a Resolver that fetches signing keys from the
// issuer's JWKS endpoint. jwksURL may be empty, in which case the
// conventional .well-known path under the issuer is used.
func NewResolver(issuer, jwksURL string) (Resolver, error) {
	const op = "identity.new_resolver"

	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return nil, domain.Invalid(op, "issuer must be set")
	}
	if !strings.HasSuffix(issuer, "/") {
		issuer += "/"
	}
	if jwksURL == "" {
		jwksURL = issuer + ".well-known/jwks.json"
	}

	keyProvider, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to initialize JWKS key provider")
	}

	parser := jwt.NewParser(
		jwt.WithIssuer(issuer),
		jwt.WithLeeway(defaultLeeway),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Name, jwt.SigningMethodRS384.Name, jwt.SigningMethodRS512.Name}),
	)

	return &jwksResolver{
		issuer:  issuer,
		keyfunc: keyProvider,
		parser:  parser,
	}, nil
}

func (r *jwksResolver) Resolve(token string) (*Identity, error) {
	const op = "identity.resolve"

	parsed, err := r.parser.Parse(token, r.keyfunc.Keyfunc)
	if err != nil {
		return nil, &domain.Error{
			Code:    domain.EUNAUTHORIZED,
			Op:      op,
			Message: "invalid or expired token",
			Err:     err,
		}
	}
	if !parsed.Valid {
		return nil, domain.Unauthorized(op, "invalid token")
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, domain.Unauthorized(op, "invalid token claims")
	}

	return IdentityFromClaims(mapClaims)
}

// IdentityFromClaims extracts the user identity from verified claims.
// The identity provider puts the email under different claim names
// depending on the token template, so several are tried.
func IdentityFromClaims(claims jwt.MapClaims) (*Identity, error) {
	const op = "identity.resolve"

	userID := firstString(claims, "sub", "user_id", "id")
	if userID == "" {
		return nil, domain.Unauthorized(op, "token missing subject")
	}

	email := firstString(claims, "email", "primaryEmailAddress", "email_address")
	if email == "" {
		return nil, domain.Unauthorized(op, "email not found in token")
	}

	return &Identity{UserID: userID, Email: email}, nil
}

func firstString(claims jwt.MapClaims, keys ...string) string {
	for _, key := range keys {
		if s, ok := claims[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
