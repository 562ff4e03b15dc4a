// Package middleware contains HTTP middleware for the Pixelsmith application.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using a middleware stack approach.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/pixelsmith-app/pixelsmith/internal/domain"
	"github.com/pixelsmith-app/pixelsmith/internal/handler"
	"github.com/pixelsmith-app/pixelsmith/internal/identity"
)

// AuthMiddleware resolves bearer credentials on API routes.
type AuthMiddleware struct {
	resolver identity.Resolver
	logger   *slog.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware instance.
func NewAuthMiddleware(resolver identity.Resolver, logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		resolver: resolver,
		logger:   logger,
	}
}

// RequireIdentity rejects requests without a valid bearer token and stores
// the resolved identity in the request context for handlers downstream.
func (m *AuthMiddleware) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const op = "middleware.require_identity"

		token, ok := bearerToken(r)
		if !ok {
			handler.ErrorResponse(w, r, m.logger, domain.Unauthorized(op, "no authorization header provided"))
			return
		}

		id, err := m.resolver.Resolve(token)
		if err != nil {
			handler.ErrorResponse(w, r, m.logger, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), id)))
	})
}

// bearerToken extracts the credential from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == auth || token == "" {
		return "", false
	}
	return token, true
}

// Stack composes middleware so the first listed wraps the rest.
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
