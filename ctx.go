package secretariat

import (
	"context"

	"github.com/goliatone/go-router"
)

var claimsCtxKey = &contextKey{"claims"}

type contextKey struct {
	name string
}

// WithClaimsContext sets the session claims in the given context
func WithClaimsContext(r context.Context, claims *SessionClaims) context.Context {
	return context.WithValue(r, claimsCtxKey, claims)
}

// GetClaims extracts the session claims from the standard context
func GetClaims(ctx context.Context) (*SessionClaims, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(*SessionClaims)
	return raw, ok && raw != nil
}

// GetRouterClaims extracts the session claims stored by ProtectedRoute
func GetRouterClaims(c router.Context, key string) (*SessionClaims, bool) {
	if key == "" {
		key = "user"
	}
	raw := c.Locals(key)
	if raw == nil {
		return nil, false
	}
	claims, ok := raw.(*SessionClaims)
	return claims, ok && claims != nil
}

// CurrentUsername returns the signed in member for the request
func CurrentUsername(c router.Context, key string) (string, error) {
	claims, ok := GetRouterClaims(c, key)
	if !ok {
		return "", ErrUnableToFindSession
	}
	return claims.UserID(), nil
}
