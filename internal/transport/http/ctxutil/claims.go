package ctxutil

import (
	"context"
	"strings"

	"github.com/relaycore/orchestrator/internal/domain"
)

// authKey is the unexported type for the context key to prevent collisions.
type authKey struct{}

// AuthContext carries the identity resolved from a request's Bearer API key.
type AuthContext struct {
	KeyID domain.ID
	Name  string
	Role  domain.ApiKeyRole
}

// HasRole reports whether the authenticated caller holds the given role.
func (a *AuthContext) HasRole(role domain.ApiKeyRole) bool {
	return a != nil && a.Role == role
}

// SetAuth stores the resolved auth context on ctx, normalizing the role.
func SetAuth(ctx context.Context, auth *AuthContext) context.Context {
	if auth != nil {
		auth.Role = domain.ApiKeyRole(strings.ToLower(strings.TrimSpace(string(auth.Role))))
	}
	return context.WithValue(ctx, authKey{}, auth)
}

// GetAuth retrieves the auth context. Returns nil if the request is
// unauthenticated or auth hasn't run yet.
func GetAuth(ctx context.Context) *AuthContext {
	if auth, ok := ctx.Value(authKey{}).(*AuthContext); ok {
		return auth
	}
	return nil
}
