// ABOUTME: Authentication context for tracking the calling client through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating auth info via context

package auth

import (
	"context"
)

// authContextKey is the key type for storing Claims in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the client claims attached.
func WithAuth(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, authContextKey{}, claims)
}

// FromContext retrieves the claims from the context, returning nil if not present.
func FromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(authContextKey{}).(*Claims)
	return claims
}

// ClientName returns the authenticated client's name, or "local" when auth is off.
func ClientName(ctx context.Context) string {
	if c := FromContext(ctx); c != nil {
		return c.Client
	}
	return "local"
}
