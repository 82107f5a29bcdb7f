// Package session carries the verified caller of a request through context.Context.
package session

import (
	"context"

	"gymdesk/internal/domain"
)

type ctxKey struct{}

func NewContext(ctx context.Context, claims *domain.Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, claims)
}

// FromContext returns the caller stored by NewContext, if any.
func FromContext(ctx context.Context) (*domain.Claims, bool) {
	claims, ok := ctx.Value(ctxKey{}).(*domain.Claims)
	return claims, ok && claims != nil
}

// HasRole reports whether the caller holds one of roles.
func HasRole(ctx context.Context, roles ...domain.Role) bool {
	claims, ok := FromContext(ctx)
	if !ok {
		return false
	}
	for _, role := range roles {
		if claims.Role == role {
			return true
		}
	}
	return false
}
