// ABOUTME: Request context helpers carrying the authenticated user
// ABOUTME: Set by the HTTP middleware and read by API and WebSocket handlers

package auth

import (
	"context"

	"github.com/2389/coven-chat/internal/chat"
)

type userContextKey struct{}

// WithUser returns a context carrying the authenticated user.
func WithUser(ctx context.Context, u chat.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, u)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (chat.User, bool) {
	u, ok := ctx.Value(userContextKey{}).(chat.User)
	return u, ok
}
