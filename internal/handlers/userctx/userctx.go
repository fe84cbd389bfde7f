// Package userctx carries authenticated user through request context
package userctx

import (
	"context"

	"github.com/nkiryanov/stickywall/internal/models"
)

type userKey struct{}

// Attach user to the context, done by auth middleware
func New(ctx context.Context, u models.User) context.Context {
	return context.WithValue(ctx, userKey{}, &u)
}

func FromContext(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(userKey{}).(*models.User)
	return u, ok && u != nil
}

// MustUser is for handlers wrapped with auth middleware only
// Panics if there is no user: the handler is routed without authentication
func MustUser(ctx context.Context) *models.User {
	u, ok := FromContext(ctx)
	if !ok {
		panic("userctx: no authenticated user in context, is handler wrapped with auth middleware?")
	}
	return u
}
