package auth

import (
	"context"

	"github.com/kuitang/notevault/internal/store"
)

// Identity is the authenticated principal behind a request.
type Identity struct {
	Username string
	Role     store.Role

	// AccountID tells apart accounts that reused a deleted username.
	AccountID string
}

// IsAdmin reports whether the identity carries the admin role.
func (id Identity) IsAdmin() bool {
	return id.Role == store.RoleAdmin
}

type identityContextKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the identity stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}
