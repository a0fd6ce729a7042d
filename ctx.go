package identity

import "context"

var userCtxKey = &contextKey{"resolved_user"}

type contextKey struct {
	name string
}

// WithContext sets the ResolvedUser in the given context
func WithContext(r context.Context, user *ResolvedUser) context.Context {
	return context.WithValue(r, userCtxKey, user)
}

// FromContext finds the resolved user from the context.
func FromContext(ctx context.Context) (*ResolvedUser, bool) {
	raw, ok := ctx.Value(userCtxKey).(*ResolvedUser)
	return raw, ok
}

// CanAccess is a convenience check for module access directly from a context.
func CanAccess(ctx context.Context, module Module) bool {
	user, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return user.HasModuleAccess(module)
}
