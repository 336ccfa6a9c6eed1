package auth

import "context"

type contextKey struct{}

// AuthContext identifies the caller of an authenticated request. SessionID is
// empty when the request was let through by the development user override.
type AuthContext struct {
	UserID    string
	Email     string
	SessionID string
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func UserID(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return ac.UserID
}
