// Package contextkeys holds the request-scoped values shared between the
// HTTP middleware, the audit trail and the logger.
//
// Producers store values with the With* helpers and consumers read them back
// with Value, which never panics on a missing or mistyped entry:
//
//	ctx = contextkeys.WithAuth(ctx, authCtx)
//	authCtx, ok := contextkeys.Value[*auth.AuthContext](ctx, contextkeys.AuthKey)
package contextkeys

import "context"

// Key is unexported-by-type so no other package can collide with these entries
type Key struct{ name string }

func (k Key) String() string { return "warden." + k.name }

var (
	// AuthKey holds *auth.AuthContext, set by middleware.AuthMiddleware
	AuthKey = Key{"auth"}
	// RequestIDKey holds the request id string, set by httputil.RequestIDMiddleware
	RequestIDKey = Key{"request_id"}
	// UserIDKey holds the authenticated user's id as int64
	UserIDKey = Key{"user_id"}
	// LoggerKey holds *observability.Logger, set by httputil.LoggingMiddleware
	LoggerKey = Key{"logger"}
)

// Value returns the entry under key if it has type T
func Value[T any](ctx context.Context, key Key) (T, bool) {
	v, ok := ctx.Value(key).(T)
	return v, ok
}

func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID returns the request id, or "" outside a request
func GetRequestID(ctx context.Context) string {
	id, _ := Value[string](ctx, RequestIDKey)
	return id
}

// GetUserID returns the authenticated user id
func GetUserID(ctx context.Context) (int64, bool) {
	return Value[int64](ctx, UserIDKey)
}
