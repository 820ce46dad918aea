// Package contextkeys provides centralized context key definitions.
//
// All context keys shared between packages are defined here so the setter and
// the readers agree on one typed key:
//
//	ctx = context.WithValue(ctx, contextkeys.UserKey, user)
//	user, _ := ctx.Value(contextkeys.UserKey).(*rbac.User)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// UserKey contains the authenticated *rbac.User
	// Set by: middleware.Authenticator (pkg/middleware/auth.go)
	// Read by: rbac.PermissionMiddleware, rbac.Handlers
	UserKey Key = "user"

	// SessionKey contains the session key string (API token prefix)
	// Set by: middleware.Authenticator
	// Read by: auth.Handlers (logout), audit trail
	SessionKey Key = "session_key"

	// RequestIDKey contains the request ID string
	// Set by: httputil.RequestIDMiddleware
	// Read by: audit.Middleware, log fields
	RequestIDKey Key = "request_id"

	// AuditCaptureKey contains the per-request *audit.capture
	// Set by: audit.Middleware
	// Read by: audit.AttachUser
	AuditCaptureKey Key = "audit_capture"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithSessionKey adds the session key to the context
func WithSessionKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, SessionKey, key)
}

// GetSessionKey retrieves the session key from context
func GetSessionKey(ctx context.Context) string {
	if key, ok := ctx.Value(SessionKey).(string); ok {
		return key
	}
	return ""
}
