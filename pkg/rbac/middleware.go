package rbac

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rhdesk/hrcore/pkg/contextkeys"
	"github.com/rhdesk/hrcore/pkg/httputil"
	"github.com/rhdesk/hrcore/pkg/observability"
	"github.com/sirupsen/logrus"
)

// WithUser stores the authenticated user in ctx
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, contextkeys.UserKey, user)
}

// UserFromContext returns the authenticated user, or nil
func UserFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(contextkeys.UserKey).(*User)
	return user
}

// PermissionMiddleware turns requirements into HTTP guards
type PermissionMiddleware struct {
	gate *Gate
	log  logrus.FieldLogger
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(checker Checker, log logrus.FieldLogger) *PermissionMiddleware {
	return &PermissionMiddleware{
		gate: NewGate(checker),
		log:  observability.OrDefault(log),
	}
}

// Guard validates req and returns middleware enforcing it. Requests without a
// principal get 401; denied requests get a bare 403.
func (pm *PermissionMiddleware) Guard(req Requirement) (func(http.Handler) http.Handler, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := UserFromContext(r.Context())
			if user == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			if !pm.gate.Allow(r.Context(), req, user, r.Method) {
				pm.log.WithFields(logrus.Fields{
					"user_id":     user.ID,
					"method":      r.Method,
					"path":        r.URL.Path,
					"requirement": req.String(),
				}).Debug("request denied")
				httputil.WriteForbidden(w, "forbidden")
				return
			}

			next.ServeHTTP(w, r)
		})
	}, nil
}

// MustGuard is Guard for static route tables; it panics on a malformed requirement
func (pm *PermissionMiddleware) MustGuard(req Requirement) func(http.Handler) http.Handler {
	guard, err := pm.Guard(req)
	if err != nil {
		panic(fmt.Sprintf("rbac: %v", err))
	}
	return guard
}

// Protect wraps a handler func with the guard for req
func (pm *PermissionMiddleware) Protect(req Requirement, fn http.HandlerFunc) http.Handler {
	return pm.MustGuard(req)(fn)
}
