package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/rhdesk/hrcore/pkg/audit"
	"github.com/rhdesk/hrcore/pkg/auth"
	"github.com/rhdesk/hrcore/pkg/contextkeys"
	"github.com/rhdesk/hrcore/pkg/httputil"
	"github.com/rhdesk/hrcore/pkg/observability"
	"github.com/rhdesk/hrcore/pkg/rbac"
	"github.com/sirupsen/logrus"
)

// TokenAuthenticator resolves a raw bearer token to its user
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, raw string) (*rbac.User, *auth.APIToken, error)
}

// Authenticator puts the bearer token's user in the request context
type Authenticator struct {
	tokens   TokenAuthenticator
	optional bool // If true, allow requests without a token
	log      logrus.FieldLogger
}

// NewAuthenticator creates a new authentication middleware. With optional
// set, requests without an Authorization header pass through anonymously and
// the permission guards answer 401 where a user is required.
func NewAuthenticator(tokens TokenAuthenticator, optional bool, log logrus.FieldLogger) *Authenticator {
	return &Authenticator{
		tokens:   tokens,
		optional: optional,
		log:      observability.OrDefault(log),
	}
}

// Handler wraps an HTTP handler with authentication
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			if a.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		raw, ok := auth.BearerToken(r)
		if !ok {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		user, token, err := a.tokens.Authenticate(r.Context(), raw)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				a.log.WithError(err).Error("token authentication failed")
			}
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := rbac.WithUser(r.Context(), user)
		ctx = contextkeys.WithSessionKey(ctx, token.TokenPrefix)
		audit.AttachUser(ctx, user, token.TokenPrefix)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
