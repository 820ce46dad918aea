package auth

import (
	"errors"
	"time"

	"github.com/rhdesk/hrcore/pkg/rbac"
)

var (
	// ErrInvalidCredentials is returned for an unknown user, a wrong password or an inactive account
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrInvalidToken is returned for a malformed, unknown, expired or revoked token
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Account is a user together with its stored password hash
type Account struct {
	rbac.User
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// APIToken is a bearer token issued at login. Only its hash is stored.
type APIToken struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	TokenHash   string     `json:"-"`
	TokenPrefix string     `json:"token_prefix"`
	Name        string     `json:"name"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

// Usable reports whether the token is neither revoked nor expired at now
func (t *APIToken) Usable(now time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	return t.ExpiresAt == nil || now.Before(*t.ExpiresAt)
}

// IssuedToken is returned once at login; Token is never stored
type IssuedToken struct {
	Token     string     `json:"token"`
	Prefix    string     `json:"token_prefix"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
