package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rhdesk/hrcore/pkg/observability"
	"github.com/rhdesk/hrcore/pkg/rbac"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// DefaultTokenTTL is the lifetime of a token issued at login
const DefaultTokenTTL = 12 * time.Hour

// Store is the persistence the service needs
type Store interface {
	CreateAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, id int64) (*Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*Account, error)
	CreateToken(ctx context.Context, token *APIToken) error
	GetTokenByHash(ctx context.Context, hash string) (*APIToken, error)
	TouchToken(ctx context.Context, id int64, at time.Time) error
	RevokeToken(ctx context.Context, id int64, at time.Time) error
}

// Service authenticates users by password and by bearer token
type Service struct {
	store    Store
	tokenTTL time.Duration
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewService creates a new authentication service. A zero ttl uses DefaultTokenTTL.
func NewService(store Store, ttl time.Duration, log logrus.FieldLogger) *Service {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Service{
		store:    store,
		tokenTTL: ttl,
		log:      observability.OrDefault(log),
		now:      time.Now,
	}
}

// HashPassword returns the bcrypt hash of password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Register creates an active account with the given password
func (s *Service) Register(ctx context.Context, user rbac.User, password string) (*Account, error) {
	if user.Username == "" || password == "" {
		return nil, fmt.Errorf("username and password are required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	account := &Account{User: user, PasswordHash: hash}
	account.IsActive = true
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// Login checks the password and issues a new token. The returned user is
// non-nil whenever the username matched, even if the login failed.
func (s *Service) Login(ctx context.Context, username, password string) (*rbac.User, *IssuedToken, error) {
	account, err := s.store.GetAccountByUsername(ctx, username)
	if errors.Is(err, rbac.ErrNotFound) {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, err
	}

	user := &account.User
	if !account.IsActive {
		return user, nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return user, nil, ErrInvalidCredentials
	}

	issued, err := s.issue(ctx, account.ID, "login")
	if err != nil {
		return user, nil, err
	}
	return user, issued, nil
}

func (s *Service) issue(ctx context.Context, userID int64, name string) (*IssuedToken, error) {
	tok, err := newToken()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.tokenTTL)
	record := &APIToken{
		UserID:      userID,
		TokenHash:   tok.hash,
		TokenPrefix: tok.sessionKey,
		Name:        name,
		ExpiresAt:   &expiresAt,
		CreatedAt:   now,
	}
	if err := s.store.CreateToken(ctx, record); err != nil {
		return nil, err
	}

	return &IssuedToken{Token: tok.raw, Prefix: tok.sessionKey, ExpiresAt: &expiresAt}, nil
}

// Authenticate resolves a raw bearer token to its user. Unknown, expired and
// revoked tokens, and tokens of inactive users, yield ErrInvalidToken.
func (s *Service) Authenticate(ctx context.Context, raw string) (*rbac.User, *APIToken, error) {
	if err := checkFormat(raw); err != nil {
		return nil, nil, ErrInvalidToken
	}

	token, err := s.store.GetTokenByHash(ctx, HashToken(raw))
	if errors.Is(err, rbac.ErrNotFound) {
		return nil, nil, ErrInvalidToken
	}
	if err != nil {
		return nil, nil, err
	}

	now := s.now().UTC()
	if !token.Usable(now) {
		return nil, nil, ErrInvalidToken
	}

	account, err := s.store.GetAccount(ctx, token.UserID)
	if errors.Is(err, rbac.ErrNotFound) {
		return nil, nil, ErrInvalidToken
	}
	if err != nil {
		return nil, nil, err
	}
	if !account.IsActive {
		return nil, nil, ErrInvalidToken
	}

	if err := s.store.TouchToken(ctx, token.ID, now); err != nil {
		s.log.WithError(err).WithField("token_prefix", token.TokenPrefix).Warn("failed to record token use")
	}
	return &account.User, token, nil
}

// Logout revokes the raw token
func (s *Service) Logout(ctx context.Context, raw string) error {
	token, err := s.store.GetTokenByHash(ctx, HashToken(raw))
	if errors.Is(err, rbac.ErrNotFound) {
		return ErrInvalidToken
	}
	if err != nil {
		return err
	}
	return s.store.RevokeToken(ctx, token.ID, s.now().UTC())
}
