package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rhdesk/hrcore/pkg/rbac"
)

// SQLStore persists accounts and API tokens on database/sql. It also serves
// as the rbac.UserLookup of the administration endpoints.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new account store
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate creates the account tables if they don't exist (PostgreSQL dialect)
func (s *SQLStore) Migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS hr_users (
		id BIGSERIAL PRIMARY KEY,
		username VARCHAR(150) NOT NULL UNIQUE,
		email VARCHAR(255),
		password_hash VARCHAR(255) NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_superuser BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS api_tokens (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES hr_users(id) ON DELETE CASCADE,
		token_hash CHAR(64) NOT NULL UNIQUE,
		token_prefix VARCHAR(20) NOT NULL,
		name VARCHAR(255) NOT NULL,
		expires_at TIMESTAMP WITH TIME ZONE,
		last_used_at TIMESTAMP WITH TIME ZONE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		revoked_at TIMESTAMP WITH TIME ZONE
	);

	CREATE INDEX IF NOT EXISTS idx_api_tokens_user_id ON api_tokens(user_id);
	`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to migrate account tables: %w", err)
	}
	return nil
}

// CreateAccount inserts an account and sets its ID
func (s *SQLStore) CreateAccount(ctx context.Context, account *Account) error {
	query := `
		INSERT INTO hr_users (username, email, password_hash, is_active, is_superuser, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, query,
		account.Username, account.Email, account.PasswordHash,
		account.IsActive, account.IsSuperuser, now,
	).Scan(&account.ID)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	account.CreatedAt = now
	return nil
}

const accountColumns = `SELECT id, username, email, password_hash, is_active, is_superuser, created_at FROM hr_users`

// GetAccountByUsername returns the account for username
func (s *SQLStore) GetAccountByUsername(ctx context.Context, username string) (*Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx, accountColumns+" WHERE username = $1", username))
}

// GetAccount returns the account by ID
func (s *SQLStore) GetAccount(ctx context.Context, id int64) (*Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx, accountColumns+" WHERE id = $1", id))
}

// GetUser implements rbac.UserLookup
func (s *SQLStore) GetUser(ctx context.Context, id int64) (*rbac.User, error) {
	account, err := s.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	return &account.User, nil
}

// SetPassword replaces an account's password hash
func (s *SQLStore) SetPassword(ctx context.Context, id int64, passwordHash string) error {
	return s.execAffectingOne(ctx, "UPDATE hr_users SET password_hash = $1 WHERE id = $2", passwordHash, id)
}

func (s *SQLStore) scanAccount(row *sql.Row) (*Account, error) {
	var a Account
	var email sql.NullString
	err := row.Scan(&a.ID, &a.Username, &email, &a.PasswordHash, &a.IsActive, &a.IsSuperuser, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account: %w", rbac.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	a.Email = email.String
	return &a, nil
}

// CreateToken inserts a token and sets its ID
func (s *SQLStore) CreateToken(ctx context.Context, token *APIToken) error {
	query := `
		INSERT INTO api_tokens (user_id, token_hash, token_prefix, name, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	var expiresAt sql.NullTime
	if token.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *token.ExpiresAt, Valid: true}
	}

	err := s.db.QueryRowContext(ctx, query,
		token.UserID, token.TokenHash, token.TokenPrefix, token.Name, expiresAt, token.CreatedAt,
	).Scan(&token.ID)
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}
	return nil
}

// GetTokenByHash returns the token stored under hash, revoked or not
func (s *SQLStore) GetTokenByHash(ctx context.Context, hash string) (*APIToken, error) {
	query := `
		SELECT id, user_id, token_hash, token_prefix, name, expires_at, last_used_at, created_at, revoked_at
		FROM api_tokens
		WHERE token_hash = $1
	`

	var t APIToken
	var expiresAt, lastUsedAt, revokedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, hash).Scan(
		&t.ID, &t.UserID, &t.TokenHash, &t.TokenPrefix, &t.Name,
		&expiresAt, &lastUsedAt, &t.CreatedAt, &revokedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("token: %w", rbac.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	t.ExpiresAt = nullTimePtr(expiresAt)
	t.LastUsedAt = nullTimePtr(lastUsedAt)
	t.RevokedAt = nullTimePtr(revokedAt)
	return &t, nil
}

// TouchToken records a use of the token
func (s *SQLStore) TouchToken(ctx context.Context, id int64, at time.Time) error {
	return s.execAffectingOne(ctx, "UPDATE api_tokens SET last_used_at = $1 WHERE id = $2", at, id)
}

// RevokeToken marks the token revoked; revoking twice keeps the first time
func (s *SQLStore) RevokeToken(ctx context.Context, id int64, at time.Time) error {
	return s.execAffectingOne(ctx,
		"UPDATE api_tokens SET revoked_at = COALESCE(revoked_at, $1) WHERE id = $2", at, id)
}

func (s *SQLStore) execAffectingOne(ctx context.Context, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
