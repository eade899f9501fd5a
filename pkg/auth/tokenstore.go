package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TokenStore issues and validates API tokens kept in the api_tokens table
type TokenStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewTokenStore creates a new token store
func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Issue creates a token for a user. The raw token is returned once and never stored.
// A zero ttl issues a token that does not expire.
func (s *TokenStore) Issue(ctx context.Context, userID int64, name string, ttl time.Duration) (string, *APIToken, error) {
	if name == "" {
		return "", nil, fmt.Errorf("token name is required")
	}

	minted, err := mintToken()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}

	now := s.now()
	token := &APIToken{
		UserID:      userID,
		TokenHash:   minted.hash,
		TokenPrefix: minted.display,
		Name:        name,
		CreatedAt:   now,
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		token.ExpiresAt = &expires
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO api_tokens (user_id, token_hash, token_prefix, name, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, token.UserID, token.TokenHash, token.TokenPrefix, token.Name, token.ExpiresAt, token.CreatedAt).Scan(&token.ID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to store token: %w", err)
	}

	return minted.raw, token, nil
}

// Authenticate validates a raw token and loads its user
func (s *TokenStore) Authenticate(ctx context.Context, credential string) (*AuthContext, error) {
	if err := parseToken(credential); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	var token APIToken
	var user User
	var expiresAt, revokedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT t.id, t.user_id, t.token_prefix, t.name, t.expires_at, t.created_at, t.revoked_at,
			u.id, u.username, u.is_active
		FROM api_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token_hash = $1
	`, hashToken(credential)).Scan(
		&token.ID, &token.UserID, &token.TokenPrefix, &token.Name, &expiresAt, &token.CreatedAt, &revokedAt,
		&user.ID, &user.Username, &user.IsActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	now := s.now()
	if revokedAt.Valid {
		return nil, fmt.Errorf("%w: token revoked", ErrInvalidCredentials)
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		token.ExpiresAt = &t
		if !now.Before(t) {
			return nil, fmt.Errorf("%w: token expired", ErrInvalidCredentials)
		}
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: user inactive", ErrInvalidCredentials)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE api_tokens SET last_used_at = $1 WHERE id = $2`, now, token.ID); err != nil {
		return nil, fmt.Errorf("failed to record token use: %w", err)
	}
	token.LastUsedAt = &now

	return &AuthContext{User: &user, Token: &token, Method: MethodToken}, nil
}

// Revoke marks a token revoked
func (s *TokenStore) Revoke(ctx context.Context, tokenID int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE api_tokens SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`,
		s.now(), tokenID,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("token %d not found or already revoked", tokenID)
	}
	return nil
}
