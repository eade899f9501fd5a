package auth

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidCredentials is returned for unknown, expired, revoked or malformed credentials
var ErrInvalidCredentials = errors.New("invalid credentials")

// Authentication methods
const (
	MethodToken = "token"
	MethodOIDC  = "oidc"
)

// User is the authenticated principal
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	IsActive bool   `json:"is_active"`
}

// APIToken represents an API token
type APIToken struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	TokenHash   string     `json:"-"` // Never expose hash
	TokenPrefix string     `json:"token_prefix"`
	Name        string     `json:"name"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

// AuthContext holds authenticated user information
type AuthContext struct {
	User   *User
	Token  *APIToken
	Method string
}

// UserID returns the authenticated user's ID, or 0 when unauthenticated
func (ac *AuthContext) UserID() int64 {
	if ac == nil || ac.User == nil {
		return 0
	}
	return ac.User.ID
}

// Authenticator maps a bearer credential to an AuthContext
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (*AuthContext, error)
}
