package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCAuthenticator accepts ID tokens from an OpenID Connect issuer and maps
// the preferred_username claim to a user row
type OIDCAuthenticator struct {
	verifier *oidc.IDTokenVerifier
	db       *sql.DB
}

// NewOIDCAuthenticator discovers the issuer and builds a verifier for clientID
func NewOIDCAuthenticator(ctx context.Context, issuerURL, clientID string, db *sql.DB) (*OIDCAuthenticator, error) {
	if issuerURL == "" || clientID == "" {
		return nil, fmt.Errorf("OIDC issuer URL and client ID are required")
	}

	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	return NewOIDCAuthenticatorWithVerifier(provider.Verifier(&oidc.Config{ClientID: clientID}), db), nil
}

// NewOIDCAuthenticatorWithVerifier uses an existing verifier
func NewOIDCAuthenticatorWithVerifier(verifier *oidc.IDTokenVerifier, db *sql.DB) *OIDCAuthenticator {
	return &OIDCAuthenticator{verifier: verifier, db: db}
}

type idClaims struct {
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
}

// Authenticate verifies an ID token and loads the matching active user
func (a *OIDCAuthenticator) Authenticate(ctx context.Context, credential string) (*AuthContext, error) {
	idToken, err := a.verifier.Verify(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	var claims idClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse claims: %v", ErrInvalidCredentials, err)
	}

	username := claims.PreferredUsername
	if username == "" {
		username = claims.Email
	}
	if username == "" {
		return nil, fmt.Errorf("%w: token has no username claim", ErrInvalidCredentials)
	}

	var user User
	err = a.db.QueryRowContext(ctx,
		`SELECT id, username, is_active FROM users WHERE username = $1`, username,
	).Scan(&user.ID, &user.Username, &user.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: unknown user %q", ErrInvalidCredentials, username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: user inactive", ErrInvalidCredentials)
	}

	return &AuthContext{User: &user, Method: MethodOIDC}, nil
}
