package auth

import (
	"context"
	"strings"
)

// ChainAuthenticator routes API tokens to the token store and any other
// credential to the OIDC authenticator when one is configured
type ChainAuthenticator struct {
	tokens *TokenStore
	oidc   Authenticator
}

// NewChainAuthenticator creates an authenticator; oidc may be nil
func NewChainAuthenticator(tokens *TokenStore, oidc Authenticator) *ChainAuthenticator {
	return &ChainAuthenticator{tokens: tokens, oidc: oidc}
}

// Authenticate dispatches on the credential prefix
func (c *ChainAuthenticator) Authenticate(ctx context.Context, credential string) (*AuthContext, error) {
	if strings.HasPrefix(credential, TokenPrefix) || c.oidc == nil {
		return c.tokens.Authenticate(ctx, credential)
	}
	return c.oidc.Authenticate(ctx, credential)
}
