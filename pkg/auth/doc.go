// Package auth identifies the caller of an administration request.
//
// # Overview
//
// The permission core only needs to know who is acting. This package maps a
// bearer credential to a user row through one of two authenticators:
//
// API tokens: opaque random tokens issued by warden-cli and stored as SHA-256
// hashes in the api_tokens table.
//
//	store := auth.NewTokenStore(db)
//	raw, token, err := store.Issue(ctx, userID, "bootstrap", 90*24*time.Hour)
//	// raw format: wdn_[base64url(32 random bytes)]
//
// OIDC ID tokens: verified against the issuer's keys; the preferred_username
// claim selects the user.
//
//	oidcAuth, err := auth.NewOIDCAuthenticator(ctx, issuerURL, clientID, db)
//
// ChainAuthenticator picks the token store for wdn_ credentials and OIDC for
// everything else.
//
// # Related Packages
//
//   - pkg/middleware: attaches the AuthContext to requests
//   - pkg/rbac: resolves what the authenticated user may do
package auth
