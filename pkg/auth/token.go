package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// TokenPrefix marks a bearer credential as a warden API token
	TokenPrefix = "wdn_"
	// TokenBytes is the amount of entropy in a token
	TokenBytes = 32

	displayChars = 8
)

var tokenEncoding = base64.RawURLEncoding

// mintedToken is a freshly generated credential. Only hash and display are persisted.
type mintedToken struct {
	raw     string
	hash    string
	display string
}

func mintToken() (mintedToken, error) {
	secret := make([]byte, TokenBytes)
	if _, err := rand.Read(secret); err != nil {
		return mintedToken{}, fmt.Errorf("failed to read random bytes: %w", err)
	}

	raw := TokenPrefix + tokenEncoding.EncodeToString(secret)
	return mintedToken{raw: raw, hash: hashToken(raw), display: DisplayPrefix(raw)}, nil
}

// hashToken is the lookup key stored in api_tokens.token_hash
func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// parseToken rejects anything that could not have been produced by mintToken,
// so malformed credentials never reach the database.
func parseToken(raw string) error {
	body, ok := strings.CutPrefix(raw, TokenPrefix)
	if !ok {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}
	if body == "" {
		return fmt.Errorf("token body is empty")
	}

	secret, err := tokenEncoding.DecodeString(body)
	if err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}
	if len(secret) != TokenBytes {
		return fmt.Errorf("token carries %d bytes, want %d", len(secret), TokenBytes)
	}
	return nil
}

// DisplayPrefix returns the non-secret part of a token shown in listings
func DisplayPrefix(raw string) string {
	body, ok := strings.CutPrefix(raw, TokenPrefix)
	if !ok {
		return ""
	}
	if len(body) > displayChars {
		body = body[:displayChars]
	}
	return TokenPrefix + body
}
