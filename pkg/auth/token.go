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
	// TokenPrefix starts every hrcore bearer token
	TokenPrefix = "hrc_"
	// tokenBytes is the entropy of a token (32 bytes = 256 bits)
	tokenBytes = 32
	// sessionChars of the encoded part, after TokenPrefix, form the session key
	sessionChars = 8
)

// generated is a fresh token; raw is handed to the client once
type generated struct {
	raw        string
	hash       string
	sessionKey string
}

// newToken creates hrc_<base64url(32 random bytes)>
func newToken() (generated, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return generated{}, fmt.Errorf("failed to generate random bytes: %w", err)
	}

	raw := TokenPrefix + base64.RawURLEncoding.EncodeToString(buf)
	return generated{
		raw:        raw,
		hash:       HashToken(raw),
		sessionKey: SessionKey(raw),
	}, nil
}

// HashToken returns the hex SHA256 of a token, the form stored and looked up
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// SessionKey returns the public prefix identifying a token in logs and
// audit entries, or "" for a foreign token
func SessionKey(raw string) string {
	encoded, ok := strings.CutPrefix(raw, TokenPrefix)
	if !ok {
		return ""
	}
	if len(encoded) > sessionChars {
		encoded = encoded[:sessionChars]
	}
	return TokenPrefix + encoded
}

// checkFormat rejects tokens that could not have been issued here
func checkFormat(raw string) error {
	encoded, ok := strings.CutPrefix(raw, TokenPrefix)
	if !ok {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}
	if encoded == "" {
		return fmt.Errorf("token is too short")
	}
	if _, err := base64.RawURLEncoding.DecodeString(encoded); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}
	return nil
}
