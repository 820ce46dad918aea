package auth

import (
	"strings"
	"testing"
)

func TestNewToken(t *testing.T) {
	tok, err := newToken()
	if err != nil {
		t.Fatalf("newToken() error = %v", err)
	}

	if !strings.HasPrefix(tok.raw, TokenPrefix) {
		t.Errorf("token should start with %q, got %q", TokenPrefix, tok.raw)
	}

	// SHA256 = 64 hex chars
	if len(tok.hash) != 64 {
		t.Errorf("hash length = %d, want 64", len(tok.hash))
	}
	if tok.hash != HashToken(tok.raw) {
		t.Error("hash should be the SHA256 of the raw token")
	}

	if len(tok.sessionKey) != len(TokenPrefix)+sessionChars {
		t.Errorf("session key length = %d, want %d", len(tok.sessionKey), len(TokenPrefix)+sessionChars)
	}
	if err := checkFormat(tok.raw); err != nil {
		t.Errorf("generated token failed format check: %v", err)
	}
}

func TestNewToken_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := newToken()
		if err != nil {
			t.Fatalf("newToken() error = %v", err)
		}
		if seen[tok.hash] {
			t.Fatalf("duplicate token generated: %s", tok.raw)
		}
		seen[tok.hash] = true
	}
}

func TestCheckFormat(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid token", "hrc_abc123def456", false},
		{"missing prefix", "abc123def456", true},
		{"wrong prefix", "tok_abc123def456", true},
		{"empty token part", "hrc_", true},
		{"invalid base64", "hrc_!!!invalid!!!", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkFormat(tt.token)
			if (err != nil) != tt.wantErr {
				t.Errorf("checkFormat() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSessionKey(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{"hrc_abc123def456", "hrc_abc123de"},
		{"hrc_abc", "hrc_abc"},
		{"invalid", ""},
	}

	for _, tt := range tests {
		if got := SessionKey(tt.token); got != tt.want {
			t.Errorf("SessionKey(%q) = %q, want %q", tt.token, got, tt.want)
		}
	}
}
