package contextkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", GetRequestID(ctx))

	ctx = WithRequestID(ctx, "req-1")
	assert.Equal(t, "req-1", GetRequestID(ctx))
}

func TestSessionKey(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", GetSessionKey(ctx))

	ctx = WithSessionKey(ctx, "hrc_abcd")
	assert.Equal(t, "hrc_abcd", GetSessionKey(ctx))

	// a value of the wrong type under the key reads as empty
	ctx = context.WithValue(context.Background(), SessionKey, 42)
	assert.Equal(t, "", GetSessionKey(ctx))
}
