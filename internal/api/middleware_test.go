package api

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAccessToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		token, err := NewAccessToken()
		require.NoError(t, err)

		raw, err := base64.RawURLEncoding.DecodeString(token)
		require.NoError(t, err, "token must be unpadded url-safe base64")
		assert.Len(t, raw, accessTokenBytes)
		assert.False(t, seen[token], "token %q generated twice", token)
		seen[token] = true

		assert.NoError(t, CheckAccessToken(token))
	}
}

func TestCheckAccessToken(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr string
	}{
		{"minimum length", "12345678", ""},
		{"symbols", "a-b_c.d~e!f@", ""},
		{"empty", "", "at least 8 characters"},
		{"too short", "1234567", "at least 8 characters"},
		{"space", "abcd efgh", "whitespace"},
		{"tab", "abcd\tefgh", "whitespace"},
		{"newline", "abcdefgh\n", "whitespace"},
		{"unicode space", "abcd\u00a0efgh", "whitespace"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckAccessToken(tt.token)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNewServerRejectsBadToken(t *testing.T) {
	s := newTestServer(t, "")
	_, err := NewServer(&ServerOptions{Gateway: s.gateway, AccessToken: "short"})
	assert.ErrorContains(t, err, "invalid access token")
}
