package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-relay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	ti := NewTokenIssuer([]byte("test-signing-key"))

	token, err := ti.Issue(types.User{Id: 7, Role: types.RoleAdmin}, time.Hour)
	require.NoError(t, err)

	claims, err := ti.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, 7, claims.UserId)
	assert.Equal(t, types.RoleAdmin, claims.Role)
	assert.WithinDuration(t, time.Now(), claims.IssuedAt, 2*time.Second)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt, 2*time.Second)
}

func TestVerify_Rejects(t *testing.T) {
	ti := NewTokenIssuer([]byte("test-signing-key"))

	expired, err := ti.Issue(types.User{Id: 1}, -time.Minute)
	require.NoError(t, err)

	otherKey, err := NewTokenIssuer([]byte("other-key")).Issue(types.User{Id: 1}, time.Hour)
	require.NoError(t, err)

	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		userIdClaim:   1,
		issuedAtClaim: time.Now().Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		issuedAtClaim: time.Now().Unix(),
		expClaim:      time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-signing-key"))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim:   1,
		issuedAtClaim: time.Now().Unix(),
	}).SignedString([]byte("test-signing-key"))
	require.NoError(t, err)

	tcases := map[string]string{
		"garbage":         "not-a-token",
		"missing expiry":  noExpiry,
		"expired":         expired,
		"wrong key":       otherKey,
		"none algorithm":  noneAlg,
		"missing user id": noUser,
	}

	for name, token := range tcases {
		t.Run(name, func(t *testing.T) {
			_, err := ti.Verify(token)
			assert.Error(t, err)
			if name == "missing expiry" {
				assert.ErrorIs(t, err, ErrInvalidToken)
			}
		})
	}
}

func TestClaims_IssuedBefore(t *testing.T) {
	issued := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := Claims{IssuedAt: issued}

	assert.True(t, c.IssuedBefore(issued.Add(time.Second)))
	assert.False(t, c.IssuedBefore(issued.Add(500*time.Millisecond)), "same second is not earlier")
	assert.False(t, c.IssuedBefore(issued.Add(-time.Hour)))
}

func TestTokenFromRequest(t *testing.T) {
	tcases := []struct {
		name     string
		setup    func(r *http.Request)
		expected string
		found    bool
	}{
		{
			name:  "none",
			setup: func(r *http.Request) {},
		},
		{
			name:     "cookie",
			setup:    func(r *http.Request) { r.AddCookie(NewTokenCookie("from-cookie", time.Hour)) },
			expected: "from-cookie",
			found:    true,
		},
		{
			name:     "bearer header",
			setup:    func(r *http.Request) { r.Header.Set("Authorization", "Bearer from-header") },
			expected: "from-header",
			found:    true,
		},
		{
			name:  "other scheme",
			setup: func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") },
		},
		{
			name: "query",
			setup: func(r *http.Request) {
				q := r.URL.Query()
				q.Set("token", "from-query")
				r.URL.RawQuery = q.Encode()
			},
			expected: "from-query",
			found:    true,
		},
		{
			name: "cookie wins",
			setup: func(r *http.Request) {
				r.AddCookie(NewTokenCookie("from-cookie", time.Hour))
				r.Header.Set("Authorization", "Bearer from-header")
			},
			expected: "from-cookie",
			found:    true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			tc.setup(req)

			token, ok := TokenFromRequest(req)
			assert.Equal(t, tc.found, ok)
			assert.Equal(t, tc.expected, token)
		})
	}
}

func TestPasswords(t *testing.T) {
	hash, err := HashPassword("password123")
	require.NoError(t, err)

	assert.NotEqual(t, "password123", hash)
	assert.True(t, VerifyPassword(hash, "password123"))
	assert.False(t, VerifyPassword(hash, "wrong-password"))
}

func TestExpiredTokenCookie(t *testing.T) {
	c := ExpiredTokenCookie()
	assert.Equal(t, TokenCookieKey, c.Name)
	assert.Empty(t, c.Value)
	assert.True(t, c.Expires.Before(time.Now()))
}
