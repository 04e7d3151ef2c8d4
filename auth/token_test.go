package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOptions = TokenOptions{Exp: time.Hour, Secret: []byte("secret")}

func TestToken(t *testing.T) {
	t.Run("valid token", func(t *testing.T) {
		before := time.Now()
		token, exp, err := CreateToken("u1", "alice", testOptions)
		require.NoError(t, err)
		require.NotEmpty(t, token)
		require.True(t, exp.After(before))

		claims, err := VerifyToken(token, testOptions)
		require.NoError(t, err)
		assert.Equal(t, "u1", claims.UserID)
		assert.Equal(t, "alice", claims.UserName)
	})

	t.Run("expired token", func(t *testing.T) {
		token, _, err := CreateToken("u1", "alice", TokenOptions{Exp: -time.Minute, Secret: testOptions.Secret})
		require.NoError(t, err)
		_, err = VerifyToken(token, testOptions)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, _, err := CreateToken("u1", "alice", testOptions)
		require.NoError(t, err)
		_, err = VerifyToken(token, TokenOptions{Exp: time.Hour, Secret: []byte("other")})
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := VerifyToken("not-a-token", testOptions)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.Empty(t, TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", TokenFromRequest(r))

	// websocket upgrades cannot set headers, so the query parameter wins
	r = httptest.NewRequest(http.MethodGet, "/ws?token=xyz", nil)
	assert.Equal(t, "xyz", TokenFromRequest(r))
}

func TestMiddleware(t *testing.T) {
	var got Session
	handler := Middleware(testOptions)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = SessionFromRequest(r)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("missing token", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		token, _, err := CreateToken("u1", "alice", testOptions)
		require.NoError(t, err)

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, Session{UserID: "u1", UserName: "alice"}, got)
	})
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)
	assert.True(t, ComparePassword(hash, "s3cret"))
	assert.False(t, ComparePassword(hash, "wrong"))
}
