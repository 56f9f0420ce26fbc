package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testService(t *testing.T) *Service {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	svc, err := NewService(Config{JWTSecret: "test-secret", TokenExpiry: "1h"}, []UserConfig{
		{Username: "alice", PasswordHash: string(hash)},
	})
	require.NoError(t, err)
	return svc
}

func TestNewService(t *testing.T) {
	_, err := NewService(Config{}, nil)
	assert.Error(t, err)

	_, err = NewService(Config{JWTSecret: "x", TokenExpiry: "forever"}, nil)
	assert.ErrorContains(t, err, "invalid token_expiry")

	svc, err := NewService(Config{JWTSecret: "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int(DefaultTokenExpiry.Seconds()), svc.ExpirySeconds())
}

func TestLogin(t *testing.T) {
	svc := testService(t)

	token, user, err := svc.Login("alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "user", user.Role)

	got, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	_, _, err = svc.Login("alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Login("mallory", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.VerifyPassword("alice", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateTokenRejects(t *testing.T) {
	svc := testService(t)

	t.Run("expired", func(t *testing.T) {
		token, err := svc.GenerateToken(&User{Username: "alice"})
		require.NoError(t, err)
		svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { svc.now = time.Now }()
		_, err = svc.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "alice", "exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte("other"))
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unsigned", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "alice"}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unknown user", func(t *testing.T) {
		token, err := svc.GenerateToken(&User{Username: "ghost"})
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
		assert.ErrorContains(t, err, "no longer exists")
	})

	t.Run("missing subject", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte("test-secret"))
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
		assert.ErrorContains(t, err, "missing sub claim")
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.ValidateToken("not.a.jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestMiddleware(t *testing.T) {
	svc := testService(t)
	token, _, err := svc.Login("alice", "s3cret")
	require.NoError(t, err)

	h := Middleware(svc, http.HandlerFunc(MeHandler))

	tests := []struct {
		name   string
		target string
		header string
		status int
	}{
		{"bearer header", "/auth/me", "Bearer " + token, http.StatusOK},
		{"query token", "/auth/me?token=" + token, "", http.StatusOK},
		{"missing", "/auth/me", "", http.StatusUnauthorized},
		{"bad scheme", "/auth/me", "Basic abc", http.StatusUnauthorized},
		{"garbage", "/auth/me", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusUnauthorized {
				assert.JSONEq(t, `{"error":"Not authenticated"}`, rec.Body.String())
			} else {
				assert.JSONEq(t, `{"username":"alice","role":"user"}`, rec.Body.String())
			}
		})
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	h := Middleware(nil, http.HandlerFunc(MeHandler))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/me", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"username":"local","role":"admin"}`, rec.Body.String())
}

func TestLoginHandler(t *testing.T) {
	svc := testService(t)
	h := Middleware(svc, LoginHandler(svc))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"username":"alice","password":"s3cret"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.AccessToken)
	assert.Equal(t, 3600, body.ExpiresIn)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"username":"alice","password":"nope"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHashPassword(t *testing.T) {
	h, err := HashPassword("pw")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(h), []byte("pw")))
}
