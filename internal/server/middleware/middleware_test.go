package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return raw
}

func ownerEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, _ := OwnerID(r.Context())
		w.Write([]byte(owner))
	})
}

func TestAuth(t *testing.T) {
	h := Auth(testSecret)(ownerEcho())
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid token", "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "user-1", "exp": exp}), http.StatusOK, "user-1"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"not bearer", "Basic abc", http.StatusUnauthorized, ""},
		{"wrong secret", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "user-1", "exp": exp}), http.StatusUnauthorized, ""},
		{"expired", "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(-time.Minute).Unix()}), http.StatusUnauthorized, ""},
		{"no exp", "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "user-1"}), http.StatusUnauthorized, ""},
		{"empty sub", "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"exp": exp}), http.StatusUnauthorized, ""},
		{"wrong alg", "Bearer " + signToken(t, jwt.SigningMethodHS512, testSecret, jwt.MapClaims{"sub": "user-1", "exp": exp}), http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestArgon2id(t *testing.T) {
	hash, err := HashArgon2id("s3cret")
	require.NoError(t, err)

	assert.True(t, VerifyArgon2id("s3cret", hash))
	assert.False(t, VerifyArgon2id("wrong", hash))
	assert.False(t, VerifyArgon2id("s3cret", "not-a-hash"))
	assert.False(t, VerifyArgon2id("s3cret", "$argon2id$v=19$m=65536,t=0,p=2$c2FsdA$aGFzaA"))
}

func TestAdminKey(t *testing.T) {
	hash, err := HashArgon2id("admin-key")
	require.NoError(t, err)
	h := AdminKey(hash)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, tc := range []struct {
		key    string
		status int
	}{
		{"admin-key", http.StatusNoContent},
		{"guess", http.StatusForbidden},
		{"", http.StatusUnauthorized},
	} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if tc.key != "" {
			req.Header.Set(AdminKeyHeader, tc.key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tc.status, rec.Code, "key %q", tc.key)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "keys are independent")

	now = now.Add(time.Minute + time.Second)
	assert.True(t, rl.Allow("a"), "window slides")
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Close()
	h := rl.Middleware(ownerEcho())

	call := func(owner string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if owner != "" {
			req = req.WithContext(WithOwnerID(req.Context(), owner))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("alice"))
	assert.Equal(t, http.StatusTooManyRequests, call("alice"))
	assert.Equal(t, http.StatusOK, call("bob"))
	assert.Equal(t, http.StatusOK, call(""), "anonymous falls back to client ip")
	assert.Equal(t, http.StatusTooManyRequests, call(""))
}

func TestRecover(t *testing.T) {
	h := Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
