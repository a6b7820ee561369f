package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskrelay/taskrelay/config"
	"github.com/taskrelay/taskrelay/types"
)

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := SecurityHeaders()(inner)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "1; mode=block", w.Header().Get("X-XSS-Protection"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestRequestIDInjectsContext(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = types.RequestID(r.Context())
	})

	handler := Chain(inner, SecurityHeaders(), RequestID())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, w.Header().Get("X-Request-ID"), seen)
}

func TestRequestIDPreservesClientID(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	handler := RequestID()(inner)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "req-fixed")
	handler.ServeHTTP(w, r)

	assert.Equal(t, "req-fixed", w.Header().Get("X-Request-ID"))
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/api/v1/chain": "/api/v1/chain",
		"/api/v1/tasks": "/api/v1/tasks",
		"/api/v1/tasks/0f8fad5b-d9cb-469f-a165-70867728950e":          "/api/v1/tasks/:id",
		"/api/v1/tasks/0f8fad5b-d9cb-469f-a165-70867728950e/transfer": "/api/v1/tasks/:id/transfer",
		"/api/v1/collaborators/12345/next":                            "/api/v1/collaborators/:id/next",
		"/api/v1/collaborators/alice/next":                            "/api/v1/collaborators/alice/next",
		"/healthz":                                                    "/healthz",
	}
	for path, want := range cases {
		assert.Equal(t, want, normalizePath(path), path)
	}
}

func signedToken(t *testing.T, secret, sub, role string, expiry time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  sub,
		"role": role,
		"exp":  time.Now().Add(expiry).Unix(),
		"iss":  "taskrelay",
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestJWTAuthInjectsActor(t *testing.T) {
	cfg := config.AuthConfig{JWTSecret: "test-secret", Issuer: "taskrelay"}

	var gotID string
	var gotRole types.Role
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = types.ActorID(r.Context())
		gotRole, _ = types.ActorRole(r.Context())
	})
	handler := JWTAuth(cfg, nil, zap.NewNop())(inner)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/chain", nil)
	r.Header.Set("Authorization", "Bearer "+signedToken(t, "test-secret", "alice", "collaborator", time.Hour))
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", gotID)
	assert.Equal(t, types.RoleCollaborator, gotRole)
}

func TestJWTAuthRejectsBadSignature(t *testing.T) {
	cfg := config.AuthConfig{JWTSecret: "test-secret"}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	})
	handler := JWTAuth(cfg, nil, zap.NewNop())(inner)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/chain", nil)
	r.Header.Set("Authorization", "Bearer "+signedToken(t, "wrong-secret", "alice", "collaborator", time.Hour))
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuthRejectsExpiredToken(t *testing.T) {
	cfg := config.AuthConfig{JWTSecret: "test-secret"}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	})
	handler := JWTAuth(cfg, nil, zap.NewNop())(inner)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/chain", nil)
	r.Header.Set("Authorization", "Bearer "+signedToken(t, "test-secret", "alice", "collaborator", -time.Hour))
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuthRejectsUnknownRole(t *testing.T) {
	cfg := config.AuthConfig{JWTSecret: "test-secret"}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	})
	handler := JWTAuth(cfg, nil, zap.NewNop())(inner)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/chain", nil)
	r.Header.Set("Authorization", "Bearer "+signedToken(t, "test-secret", "alice", "superuser", time.Hour))
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuthSkipsHealthPaths(t *testing.T) {
	cfg := config.AuthConfig{JWTSecret: "test-secret"}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := JWTAuth(cfg, []string{"/healthz"}, zap.NewNop())(inner)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
}
