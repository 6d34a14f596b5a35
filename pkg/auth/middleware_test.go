package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareRejectsMissingHeader(t *testing.T) {
	handler := NewMiddleware(NewVerifier(testSecret))(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/abc", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestMiddlewareRejectsMalformedHeader(t *testing.T) {
	handler := NewMiddleware(NewVerifier(testSecret))(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/abc", nil)
	req.Header.Set("Authorization", "Token abc123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareAcceptsValidToken(t *testing.T) {
	var got *Principal
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := GetPrincipal(r.Context())
		require.NoError(t, err)
		got = p
		w.WriteHeader(http.StatusOK)
	})
	handler := NewMiddleware(NewVerifier(testSecret))(inner)

	token := signToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: "acme",
		Roles:    []string{RoleAuditor},
	})
	req := httptest.NewRequest(http.MethodGet, "/v1/audit/verify", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "user-7", got.ID)
	require.Equal(t, "acme", got.TenantID)
}

func TestMiddlewareRejectsExpiredToken(t *testing.T) {
	handler := NewMiddleware(NewVerifier(testSecret))(okHandler())

	token := signToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/abc", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRejectsMissingSubject(t *testing.T) {
	handler := NewMiddleware(NewVerifier(testSecret))(okHandler())

	token := signToken(t, Claims{TenantID: "acme"})
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/abc", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewarePublicPathSkipsAuth(t *testing.T) {
	handler := NewMiddleware(NewVerifier(testSecret))(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestNilVerifierInjectsLocalAdmin(t *testing.T) {
	var got *Principal
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = GetPrincipal(r.Context())
	})
	handler := NewMiddleware(nil)(inner)

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/abc", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, got)
	require.True(t, got.HasRole(RoleAuditor), "admin passes every role check")
}

func TestRequireRoles(t *testing.T) {
	protected := RequireRoles(RoleAdmin, RoleAuditor)(okHandler())

	t.Run("no principal", func(t *testing.T) {
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/events", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong role", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/audit/events", nil)
		req = req.WithContext(WithPrincipal(req.Context(), &Principal{ID: "u", Roles: []string{RoleViewer}}))
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("matching role", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/audit/events", nil)
		req = req.WithContext(WithPrincipal(req.Context(), &Principal{ID: "u", Roles: []string{RoleAuditor}}))
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRequestIDMiddleware(t *testing.T) {
	var got string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetRequestID(r.Context())
	})
	handler := RequestIDMiddleware(inner)

	t.Run("generates id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.NotEmpty(t, got)
		require.Equal(t, got, rec.Header().Get("X-Request-ID"))
	})

	t.Run("reuses client id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "client-42")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, "client-42", got)
		require.Equal(t, "client-42", rec.Header().Get("X-Request-ID"))
	})
}
