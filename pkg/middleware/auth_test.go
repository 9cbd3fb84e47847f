package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/platinummonkey/crew/pkg/auth"
	"github.com/platinummonkey/crew/pkg/contextkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubValidator map[string]*auth.APIToken

func (v stubValidator) ValidateToken(_ context.Context, token string) (*auth.APIToken, error) {
	if t, ok := v[token]; ok {
		return t, nil
	}
	return nil, auth.ErrInvalidToken
}

var validTokens = stubValidator{
	"crew_good": {ID: 1, UserID: 42, TokenPrefix: "crew_goo", Name: "ci"},
}

func serve(t *testing.T, m *AuthMiddleware, header string) (*httptest.ResponseRecorder, *auth.AuthContext, bool) {
	t.Helper()
	var seen *auth.AuthContext
	called := false
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		seen = GetAuthContext(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/projects/1/members", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w, seen, called
}

func TestAuthMiddleware_Handler(t *testing.T) {
	tests := []struct {
		name       string
		optional   bool
		header     string
		wantStatus int
		wantCalled bool
		wantUser   int64
		wantError  string
	}{
		{"missing header required", false, "", http.StatusUnauthorized, false, 0, "missing authorization header"},
		{"missing header optional", true, "", http.StatusOK, true, 0, ""},
		{"wrong scheme", false, "Basic Zm9vOmJhcg==", http.StatusUnauthorized, false, 0, "invalid authorization header format"},
		{"no token", false, "Bearer", http.StatusUnauthorized, false, 0, "invalid authorization header format"},
		{"unknown token", false, "Bearer crew_bad", http.StatusUnauthorized, false, 0, "invalid or expired token"},
		{"unknown token optional still rejected", true, "Bearer crew_bad", http.StatusUnauthorized, false, 0, "invalid or expired token"},
		{"valid token", false, "Bearer crew_good", http.StatusOK, true, 42, ""},
		{"scheme is case insensitive", false, "bearer crew_good", http.StatusOK, true, 42, ""},
		{"blank token", false, "Bearer   ", http.StatusUnauthorized, false, 0, "invalid authorization header format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, authCtx, called := serve(t, NewAuthMiddleware(validTokens, tt.optional), tt.header)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCalled, called)
			if tt.wantError != "" {
				assert.JSONEq(t, `{"error":"`+tt.wantError+`"}`, w.Body.String())
				assert.Equal(t, `Bearer realm="crew"`, w.Header().Get("WWW-Authenticate"))
			}
			if tt.wantUser != 0 {
				require.NotNil(t, authCtx)
				assert.Equal(t, tt.wantUser, authCtx.UserID)
				assert.Equal(t, "ci", authCtx.Token.Name)
			} else if called {
				assert.Nil(t, authCtx)
			}
		})
	}
}

func TestAuthMiddleware_SetsUserID(t *testing.T) {
	m := NewAuthMiddleware(validTokens, false)
	var userID int64
	var ok bool
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok = contextkeys.GetUserID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer crew_good")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, ok)
	assert.Equal(t, int64(42), userID)
}

func TestGetAuthContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, GetAuthContext(req))

	req = WithAuthContext(req, &auth.AuthContext{UserID: 7})
	require.NotNil(t, GetAuthContext(req))
	assert.Equal(t, int64(7), GetAuthContext(req).UserID)

	wrongType := req.WithContext(contextkeys.WithAuth(req.Context(), "not an auth context"))
	assert.Nil(t, GetAuthContext(wrongType))
}

type brokenValidator struct{}

func (brokenValidator) ValidateToken(context.Context, string) (*auth.APIToken, error) {
	return nil, errors.New("connection refused")
}

func TestAuthMiddleware_LookupError(t *testing.T) {
	var reasons []string
	m := NewAuthMiddleware(brokenValidator{}, true).OnFailure(func(reason string) {
		reasons = append(reasons, reason)
	})

	w, _, called := serve(t, m, "Bearer crew_good")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.False(t, called)
	assert.Empty(t, w.Header().Get("WWW-Authenticate"))
	assert.Equal(t, []string{FailureLookupError}, reasons)
}

func TestAuthMiddleware_FailureReasons(t *testing.T) {
	var reasons []string
	m := NewAuthMiddleware(validTokens, false).OnFailure(func(reason string) {
		reasons = append(reasons, reason)
	})

	serve(t, m, "")
	serve(t, m, "Token abc")
	serve(t, m, "Bearer crew_bad")
	serve(t, m, "Bearer crew_good")

	assert.Equal(t, []string{FailureMissingHeader, FailureMalformedHeader, FailureInvalidToken}, reasons)
}
