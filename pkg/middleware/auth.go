package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/platinummonkey/crew/pkg/auth"
	"github.com/platinummonkey/crew/pkg/contextkeys"
	"github.com/platinummonkey/crew/pkg/httputil"
	"github.com/platinummonkey/crew/pkg/observability"
)

// Reasons passed to the failure hook
const (
	FailureMissingHeader   = "missing_header"
	FailureMalformedHeader = "malformed_header"
	FailureInvalidToken    = "invalid_token"
	FailureLookupError     = "lookup_error"
)

// TokenValidator resolves a bearer token; auth.TokenStore implements it
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.APIToken, error)
}

// AuthMiddleware resolves "Authorization: Bearer <token>" into an auth.AuthContext.
// A present but bad credential is always rejected. With optional set, requests
// carrying no credential pass through anonymously.
type AuthMiddleware struct {
	validator TokenValidator
	optional  bool
	onFailure func(reason string)
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(validator TokenValidator, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		optional:  optional,
	}
}

// OnFailure registers fn to be called with one of the Failure reasons
func (m *AuthMiddleware) OnFailure(fn func(reason string)) *AuthMiddleware {
	m.onFailure = fn
	return m
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			m.reject(w, FailureMissingHeader, "missing authorization header")
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			m.reject(w, FailureMalformedHeader, "invalid authorization header format")
			return
		}

		apiToken, err := m.validator.ValidateToken(r.Context(), token)
		switch {
		case errors.Is(err, auth.ErrInvalidToken):
			m.reject(w, FailureInvalidToken, "invalid or expired token")
			return
		case err != nil:
			m.fail(FailureLookupError)
			observability.FromContext(r.Context()).WithError(err).Error("Token lookup failed")
			httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "authentication temporarily unavailable")
			return
		}

		ctx := contextkeys.WithAuth(r.Context(), &auth.AuthContext{
			UserID: apiToken.UserID,
			Token:  apiToken,
		})
		ctx = contextkeys.WithUserID(ctx, apiToken.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) fail(reason string) {
	if m.onFailure != nil {
		m.onFailure(reason)
	}
}

func (m *AuthMiddleware) reject(w http.ResponseWriter, reason, message string) {
	m.fail(reason)
	w.Header().Set("WWW-Authenticate", `Bearer realm="crew"`)
	httputil.WriteUnauthorized(w, message)
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	authCtx, ok := r.Context().Value(contextkeys.AuthKey).(*auth.AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}

// WithAuthContext returns a copy of r carrying authCtx, for tests and internal callers
func WithAuthContext(r *http.Request, authCtx *auth.AuthContext) *http.Request {
	return r.WithContext(contextkeys.WithAuth(r.Context(), authCtx))
}
