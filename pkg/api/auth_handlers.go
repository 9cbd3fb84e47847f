package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/crew/pkg/auth"
	"github.com/platinummonkey/crew/pkg/httputil"
)

// TokenHandlers lets an authenticated user manage their own API tokens
type TokenHandlers struct {
	store *auth.TokenStore
}

// NewTokenHandlers creates token handlers
func NewTokenHandlers(store *auth.TokenStore) *TokenHandlers {
	return &TokenHandlers{store: store}
}

// RegisterRoutes registers token routes
func (h *TokenHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/tokens", h.createToken).Methods("POST")
	router.HandleFunc("/auth/tokens", h.listTokens).Methods("GET")
	router.HandleFunc("/auth/tokens/{tokenID}", h.revokeToken).Methods("DELETE")
}

// createToken handles POST /auth/tokens
func (h *TokenHandlers) createToken(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}

	var req struct {
		Name      string `json:"name"`
		ExpiresIn string `json:"expires_in,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, strings.TrimSpace(req.Name), "name") {
		return
	}

	var expiresAt *time.Time
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			httputil.WriteBadRequest(w, "expires_in must be a positive duration such as 720h")
			return
		}
		t := time.Now().UTC().Add(d)
		expiresAt = &t
	}

	apiToken, token, err := h.store.CreateToken(r.Context(), actor, req.Name, expiresAt)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httputil.WriteCreated(w, map[string]interface{}{
		"token":     token, // only returned once
		"api_token": apiToken,
	})
}

// listTokens handles GET /auth/tokens
func (h *TokenHandlers) listTokens(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}

	tokens, err := h.store.ListUserTokens(r.Context(), actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if tokens == nil {
		tokens = []*auth.APIToken{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"tokens": tokens})
}

// revokeToken handles DELETE /auth/tokens/{tokenID}
func (h *TokenHandlers) revokeToken(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	tokenID, ok := httputil.ParsePathInt64OrError(w, r, "tokenID")
	if !ok {
		return
	}

	err := h.store.RevokeToken(r.Context(), actor, tokenID)
	if errors.Is(err, auth.ErrTokenNotFound) {
		httputil.WriteErrorCode(w, http.StatusNotFound, CodeNotFound, err.Error())
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
