package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/crew/pkg/auth"
	"github.com/platinummonkey/crew/pkg/httputil"
	"github.com/platinummonkey/crew/pkg/middleware"
	"github.com/platinummonkey/crew/pkg/projects"
	"github.com/platinummonkey/crew/pkg/rbac"
)

// Server owns the API router
type Server struct {
	router   *mux.Router
	projects *ProjectHandlers
	tokens   *TokenHandlers
}

// NewServer registers every API route on a fresh router. checker should read
// through the caches; the service re-checks inside its own transactions.
func NewServer(service *projects.Service, checker *rbac.Checker, gates *rbac.PermissionMiddleware, tokens *auth.TokenStore) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		projects: NewProjectHandlers(service, checker, gates),
		tokens:   NewTokenHandlers(tokens),
	}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "route not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.projects.RegisterRoutes(s.router)
	s.tokens.RegisterRoutes(s.router)
	return s
}

// Router exposes the router so callers can install middleware with Use
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// actorID returns the authenticated user, or writes 401
func actorID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return 0, false
	}
	return authCtx.UserID, true
}
