package rbac

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/crew/pkg/httputil"
	"github.com/platinummonkey/crew/pkg/middleware"
)

// DecisionObserver records the outcome of each gate; observability.Metrics implements it
type DecisionObserver interface {
	AuthzDecision(check string, allowed bool)
}

// PermissionMiddleware gates project routes on the caller's effective permissions.
// Routes must carry a {projectID} path variable.
type PermissionMiddleware struct {
	checker  *Checker
	observer DecisionObserver
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(checker *Checker, observer DecisionObserver) *PermissionMiddleware {
	return &PermissionMiddleware{
		checker:  checker,
		observer: observer,
	}
}

// RequirePermission requires perm in the route's project
func (pm *PermissionMiddleware) RequirePermission(perm Permission) func(http.Handler) http.Handler {
	return pm.gate("permission", func(r *http.Request, userID, projectID int64) bool {
		return pm.checker.HasPermission(r.Context(), userID, projectID, perm)
	})
}

// RequireAnyPermission requires at least one of perms
func (pm *PermissionMiddleware) RequireAnyPermission(perms ...Permission) func(http.Handler) http.Handler {
	return pm.gate("any_permission", func(r *http.Request, userID, projectID int64) bool {
		return pm.checker.HasAnyPermission(r.Context(), userID, projectID, perms...)
	})
}

// RequireAllPermissions requires every one of perms
func (pm *PermissionMiddleware) RequireAllPermissions(perms ...Permission) func(http.Handler) http.Handler {
	return pm.gate("all_permissions", func(r *http.Request, userID, projectID int64) bool {
		return pm.checker.HasAllPermissions(r.Context(), userID, projectID, perms...)
	})
}

// RequireMember requires any relationship with the route's project
func (pm *PermissionMiddleware) RequireMember() func(http.Handler) http.Handler {
	return pm.gate("member", func(r *http.Request, userID, projectID int64) bool {
		return pm.checker.IsMember(r.Context(), userID, projectID)
	})
}

func (pm *PermissionMiddleware) gate(check string, allow func(r *http.Request, userID, projectID int64) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := middleware.GetAuthContext(r)
			if authCtx == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			projectID, err := strconv.ParseInt(mux.Vars(r)["projectID"], 10, 64)
			if err != nil || projectID <= 0 {
				httputil.WriteBadRequest(w, "invalid project id")
				return
			}

			allowed := allow(r, authCtx.UserID, projectID)
			if pm.observer != nil {
				pm.observer.AuthzDecision(check, allowed)
			}
			if !allowed {
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
