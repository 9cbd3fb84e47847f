package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/crew/pkg/httputil"
	"github.com/platinummonkey/crew/pkg/projects"
	"github.com/platinummonkey/crew/pkg/rbac"
)

// ProjectHandlers serves project, membership and role routes
type ProjectHandlers struct {
	service *projects.Service
	checker *rbac.Checker
	gates   *rbac.PermissionMiddleware
}

// NewProjectHandlers creates project handlers
func NewProjectHandlers(service *projects.Service, checker *rbac.Checker, gates *rbac.PermissionMiddleware) *ProjectHandlers {
	return &ProjectHandlers{
		service: service,
		checker: checker,
		gates:   gates,
	}
}

// RegisterRoutes registers project routes. Gates reject obvious denials early;
// routes whose rule depends on who the target is (self-service role changes,
// leaving) are decided by the service alone.
func (h *ProjectHandlers) RegisterRoutes(router *mux.Router) {
	member := h.gates.RequireMember()
	manage := h.gates.RequirePermission(rbac.PermMembersManage)

	router.HandleFunc("/permissions", h.listCatalog).Methods("GET")
	router.HandleFunc("/projects", h.createProject).Methods("POST")
	router.HandleFunc("/projects/{projectID}/permissions/me", h.myPermissions).Methods("GET")

	router.Handle("/projects/{projectID}/members", member(http.HandlerFunc(h.listMembers))).Methods("GET")
	router.Handle("/projects/{projectID}/members", manage(http.HandlerFunc(h.addMember))).Methods("POST")
	router.HandleFunc("/projects/{projectID}/members/{userID}/role", h.changeRole).Methods("PUT")
	router.Handle("/projects/{projectID}/members/{userID}/overrides", manage(http.HandlerFunc(h.updateOverrides))).Methods("PUT")
	router.HandleFunc("/projects/{projectID}/members/{userID}", h.removeMember).Methods("DELETE")
	router.Handle("/projects/{projectID}/leave", member(http.HandlerFunc(h.leave))).Methods("POST")

	router.Handle("/projects/{projectID}/roles", member(http.HandlerFunc(h.listRoles))).Methods("GET")
	router.Handle("/projects/{projectID}/roles/{roleID}/permissions", member(http.HandlerFunc(h.rolePermissions))).Methods("GET")

	router.Handle("/projects/{projectID}/audit", manage(http.HandlerFunc(h.listAudit))).Methods("GET")

	router.HandleFunc("/admin/users/{userID}/system-admin", h.setSystemAdmin).Methods("PUT")
}

// listCatalog handles GET /permissions
func (h *ProjectHandlers) listCatalog(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{
		"permissions": rbac.Catalog(),
	})
}

// createProject handles POST /projects
func (h *ProjectHandlers) createProject(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	project, err := h.service.CreateProject(r.Context(), actor, req.Name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, project)
}

// myPermissions handles GET /projects/{projectID}/permissions/me.
// Non-members get an empty set rather than an error.
func (h *ProjectHandlers) myPermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	projectID, ok := httputil.ParsePathInt64OrError(w, r, "projectID")
	if !ok {
		return
	}

	httputil.WriteSuccess(w, newPermissionsView(h.checker.EffectivePermissions(r.Context(), actor, projectID)))
}

// permissionsView is the decoded form of rbac.Effective. Stored permission lists
// never reach the client; only entries that survived decoding do.
type permissionsView struct {
	IsSystemAdmin bool               `json:"is_system_admin"`
	Role          *roleView          `json:"role,omitempty"`
	Overrides     []rbac.Permission  `json:"overrides,omitempty"`
	Permissions   rbac.PermissionSet `json:"permissions"`
}

type roleView struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

func newPermissionsView(eff rbac.Effective) permissionsView {
	view := permissionsView{IsSystemAdmin: eff.IsSystemAdmin, Permissions: eff.Permissions}
	if m := eff.Membership; m != nil {
		view.Role = &roleView{ID: m.Role.ID, Name: m.Role.Name, Position: m.Role.Position}
		view.Overrides = rbac.ParsePermissionList(m.Overrides).Sorted()
	}
	return view
}

// listMembers handles GET /projects/{projectID}/members
func (h *ProjectHandlers) listMembers(w http.ResponseWriter, r *http.Request) {
	actor, projectID, ok := projectRequest(w, r)
	if !ok {
		return
	}

	members, err := h.service.ListMembers(r.Context(), actor, projectID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"members": members})
}

// addMember handles POST /projects/{projectID}/members
func (h *ProjectHandlers) addMember(w http.ResponseWriter, r *http.Request) {
	actor, projectID, ok := projectRequest(w, r)
	if !ok {
		return
	}

	var req struct {
		UserID int64  `json:"user_id"`
		RoleID *int64 `json:"role_id,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID <= 0 {
		httputil.WriteBadRequest(w, "user_id is required")
		return
	}

	membership, err := h.service.AddMember(r.Context(), actor, projectID, req.UserID, req.RoleID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, membership)
}

// changeRole handles PUT /projects/{projectID}/members/{userID}/role
func (h *ProjectHandlers) changeRole(w http.ResponseWriter, r *http.Request) {
	actor, projectID, ok := projectRequest(w, r)
	if !ok {
		return
	}
	targetID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}

	var req struct {
		RoleID int64 `json:"role_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.RoleID <= 0 {
		httputil.WriteBadRequest(w, "role_id is required")
		return
	}

	membership, err := h.service.ChangeMemberRole(r.Context(), actor, projectID, targetID, req.RoleID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, membership)
}

// updateOverrides handles PUT /projects/{projectID}/members/{userID}/overrides
func (h *ProjectHandlers) updateOverrides(w http.ResponseWriter, r *http.Request) {
	actor, projectID, ok := projectRequest(w, r)
	if !ok {
		return
	}
	targetID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}

	var req struct {
		Permissions []string `json:"permissions"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	membership, err := h.service.UpdateOverrides(r.Context(), actor, projectID, targetID, req.Permissions)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, membership)
}

// removeMember handles DELETE /projects/{projectID}/members/{userID}
func (h *ProjectHandlers) removeMember(w http.ResponseWriter, r *http.Request) {
	actor, projectID, ok := projectRequest(w, r)
	if !ok {
		return
	}
	targetID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}

	if err := h.service.RemoveMember(r.Context(), actor, projectID, targetID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// leave handles POST /projects/{projectID}/leave
func (h *ProjectHandlers) leave(w http.ResponseWriter, r *http.Request) {
	actor, projectID, ok := projectRequest(w, r)
	if !ok {
		return
	}

	if err := h.service.Leave(r.Context(), actor, projectID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// listRoles handles GET /projects/{projectID}/roles
func (h *ProjectHandlers) listRoles(w http.ResponseWriter, r *http.Request) {
	actor, projectID, ok := projectRequest(w, r)
	if !ok {
		return
	}

	roles, err := h.service.ListRoles(r.Context(), actor, projectID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"roles": roles})
}

// rolePermissions handles GET /projects/{projectID}/roles/{roleID}/permissions
func (h *ProjectHandlers) rolePermissions(w http.ResponseWriter, r *http.Request) {
	actor, projectID, ok := projectRequest(w, r)
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}

	perms, err := h.service.RolePermissions(r.Context(), actor, projectID, roleID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"role_id":     roleID,
		"permissions": perms,
	})
}

// setSystemAdmin handles PUT /admin/users/{userID}/system-admin
func (h *ProjectHandlers) setSystemAdmin(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	targetID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}

	var req struct {
		IsSystemAdmin *bool `json:"is_system_admin"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.IsSystemAdmin == nil {
		httputil.WriteBadRequest(w, "is_system_admin is required")
		return
	}

	if err := h.service.SetSystemAdmin(r.Context(), actor, targetID, *req.IsSystemAdmin); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func projectRequest(w http.ResponseWriter, r *http.Request) (actor, projectID int64, ok bool) {
	if actor, ok = actorID(w, r); !ok {
		return 0, 0, false
	}
	if projectID, ok = httputil.ParsePathInt64OrError(w, r, "projectID"); !ok {
		return 0, 0, false
	}
	return actor, projectID, true
}
