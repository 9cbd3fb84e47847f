package api

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/platinummonkey/crew/pkg/audit"
	"github.com/platinummonkey/crew/pkg/auth"
	"github.com/platinummonkey/crew/pkg/httputil"
	"github.com/platinummonkey/crew/pkg/middleware"
	"github.com/platinummonkey/crew/pkg/projects"
	"github.com/platinummonkey/crew/pkg/rbac"
	"github.com/platinummonkey/crew/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	db       *sql.DB
	server   *Server
	project  *projects.Project
	roles    map[string]int64
	sysadmin int64
	owner    int64
	admin    int64
	member   int64
	outsider int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.NewSQLiteDB(t)
	svc := projects.NewService(db)
	checker := rbac.NewChecker(rbac.NewSQLStore(db))
	gates := rbac.NewPermissionMiddleware(checker, nil)

	env := &testEnv{
		db:       db,
		server:   NewServer(svc, checker, gates, auth.NewTokenStore(db)),
		roles:    make(map[string]int64),
		sysadmin: testutil.InsertUser(t, db, "root@example.com", true),
		owner:    testutil.InsertUser(t, db, "owner@example.com", false),
		admin:    testutil.InsertUser(t, db, "admin@example.com", false),
		member:   testutil.InsertUser(t, db, "member@example.com", false),
		outsider: testutil.InsertUser(t, db, "outsider@example.com", false),
	}

	project, err := svc.CreateProject(t.Context(), env.owner, "Platform")
	require.NoError(t, err)
	env.project = project
	for _, r := range project.Roles {
		env.roles[r.Name] = r.ID
	}

	adminRole := env.roles["Admin"]
	_, err = svc.AddMember(t.Context(), env.owner, project.ID, env.admin, &adminRole)
	require.NoError(t, err)
	_, err = svc.AddMember(t.Context(), env.owner, project.ID, env.member, nil)
	require.NoError(t, err)

	return env
}

// do sends a request as actor; actor 0 sends it unauthenticated
func (e *testEnv) do(method, path string, actor int64, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if actor != 0 {
		req = middleware.WithAuthContext(req, &auth.AuthContext{UserID: actor})
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) path(format string, args ...any) string {
	return fmt.Sprintf("/projects/%d"+format, append([]any{e.project.ID}, args...)...)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[httputil.ErrorResponse](t, rec).Code
}

func TestCatalog(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("GET", "/permissions", env.member, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Permissions []string `json:"permissions"`
	}](t, rec)
	assert.Len(t, body.Permissions, len(rbac.Catalog()))
	assert.Contains(t, body.Permissions, "members.manage")
}

func TestUnauthenticated(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusUnauthorized, env.do("POST", "/projects", 0, `{"name":"x"}`).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do("GET", env.path("/members"), 0, "").Code)
	assert.Equal(t, http.StatusUnauthorized, env.do("GET", env.path("/permissions/me"), 0, "").Code)
	assert.Equal(t, http.StatusUnauthorized, env.do("GET", "/auth/tokens", 0, "").Code)
}

func TestCreateProjectHandler(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("POST", "/projects", env.outsider, `{"name":"Mobile"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	project := decode[projects.Project](t, rec)
	assert.Equal(t, "Mobile", project.Name)
	assert.Len(t, project.Roles, 4)

	assert.Equal(t, http.StatusBadRequest, env.do("POST", "/projects", env.outsider, `{"name":""}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do("POST", "/projects", env.outsider, `{"title":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do("POST", "/projects", env.outsider, `not json`).Code)
}

type permissionsBody struct {
	IsSystemAdmin bool              `json:"is_system_admin"`
	Role          *roleView         `json:"role"`
	Overrides     []rbac.Permission `json:"overrides"`
	Permissions   []rbac.Permission `json:"permissions"`
}

func TestMyPermissions(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("GET", env.path("/permissions/me"), env.owner, "")
	require.Equal(t, http.StatusOK, rec.Code)
	owner := decode[permissionsBody](t, rec)
	assert.False(t, owner.IsSystemAdmin)
	require.NotNil(t, owner.Role)
	assert.Equal(t, "Owner", owner.Role.Name)
	assert.Equal(t, env.roles["Owner"], owner.Role.ID)
	assert.Len(t, owner.Permissions, len(rbac.Catalog()))

	rec = env.do("GET", env.path("/permissions/me"), env.outsider, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"is_system_admin":false,"permissions":[]}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, env.do("GET", "/projects/abc/permissions/me", env.owner, "").Code)
}

func TestMyPermissions_HidesStoredLists(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.db.Exec(`UPDATE roles SET permissions = $1 WHERE id = $2`,
		`["tickets.create","tickets.teleport"]`, env.roles["Member"])
	require.NoError(t, err)
	_, err = env.db.Exec(`UPDATE project_memberships SET overrides = $1 WHERE user_id = $2`,
		`["labels.manage","<script>"]`, env.member)
	require.NoError(t, err)

	rec := env.do("GET", env.path("/permissions/me"), env.member, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "teleport")
	assert.NotContains(t, rec.Body.String(), "script")

	body := decode[permissionsBody](t, rec)
	require.NotNil(t, body.Role)
	assert.Equal(t, "Member", body.Role.Name)
	assert.Equal(t, []rbac.Permission{rbac.PermLabelsManage}, body.Overrides)
	assert.ElementsMatch(t, []rbac.Permission{rbac.PermTicketsCreate, rbac.PermLabelsManage}, body.Permissions)
}

func TestListMembersHandler(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("GET", env.path("/members"), env.member, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Members []projects.Member `json:"members"`
	}](t, rec)
	require.Len(t, body.Members, 3)
	assert.Equal(t, env.owner, body.Members[0].UserID)

	assert.Equal(t, http.StatusForbidden, env.do("GET", env.path("/members"), env.outsider, "").Code)
	assert.Equal(t, http.StatusOK, env.do("GET", env.path("/members"), env.sysadmin, "").Code)
}

func TestAddMemberHandler(t *testing.T) {
	env := newTestEnv(t)
	body := fmt.Sprintf(`{"user_id":%d}`, env.outsider)

	rec := env.do("POST", env.path("/members"), env.owner, body)
	require.Equal(t, http.StatusCreated, rec.Code)
	m := decode[rbac.Membership](t, rec)
	assert.Equal(t, "Member", m.Role.Name)

	rec = env.do("POST", env.path("/members"), env.owner, body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeAlreadyMember, errorCode(t, rec))

	assert.Equal(t, http.StatusForbidden, env.do("POST", env.path("/members"), env.member, body).Code)
	assert.Equal(t, http.StatusBadRequest, env.do("POST", env.path("/members"), env.owner, `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do("POST", env.path("/members"), env.owner, `{"user_id":1,"rank":2}`).Code)

	rec = env.do("POST", env.path("/members"), env.owner, `{"user_id":9999}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, errorCode(t, rec))
}

func TestChangeRoleHandler(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("PUT", env.path("/members/%d/role", env.admin), env.admin,
		fmt.Sprintf(`{"role_id":%d}`, env.roles["Owner"]))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, CodeSelfPromotion, errorCode(t, rec))

	rec = env.do("PUT", env.path("/members/%d/role", env.owner), env.owner,
		fmt.Sprintf(`{"role_id":%d}`, env.roles["Admin"]))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeLastOwner, errorCode(t, rec))

	rec = env.do("PUT", env.path("/members/%d/role", env.admin), env.owner,
		fmt.Sprintf(`{"role_id":%d}`, env.roles["Viewer"]))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Viewer", decode[rbac.Membership](t, rec).Role.Name)

	rec = env.do("PUT", env.path("/members/%d/role", env.member), env.owner, `{"role_id":9999}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, http.StatusBadRequest,
		env.do("PUT", env.path("/members/%d/role", env.member), env.owner, `{}`).Code)
}

func TestUpdateOverridesHandler(t *testing.T) {
	env := newTestEnv(t)
	path := env.path("/members/%d/overrides", env.member)

	rec := env.do("PUT", path, env.owner, `{"permissions":["tickets.archive"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidPermission, errorCode(t, rec))

	rec = env.do("PUT", path, env.owner, `{"permissions":["tickets.delete"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode[rbac.Membership](t, rec)
	require.NotNil(t, m.Overrides)
	assert.Equal(t, `["tickets.delete"]`, *m.Overrides)

	assert.Equal(t, http.StatusForbidden, env.do("PUT", path, env.member, `{"permissions":[]}`).Code)
}

func TestRemoveMemberHandler(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusForbidden,
		env.do("DELETE", env.path("/members/%d", env.owner), env.admin, "").Code)
	assert.Equal(t, http.StatusNoContent,
		env.do("DELETE", env.path("/members/%d", env.member), env.admin, "").Code)

	rec := env.do("DELETE", env.path("/members/%d", env.owner), env.sysadmin, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeLastOwner, errorCode(t, rec))
}

func TestLeaveHandler(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusNoContent, env.do("POST", env.path("/leave"), env.member, "").Code)
	assert.Equal(t, http.StatusForbidden, env.do("POST", env.path("/leave"), env.member, "").Code)

	rec := env.do("POST", env.path("/leave"), env.owner, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeLastOwner, errorCode(t, rec))
}

func TestRolesHandlers(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("GET", env.path("/roles"), env.member, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Roles []projects.RoleSummary `json:"roles"`
	}](t, rec)
	assert.Len(t, body.Roles, 4)

	rec = env.do("GET", env.path("/roles/%d/permissions", env.roles["Viewer"]), env.member, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"role_id":%d,"permissions":["reports.view"]}`, env.roles["Viewer"]), rec.Body.String())

	assert.Equal(t, http.StatusNotFound,
		env.do("GET", env.path("/roles/9999/permissions"), env.member, "").Code)
	assert.Equal(t, http.StatusForbidden, env.do("GET", env.path("/roles"), env.outsider, "").Code)
}

func TestSetSystemAdminHandler(t *testing.T) {
	env := newTestEnv(t)
	path := func(id int64) string { return fmt.Sprintf("/admin/users/%d/system-admin", id) }

	rec := env.do("PUT", path(env.sysadmin), env.sysadmin, `{"is_system_admin":false}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeLastSystemAdmin, errorCode(t, rec))

	assert.Equal(t, http.StatusForbidden, env.do("PUT", path(env.member), env.owner, `{"is_system_admin":true}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do("PUT", path(env.member), env.sysadmin, `{}`).Code)
	assert.Equal(t, http.StatusNoContent, env.do("PUT", path(env.member), env.sysadmin, `{"is_system_admin":true}`).Code)

	// the new admin may now manage anything
	assert.Equal(t, http.StatusNoContent,
		env.do("DELETE", env.path("/members/%d", env.admin), env.member, "").Code)
}

func TestTokenHandlers(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("POST", "/auth/tokens", env.member, `{"name":"ci","expires_in":"24h"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[struct {
		Token    string        `json:"token"`
		APIToken auth.APIToken `json:"api_token"`
	}](t, rec)
	assert.True(t, strings.HasPrefix(created.Token, auth.TokenPrefix))
	require.NotNil(t, created.APIToken.ExpiresAt)

	rec = env.do("GET", "/auth/tokens", env.member, "")
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode[struct {
		Tokens []auth.APIToken `json:"tokens"`
	}](t, rec)
	require.Len(t, listed.Tokens, 1)
	assert.Equal(t, "ci", listed.Tokens[0].Name)

	revokePath := fmt.Sprintf("/auth/tokens/%d", created.APIToken.ID)
	assert.Equal(t, http.StatusNotFound, env.do("DELETE", revokePath, env.owner, "").Code)
	assert.Equal(t, http.StatusNoContent, env.do("DELETE", revokePath, env.member, "").Code)
	assert.Equal(t, http.StatusNotFound, env.do("DELETE", revokePath, env.member, "").Code)

	assert.Equal(t, http.StatusBadRequest, env.do("POST", "/auth/tokens", env.member, `{"name":"x","expires_in":"soon"}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do("POST", "/auth/tokens", env.member, `{"name":" "}`).Code)

	rec = env.do("GET", "/auth/tokens", env.owner, "")
	assert.JSONEq(t, `{"tokens":[]}`, rec.Body.String())
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("GET", "/nope", env.owner, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	assert.Equal(t, http.StatusMethodNotAllowed, env.do("PATCH", "/projects", env.owner, "").Code)
}

func TestAuditHandler(t *testing.T) {
	env := newTestEnv(t)

	type auditBody struct {
		Events []audit.Event `json:"events"`
	}

	rec := env.do("GET", env.path("/audit"), env.owner, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[auditBody](t, rec).Events, 3)

	rec = env.do("GET", env.path("/audit?event_type=member.add"), env.admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[auditBody](t, rec).Events
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, audit.EventTypeMemberAdd, e.EventType)
		assert.Equal(t, env.owner, e.ActorID)
	}

	rec = env.do("GET", env.path("/audit?limit=1&since=2000-01-01T00:00:00Z"), env.sysadmin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[auditBody](t, rec).Events, 1)

	rec = env.do("GET", env.path("/audit?until=2000-01-01T00:00:00Z"), env.owner, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[auditBody](t, rec).Events)

	assert.Equal(t, http.StatusForbidden, env.do("GET", env.path("/audit"), env.member, "").Code)
	assert.Equal(t, http.StatusForbidden, env.do("GET", env.path("/audit"), env.outsider, "").Code)
	assert.Equal(t, http.StatusUnauthorized, env.do("GET", env.path("/audit"), 0, "").Code)

	for _, query := range []string{"since=yesterday", "limit=-1", "offset=x", "event_type=member.teleport"} {
		rec = env.do("GET", env.path("/audit?"+query), env.owner, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
		assert.Equal(t, CodeInvalidInput, errorCode(t, rec), query)
	}
}

func TestParseAuditFilter(t *testing.T) {
	filter, err := parseAuditFilter(url.Values{
		"event_type": {"member.add,member.remove", " member.leave "},
		"since":      {"2026-01-02T03:04:05Z"},
		"limit":      {"10"},
		"offset":     {"20"},
	})
	require.NoError(t, err)
	assert.Equal(t, []audit.EventType{
		audit.EventTypeMemberAdd, audit.EventTypeMemberRemove, audit.EventTypeMemberLeave,
	}, filter.EventTypes)
	require.NotNil(t, filter.StartTime)
	assert.Equal(t, 2026, filter.StartTime.Year())
	assert.Nil(t, filter.EndTime)
	assert.Equal(t, 10, filter.Limit)
	assert.Equal(t, 20, filter.Offset)

	filter, err = parseAuditFilter(url.Values{})
	require.NoError(t, err)
	assert.Equal(t, audit.SearchFilter{}, filter)
}
