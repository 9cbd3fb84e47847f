package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/platinummonkey/crew/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLStore_Lookups(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ctx := context.Background()

	admin := testutil.InsertUser(t, db, "root@example.com", true)
	alice := testutil.InsertUser(t, db, "alice@example.com", false)
	bob := testutil.InsertUser(t, db, "bob@example.com", false)

	p1 := testutil.InsertProject(t, db, "apollo")
	p2 := testutil.InsertProject(t, db, "gemini")
	owner := testutil.InsertRole(t, db, p1, "Owner", 0, `["members.manage","project.delete"]`)
	viewer := testutil.InsertRole(t, db, p1, "Viewer", 3, `["reports.view"]`)
	foreign := testutil.InsertRole(t, db, p2, "Owner", 0, `["members.manage"]`)

	testutil.InsertMembership(t, db, alice, p1, owner, nil)
	testutil.InsertMembership(t, db, bob, p1, viewer, strPtr(`["tickets.create"]`))

	store := NewSQLStore(db)

	t.Run("user", func(t *testing.T) {
		u, err := store.GetUser(ctx, admin)
		require.NoError(t, err)
		assert.True(t, u.IsSystemAdmin)

		u, err = store.GetUser(ctx, alice)
		require.NoError(t, err)
		assert.False(t, u.IsSystemAdmin)

		_, err = store.GetUser(ctx, 9999)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("inactive user", func(t *testing.T) {
		carol := testutil.InsertUser(t, db, "carol@example.com", true)
		_, err := db.Exec(`UPDATE users SET is_active = FALSE WHERE id = $1`, carol)
		require.NoError(t, err)

		_, err = store.GetUser(ctx, carol)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("membership", func(t *testing.T) {
		m, err := store.GetMembership(ctx, bob, p1)
		require.NoError(t, err)
		assert.Equal(t, viewer, m.RoleID)
		assert.Equal(t, 3, m.Role.Position)
		assert.Equal(t, "Viewer", m.Role.Name)
		assert.Equal(t, `["reports.view"]`, m.Role.Permissions)
		require.NotNil(t, m.Overrides)
		assert.Equal(t, `["tickets.create"]`, *m.Overrides)

		m, err = store.GetMembership(ctx, alice, p1)
		require.NoError(t, err)
		assert.Nil(t, m.Overrides)

		_, err = store.GetMembership(ctx, alice, p2)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("membership pointing at a foreign role", func(t *testing.T) {
		dave := testutil.InsertUser(t, db, "dave@example.com", false)
		testutil.InsertMembership(t, db, dave, p1, foreign, nil)

		_, err := store.GetMembership(ctx, dave, p1)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("role scoped to project", func(t *testing.T) {
		r, err := store.GetRole(ctx, viewer, p1)
		require.NoError(t, err)
		assert.Equal(t, 3, r.Position)

		_, err = store.GetRole(ctx, foreign, p1)
		assert.ErrorIs(t, err, ErrNotFound)

		r, err = store.GetRoleByID(ctx, foreign)
		require.NoError(t, err)
		assert.Equal(t, p2, r.ProjectID)
	})

	t.Run("checker over sql", func(t *testing.T) {
		checker := NewChecker(store)
		assert.True(t, checker.HasAllPermissions(ctx, bob, p1, PermReportsView, PermTicketsCreate))
		assert.True(t, checker.CanManageMember(ctx, alice, bob, p1))
		assert.False(t, checker.CanAssignRole(ctx, alice, p1, foreign))
		assert.True(t, checker.IsMember(ctx, admin, p2))
	})
}

func TestSQLStore_Transaction(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ctx := context.Background()

	alice := testutil.InsertUser(t, db, "alice@example.com", false)
	p := testutil.InsertProject(t, db, "apollo")
	viewer := testutil.InsertRole(t, db, p, "Viewer", 3, `["reports.view"]`)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO project_memberships (user_id, project_id, role_id) VALUES ($1, $2, $3)`, alice, p, viewer)
	require.NoError(t, err)

	checker := NewChecker(NewSQLStore(tx))
	assert.True(t, checker.IsMember(ctx, alice, p))
}

func TestSQLStore_Errors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db)
	ctx := context.Background()

	t.Run("user query error", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id, is_system_admin\s+FROM users`).
			WithArgs(int64(1)).
			WillReturnError(errors.New("database connection error"))

		_, err := store.GetUser(ctx, 1)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
		assert.Contains(t, err.Error(), "failed to load user 1")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("membership scan error", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "user_id"}).AddRow(1, 2)
		mock.ExpectQuery(`FROM project_memberships m\s+JOIN roles r`).
			WithArgs(int64(2), int64(1)).
			WillReturnRows(rows)

		_, err := store.GetMembership(ctx, 2, 1)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("role not found", func(t *testing.T) {
		mock.ExpectQuery(`FROM roles r\s+WHERE r.id = \$1 AND r.project_id = \$2`).
			WithArgs(int64(5), int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := store.GetRole(ctx, 5, 1)
		assert.ErrorIs(t, err, ErrNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("null permissions column", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "project_id", "name", "position", "permissions", "is_default"}).
			AddRow(5, 1, "Ghost", 4, nil, false)
		mock.ExpectQuery(`FROM roles r\s+WHERE r.id = \$1\s*$`).
			WithArgs(int64(5)).
			WillReturnRows(rows)

		r, err := store.GetRoleByID(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, "", r.Permissions)
		assert.Equal(t, 0, ParsePermissionList(&r.Permissions).Len())
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
