package projects

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/crew/pkg/rbac"
)

const (
	insertProjectQuery = `
		INSERT INTO projects (name, created_by)
		VALUES ($1, $2)
		RETURNING id
	`

	insertRoleQuery = `
		INSERT INTO roles (project_id, name, position, permissions, is_default)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	insertMembershipQuery = `
		INSERT INTO project_memberships (user_id, project_id, role_id)
		VALUES ($1, $2, $3)
	`

	projectExistsQuery = `SELECT COUNT(*) FROM projects WHERE id = $1`

	defaultRoleQuery = `
		SELECT id FROM roles
		WHERE project_id = $1 AND is_default = TRUE
		ORDER BY position, id
		LIMIT 1
	`

	listRolesQuery = `
		SELECT id, project_id, name, position, permissions, is_default
		FROM roles
		WHERE project_id = $1
		ORDER BY position, id
	`

	countOthersAtPositionQuery = `
		SELECT COUNT(*)
		FROM project_memberships m
		JOIN roles r ON r.id = m.role_id
		JOIN users u ON u.id = m.user_id
		WHERE m.project_id = $1 AND r.position = $2 AND m.user_id <> $3 AND u.is_active = TRUE
	`

	updateMemberRoleQuery = `
		UPDATE project_memberships
		SET role_id = $1, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = $2 AND project_id = $3
	`

	updateOverridesQuery = `
		UPDATE project_memberships
		SET overrides = $1, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = $2 AND project_id = $3
	`

	deleteMembershipQuery = `
		DELETE FROM project_memberships
		WHERE user_id = $1 AND project_id = $2
	`

	listMembersQuery = `
		SELECT m.user_id, u.email, u.display_name, m.role_id, r.name, r.position, m.overrides, m.joined_at
		FROM project_memberships m
		JOIN users u ON u.id = m.user_id
		JOIN roles r ON r.id = m.role_id AND r.project_id = m.project_id
		WHERE m.project_id = $1
		ORDER BY r.position, m.joined_at, m.user_id
	`

	countOtherSystemAdminsQuery = `
		SELECT COUNT(*) FROM users
		WHERE is_system_admin = TRUE AND is_active = TRUE AND id <> $1
	`

	updateSystemAdminQuery = `
		UPDATE users
		SET is_system_admin = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
	`
)

// queryer is the subset of *sql.DB and *sql.Tx the helpers below need
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func projectExists(ctx context.Context, q queryer, projectID int64) error {
	var n int
	if err := q.QueryRowContext(ctx, projectExistsQuery, projectID).Scan(&n); err != nil {
		return fmt.Errorf("failed to look up project: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("project %d: %w", projectID, ErrNotFound)
	}
	return nil
}

func defaultRoleID(ctx context.Context, q queryer, projectID int64) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, defaultRoleQuery, projectID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: project %d has no default role", ErrInvalidInput, projectID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up default role: %w", err)
	}
	return id, nil
}

func listRoles(ctx context.Context, q queryer, projectID int64) ([]rbac.Role, error) {
	rows, err := q.QueryContext(ctx, listRolesQuery, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []rbac.Role
	for rows.Next() {
		var r rbac.Role
		var perms sql.NullString
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Name, &r.Position, &perms, &r.IsDefault); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		r.Permissions = perms.String
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	return roles, nil
}

// ensureTopRankRemains fails with ErrLastOwner when m is the only active member at
// the project's top rank. Callers invoke it only when m is about to leave that rank.
func ensureTopRankRemains(ctx context.Context, q queryer, m *rbac.Membership) error {
	roles, err := listRoles(ctx, q, m.ProjectID)
	if err != nil {
		return err
	}
	top, ok := rbac.TopPosition(roles)
	if !ok || m.Role.Position != top {
		return nil
	}

	var others int
	if err := q.QueryRowContext(ctx, countOthersAtPositionQuery, m.ProjectID, top, m.UserID).Scan(&others); err != nil {
		return fmt.Errorf("failed to count top-rank members: %w", err)
	}
	if others == 0 {
		return ErrLastOwner
	}
	return nil
}

// isTopRank reports whether position is the highest rank defined in projectID
func isTopRank(ctx context.Context, q queryer, projectID int64, position int) (bool, error) {
	roles, err := listRoles(ctx, q, projectID)
	if err != nil {
		return false, err
	}
	top, ok := rbac.TopPosition(roles)
	return ok && position == top, nil
}
