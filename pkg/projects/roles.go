package projects

import (
	"context"
	"strings"

	"github.com/platinummonkey/crew/pkg/rbac"
)

// ListRoles lists a project's roles by rank with their decoded permissions
func (s *Service) ListRoles(ctx context.Context, actorID, projectID int64) ([]RoleSummary, error) {
	checker, _ := s.checker(s.db)
	if !checker.IsMember(ctx, actorID, projectID) {
		return nil, ErrForbidden
	}
	if err := projectExists(ctx, s.db, projectID); err != nil {
		return nil, err
	}

	roles, err := listRoles(ctx, s.db, projectID)
	if err != nil {
		return nil, err
	}

	summaries := make([]RoleSummary, 0, len(roles))
	for _, r := range roles {
		perms := checker.Decode(ctx, &r.Permissions, rbac.Issue{ProjectID: projectID, RoleID: r.ID, Source: "role"})
		summaries = append(summaries, RoleSummary{
			ID:          r.ID,
			Name:        r.Name,
			Position:    r.Position,
			IsDefault:   r.IsDefault,
			Permissions: perms.Sorted(),
		})
	}
	return summaries, nil
}

// RolePermissions returns the permissions of a role in projectID
func (s *Service) RolePermissions(ctx context.Context, actorID, projectID, roleID int64) (rbac.PermissionSet, error) {
	checker, store := s.checker(s.db)
	if !checker.IsMember(ctx, actorID, projectID) {
		return nil, ErrForbidden
	}
	if _, err := store.GetRole(ctx, roleID, projectID); err != nil {
		return nil, notFound(err, "role %d in project %d", roleID, projectID)
	}
	return checker.RolePermissions(ctx, roleID), nil
}

// roleNames joins role names for log fields
func roleNames(roles []rbac.Role) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.Name
	}
	return strings.Join(names, ",")
}
