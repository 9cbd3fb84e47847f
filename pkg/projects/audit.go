package projects

import (
	"context"
	"fmt"

	"github.com/platinummonkey/crew/pkg/audit"
	"github.com/platinummonkey/crew/pkg/rbac"
)

// ListAudit returns a project's audit trail, newest first. The actor needs
// members.manage in the project or system admin. filter.ProjectID is always
// replaced with projectID.
func (s *Service) ListAudit(ctx context.Context, actorID, projectID int64, filter audit.SearchFilter) ([]*audit.Event, error) {
	checker, _ := s.checker(s.db)
	actor := checker.EffectivePermissions(ctx, actorID, projectID)
	if !actor.IsSystemAdmin && !actor.Permissions.Has(rbac.PermMembersManage) {
		return nil, fmt.Errorf("%w: %s required", ErrForbidden, rbac.PermMembersManage)
	}
	if err := projectExists(ctx, s.db, projectID); err != nil {
		return nil, err
	}
	for _, et := range filter.EventTypes {
		if !et.IsValid() {
			return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidInput, et)
		}
	}

	filter.ProjectID = audit.Int64(projectID)
	return audit.NewDBLogger(s.db).Search(ctx, filter)
}

// recordAudit writes event inside tx so it commits with the change
func (s *Service) recordAudit(ctx context.Context, tx audit.Querier, event *audit.Event) error {
	if err := s.auditLog(tx).Log(ctx, event); err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}
