package projects

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/platinummonkey/crew/pkg/audit"
	"github.com/platinummonkey/crew/pkg/rbac"
)

// AddMember joins userID to projectID. A nil roleID selects the project's default
// role. The actor must be allowed to assign the role.
func (s *Service) AddMember(ctx context.Context, actorID, projectID, userID int64, roleID *int64) (*rbac.Membership, error) {
	var membership *rbac.Membership
	err := s.withTx(ctx, opAddMember, func(tx *sql.Tx) error {
		checker, store := s.checker(tx)

		actor := checker.EffectivePermissions(ctx, actorID, projectID)
		if !actor.IsSystemAdmin && !actor.Permissions.Has(rbac.PermMembersManage) {
			return fmt.Errorf("%w: %s required", ErrForbidden, rbac.PermMembersManage)
		}
		if err := projectExists(ctx, tx, projectID); err != nil {
			return err
		}

		var rid int64
		if roleID != nil {
			rid = *roleID
			if _, err := store.GetRole(ctx, rid, projectID); err != nil {
				return notFound(err, "role %d in project %d", rid, projectID)
			}
		} else {
			id, err := defaultRoleID(ctx, tx, projectID)
			if err != nil {
				return err
			}
			rid = id
		}

		if !checker.CanAssignRole(ctx, actorID, projectID, rid) {
			return fmt.Errorf("%w: cannot assign a role at or above your own rank", ErrForbidden)
		}

		if _, err := store.GetUser(ctx, userID); err != nil {
			return notFound(err, "user %d", userID)
		}

		_, err := store.GetMembership(ctx, userID, projectID)
		switch {
		case err == nil:
			return ErrAlreadyMember
		case !errors.Is(err, rbac.ErrNotFound):
			return err
		}

		if _, err := tx.ExecContext(ctx, insertMembershipQuery, userID, projectID, rid); err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyMember
			}
			return fmt.Errorf("failed to add member: %w", err)
		}

		m, err := store.GetMembership(ctx, userID, projectID)
		if err != nil {
			return err
		}
		membership = m
		return s.recordAudit(ctx, tx, &audit.Event{
			EventType:    audit.EventTypeMemberAdd,
			ActorID:      actorID,
			ProjectID:    audit.Int64(projectID),
			TargetUserID: audit.Int64(userID),
			Changes:      &audit.ChangeDetails{After: roleChange(m.Role)},
		})
	})
	s.record(opAddMember, err)
	if err != nil {
		return nil, err
	}

	s.invalidateMembership(ctx, userID, projectID)
	s.logger.WithField("project_id", projectID).
		WithField("actor_id", actorID).
		WithField("user_id", userID).
		WithField("role_id", membership.RoleID).
		Info("Member added")
	return membership, nil
}

// ChangeMemberRole moves targetID to roleID.
//
// Acting on yourself, you may only move to a strictly lower rank, unless you are a
// system admin; roles sharing your rank may carry permissions you lack. Acting on someone else requires outranking them and being allowed
// to assign the new role. Nobody may leave the project without a top-rank member.
func (s *Service) ChangeMemberRole(ctx context.Context, actorID, projectID, targetID, roleID int64) (*rbac.Membership, error) {
	var membership *rbac.Membership
	err := s.withTx(ctx, opChangeMemberRole, func(tx *sql.Tx) error {
		checker, store := s.checker(tx)

		if actorID != targetID && !checker.CanManageMember(ctx, actorID, targetID, projectID) {
			return fmt.Errorf("%w: cannot manage this member", ErrForbidden)
		}

		current, err := store.GetMembership(ctx, targetID, projectID)
		if err != nil {
			return notFound(err, "membership of user %d in project %d", targetID, projectID)
		}
		role, err := store.GetRole(ctx, roleID, projectID)
		if err != nil {
			return notFound(err, "role %d in project %d", roleID, projectID)
		}

		if actorID == targetID {
			if role.ID != current.RoleID && !rbac.Outranks(current.Role.Position, role.Position) {
				actor, err := store.GetUser(ctx, actorID)
				if err != nil && !errors.Is(err, rbac.ErrNotFound) {
					return err
				}
				if actor == nil || !actor.IsSystemAdmin {
					return ErrSelfPromotion
				}
			}
		} else if !checker.CanAssignRole(ctx, actorID, projectID, roleID) {
			return fmt.Errorf("%w: cannot assign a role at or above your own rank", ErrForbidden)
		}

		if role.Position != current.Role.Position {
			stillTop, err := isTopRank(ctx, tx, projectID, role.Position)
			if err != nil {
				return err
			}
			if !stillTop {
				if err := ensureTopRankRemains(ctx, tx, current); err != nil {
					return err
				}
			}
		}

		if _, err := tx.ExecContext(ctx, updateMemberRoleQuery, roleID, targetID, projectID); err != nil {
			return fmt.Errorf("failed to change member role: %w", err)
		}

		m, err := store.GetMembership(ctx, targetID, projectID)
		if err != nil {
			return err
		}
		membership = m
		return s.recordAudit(ctx, tx, &audit.Event{
			EventType:    audit.EventTypeMemberRoleChange,
			ActorID:      actorID,
			ProjectID:    audit.Int64(projectID),
			TargetUserID: audit.Int64(targetID),
			Changes: &audit.ChangeDetails{
				Before: roleChange(current.Role),
				After:  roleChange(m.Role),
			},
		})
	})
	s.record(opChangeMemberRole, err)
	if err != nil {
		return nil, err
	}

	s.invalidateMembership(ctx, targetID, projectID)
	s.logger.WithField("project_id", projectID).
		WithField("actor_id", actorID).
		WithField("user_id", targetID).
		WithField("role_id", roleID).
		Info("Member role changed")
	return membership, nil
}

// UpdateOverrides replaces the additive permission grants of targetID. Unknown
// permission names are rejected. Members may only grant permissions they hold
// themselves; an empty list clears the overrides.
func (s *Service) UpdateOverrides(ctx context.Context, actorID, projectID, targetID int64, perms []string) (*rbac.Membership, error) {
	requested, err := parseRequestedPermissions(perms)
	if err != nil {
		s.record(opUpdateOverrides, err)
		return nil, err
	}

	var membership *rbac.Membership
	err = s.withTx(ctx, opUpdateOverrides, func(tx *sql.Tx) error {
		checker, store := s.checker(tx)

		actor := checker.EffectivePermissions(ctx, actorID, projectID)
		if actorID == targetID {
			if !actor.IsSystemAdmin {
				return fmt.Errorf("%w: cannot edit your own overrides", ErrForbidden)
			}
		} else if !checker.CanManageMember(ctx, actorID, targetID, projectID) {
			return fmt.Errorf("%w: cannot manage this member", ErrForbidden)
		}

		current, err := store.GetMembership(ctx, targetID, projectID)
		if err != nil {
			return notFound(err, "membership of user %d in project %d", targetID, projectID)
		}

		if !actor.IsSystemAdmin {
			var missing []string
			for _, p := range requested.Sorted() {
				if !actor.Permissions.Has(p) {
					missing = append(missing, string(p))
				}
			}
			if len(missing) > 0 {
				return fmt.Errorf("%w: cannot grant permissions you do not hold: %s",
					ErrForbidden, strings.Join(missing, ", "))
			}
		}

		var value sql.NullString
		if requested.Len() > 0 {
			value = sql.NullString{String: rbac.EncodePermissionList(requested), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, updateOverridesQuery, value, targetID, projectID); err != nil {
			return fmt.Errorf("failed to update overrides: %w", err)
		}

		m, err := store.GetMembership(ctx, targetID, projectID)
		if err != nil {
			return err
		}
		membership = m

		previous := checker.Decode(ctx, current.Overrides, rbac.Issue{
			UserID: targetID, ProjectID: projectID, RoleID: current.RoleID, Source: "overrides",
		})
		return s.recordAudit(ctx, tx, &audit.Event{
			EventType:    audit.EventTypeMemberOverridesUpdate,
			ActorID:      actorID,
			ProjectID:    audit.Int64(projectID),
			TargetUserID: audit.Int64(targetID),
			Changes: &audit.ChangeDetails{
				Before: map[string]interface{}{"overrides": previous.Sorted()},
				After:  map[string]interface{}{"overrides": requested.Sorted()},
			},
		})
	})
	s.record(opUpdateOverrides, err)
	if err != nil {
		return nil, err
	}

	s.invalidateMembership(ctx, targetID, projectID)
	s.logger.WithField("project_id", projectID).
		WithField("actor_id", actorID).
		WithField("user_id", targetID).
		WithField("overrides", requested.Len()).
		Info("Member overrides updated")
	return membership, nil
}

// RemoveMember deletes targetID's membership. Removing yourself is Leave.
func (s *Service) RemoveMember(ctx context.Context, actorID, projectID, targetID int64) error {
	if actorID == targetID {
		return s.Leave(ctx, actorID, projectID)
	}

	err := s.withTx(ctx, opRemoveMember, func(tx *sql.Tx) error {
		checker, store := s.checker(tx)

		if !checker.CanManageMember(ctx, actorID, targetID, projectID) {
			return fmt.Errorf("%w: cannot manage this member", ErrForbidden)
		}
		removed, err := s.deleteMembership(ctx, tx, store, targetID, projectID)
		if err != nil {
			return err
		}
		return s.recordAudit(ctx, tx, &audit.Event{
			EventType:    audit.EventTypeMemberRemove,
			ActorID:      actorID,
			ProjectID:    audit.Int64(projectID),
			TargetUserID: audit.Int64(targetID),
			Changes:      &audit.ChangeDetails{Before: roleChange(removed.Role)},
		})
	})
	s.record(opRemoveMember, err)
	if err != nil {
		return err
	}

	s.invalidateMembership(ctx, targetID, projectID)
	s.logger.WithField("project_id", projectID).
		WithField("actor_id", actorID).
		WithField("user_id", targetID).
		Info("Member removed")
	return nil
}

// Leave removes the actor from projectID unless they are its last top-rank member
func (s *Service) Leave(ctx context.Context, actorID, projectID int64) error {
	err := s.withTx(ctx, opLeave, func(tx *sql.Tx) error {
		_, store := s.checker(tx)
		removed, err := s.deleteMembership(ctx, tx, store, actorID, projectID)
		if err != nil {
			return err
		}
		return s.recordAudit(ctx, tx, &audit.Event{
			EventType:    audit.EventTypeMemberLeave,
			ActorID:      actorID,
			ProjectID:    audit.Int64(projectID),
			TargetUserID: audit.Int64(actorID),
			Changes:      &audit.ChangeDetails{Before: roleChange(removed.Role)},
		})
	})
	s.record(opLeave, err)
	if err != nil {
		return err
	}

	s.invalidateMembership(ctx, actorID, projectID)
	s.logger.WithField("project_id", projectID).
		WithField("user_id", actorID).
		Info("Member left project")
	return nil
}

// deleteMembership removes a membership and returns it as it was
func (s *Service) deleteMembership(ctx context.Context, tx *sql.Tx, store *rbac.SQLStore, userID, projectID int64) (*rbac.Membership, error) {
	m, err := store.GetMembership(ctx, userID, projectID)
	if err != nil {
		return nil, notFound(err, "membership of user %d in project %d", userID, projectID)
	}
	if err := ensureTopRankRemains(ctx, tx, m); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, deleteMembershipQuery, userID, projectID); err != nil {
		return nil, fmt.Errorf("failed to remove member: %w", err)
	}
	return m, nil
}

func roleChange(role rbac.Role) map[string]interface{} {
	return map[string]interface{}{
		"role_id":  role.ID,
		"role":     role.Name,
		"position": role.Position,
	}
}

// ListMembers lists a project's members by rank. Any member may list.
func (s *Service) ListMembers(ctx context.Context, actorID, projectID int64) ([]Member, error) {
	checker, _ := s.checker(s.db)
	if !checker.IsMember(ctx, actorID, projectID) {
		return nil, ErrForbidden
	}
	if err := projectExists(ctx, s.db, projectID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, listMembersQuery, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	members := []Member{}
	for rows.Next() {
		var m Member
		var overrides sql.NullString
		if err := rows.Scan(
			&m.UserID, &m.Email, &m.DisplayName, &m.RoleID, &m.RoleName, &m.Position,
			&overrides, &m.JoinedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}

		var raw *string
		if overrides.Valid {
			raw = &overrides.String
		}
		m.Overrides = checker.Decode(ctx, raw, rbac.Issue{
			UserID: m.UserID, ProjectID: projectID, RoleID: m.RoleID, Source: "overrides",
		}).Sorted()
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}

	return members, nil
}

// parseRequestedPermissions validates caller input. Unlike persisted lists, unknown
// names here are an error rather than silently dropped.
func parseRequestedPermissions(values []string) (rbac.PermissionSet, error) {
	set := rbac.NewPermissionSet()
	var unknown []string
	for _, v := range values {
		p, ok := rbac.ParsePermission(v)
		if !ok {
			unknown = append(unknown, fmt.Sprintf("%q", v))
			continue
		}
		set.Add(p)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: %s", ErrInvalidPermission, strings.Join(unknown, ", "))
	}
	return set, nil
}
