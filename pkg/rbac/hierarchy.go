package rbac

import "context"

// Outranks reports whether a role at position a has strictly higher authority than
// one at position b. Equal ranks never outrank each other.
func Outranks(a, b int) bool {
	return a < b
}

// TopPosition returns the highest-authority position among roles.
// The top rank is derived from positions, not from role names.
func TopPosition(roles []Role) (int, bool) {
	if len(roles) == 0 {
		return 0, false
	}
	top := roles[0].Position
	for _, r := range roles[1:] {
		if r.Position < top {
			top = r.Position
		}
	}
	return top, true
}

// CanManageMember reports whether actorID may act on targetID's membership in projectID.
//
// An actor can never manage themself through this check; self-service role changes have
// their own rule in the calling layer. Otherwise system admins may manage anyone, and
// members need members.manage plus a strictly higher rank than the target.
func (c *Checker) CanManageMember(ctx context.Context, actorID, targetID, projectID int64) bool {
	if actorID == targetID {
		return false
	}

	actor := c.EffectivePermissions(ctx, actorID, projectID)
	if actor.IsSystemAdmin {
		return true
	}
	if !actor.Permissions.Has(PermMembersManage) || actor.Membership == nil {
		return false
	}

	target, ok := c.lookupMembership(ctx, targetID, projectID)
	if !ok {
		return false
	}

	return Outranks(actor.Membership.Role.Position, target.Role.Position)
}

// CanAssignRole reports whether actorID may hand out roleID in projectID.
// Members need members.manage and may only assign roles strictly below their own rank.
func (c *Checker) CanAssignRole(ctx context.Context, actorID, projectID, roleID int64) bool {
	actor := c.EffectivePermissions(ctx, actorID, projectID)
	if actor.IsSystemAdmin {
		return true
	}
	if !actor.Permissions.Has(PermMembersManage) || actor.Membership == nil {
		return false
	}

	role, ok := c.lookupRole(ctx, roleID, projectID)
	if !ok {
		return false
	}

	return Outranks(actor.Membership.Role.Position, role.Position)
}
