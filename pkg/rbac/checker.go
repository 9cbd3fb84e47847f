package rbac

import (
	"context"
	"errors"
)

// Checker resolves effective permissions and answers guard and hierarchy questions.
// It holds no mutable state and is safe for concurrent use. Every ambiguous input
// resolves to "no access"; no method returns an error.
type Checker struct {
	store    Storage
	reporter IssueReporter
}

// Option configures a Checker
type Option func(*Checker)

// WithIssueReporter routes data-integrity and storage issues to fn
func WithIssueReporter(fn IssueReporter) Option {
	return func(c *Checker) {
		c.reporter = fn
	}
}

// NewChecker creates a checker over store
func NewChecker(store Storage, opts ...Option) *Checker {
	c := &Checker{store: store}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EffectivePermissions returns the permission state of userID in projectID.
// A system admin holds the full catalog without a membership lookup.
func (c *Checker) EffectivePermissions(ctx context.Context, userID, projectID int64) Effective {
	none := Effective{Permissions: PermissionSet{}}

	user, ok := c.lookupUser(ctx, userID, projectID)
	if !ok {
		return none
	}
	if user.IsSystemAdmin {
		return Effective{IsSystemAdmin: true, Permissions: AllPermissions()}
	}

	membership, ok := c.lookupMembership(ctx, userID, projectID)
	if !ok {
		return none
	}

	rolePerms := c.Decode(ctx, &membership.Role.Permissions, Issue{
		UserID: userID, ProjectID: projectID, RoleID: membership.RoleID, Source: "role",
	})
	overrides := c.Decode(ctx, membership.Overrides, Issue{
		UserID: userID, ProjectID: projectID, RoleID: membership.RoleID, Source: "overrides",
	})

	return Effective{
		Membership:  membership,
		Permissions: rolePerms.Union(overrides),
	}
}

// HasPermission reports whether userID holds perm in projectID
func (c *Checker) HasPermission(ctx context.Context, userID, projectID int64, perm Permission) bool {
	eff := c.EffectivePermissions(ctx, userID, projectID)
	return eff.IsSystemAdmin || eff.Permissions.Has(perm)
}

// HasAnyPermission reports whether userID holds at least one of perms.
// An empty list is never satisfied, except by a system admin.
func (c *Checker) HasAnyPermission(ctx context.Context, userID, projectID int64, perms ...Permission) bool {
	eff := c.EffectivePermissions(ctx, userID, projectID)
	return eff.IsSystemAdmin || eff.Permissions.HasAny(perms...)
}

// HasAllPermissions reports whether userID holds every one of perms.
// An empty list is always satisfied.
func (c *Checker) HasAllPermissions(ctx context.Context, userID, projectID int64, perms ...Permission) bool {
	eff := c.EffectivePermissions(ctx, userID, projectID)
	return eff.IsSystemAdmin || eff.Permissions.HasAll(perms...)
}

// IsMember reports whether userID has any relationship with projectID.
// System admins are members of every project.
func (c *Checker) IsMember(ctx context.Context, userID, projectID int64) bool {
	user, ok := c.lookupUser(ctx, userID, projectID)
	if !ok {
		return false
	}
	if user.IsSystemAdmin {
		return true
	}
	_, ok = c.lookupMembership(ctx, userID, projectID)
	return ok
}

// RolePermissions decodes the permission list of roleID outside of any membership
func (c *Checker) RolePermissions(ctx context.Context, roleID int64) PermissionSet {
	role, err := c.store.GetRoleByID(ctx, roleID)
	if err != nil {
		c.storageIssue(ctx, err, Issue{RoleID: roleID, Source: "get_role_by_id"})
		return PermissionSet{}
	}
	return c.Decode(ctx, &role.Permissions, Issue{ProjectID: role.ProjectID, RoleID: roleID, Source: "role"})
}

func (c *Checker) lookupUser(ctx context.Context, userID, projectID int64) (*User, bool) {
	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		c.storageIssue(ctx, err, Issue{UserID: userID, ProjectID: projectID, Source: "get_user"})
		return nil, false
	}
	return user, user != nil
}

func (c *Checker) lookupMembership(ctx context.Context, userID, projectID int64) (*Membership, bool) {
	membership, err := c.store.GetMembership(ctx, userID, projectID)
	if err != nil {
		c.storageIssue(ctx, err, Issue{UserID: userID, ProjectID: projectID, Source: "get_membership"})
		return nil, false
	}
	return membership, membership != nil
}

func (c *Checker) lookupRole(ctx context.Context, roleID, projectID int64) (*Role, bool) {
	role, err := c.store.GetRole(ctx, roleID, projectID)
	if err != nil {
		c.storageIssue(ctx, err, Issue{ProjectID: projectID, RoleID: roleID, Source: "get_role"})
		return nil, false
	}
	return role, role != nil
}

// Decode parses a persisted permission list and reports anything it had to discard.
// base carries the context of the issue; its Kind is filled in.
func (c *Checker) Decode(ctx context.Context, raw *string, base Issue) PermissionSet {
	set, report := DecodePermissionList(raw)
	if report.Clean() || c.reporter == nil {
		return set
	}
	if report.Malformed != nil {
		issue := base
		issue.Kind = IssueMalformedList
		issue.Err = report.Malformed
		c.reporter(ctx, issue)
	}
	if len(report.Dropped) > 0 {
		issue := base
		issue.Kind = IssueUnknownPermission
		issue.Detail = report.Dropped
		c.reporter(ctx, issue)
	}
	return set
}

// storageIssue reports lookup failures other than a plain missing row
func (c *Checker) storageIssue(ctx context.Context, err error, issue Issue) {
	if c.reporter == nil || errors.Is(err, ErrNotFound) {
		return
	}
	issue.Kind = IssueStorageError
	issue.Err = err
	c.reporter(ctx, issue)
}
