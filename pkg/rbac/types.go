package rbac

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Storage implementations when a row does not exist
var ErrNotFound = errors.New("rbac: not found")

// User is the slice of a user account the engine needs
type User struct {
	ID            int64 `json:"id"`
	IsSystemAdmin bool  `json:"is_system_admin"`
}

// Role is a named rank within one project. Lower Position means higher authority.
type Role struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"project_id"`
	Name      string `json:"name"`
	Position  int    `json:"position"`
	// Permissions is the list exactly as persisted; decode it with ParsePermissionList
	Permissions string `json:"permissions"`
	IsDefault   bool   `json:"is_default"`
}

// Membership joins a user to a project with exactly one role
type Membership struct {
	ID        int64 `json:"id"`
	UserID    int64 `json:"user_id"`
	ProjectID int64 `json:"project_id"`
	RoleID    int64 `json:"role_id"`
	// Overrides are additive grants as persisted; nil means none
	Overrides *string `json:"overrides,omitempty"`
	Role      Role    `json:"role"`
}

// Effective is the resolved permission state of a user in a project
type Effective struct {
	IsSystemAdmin bool          `json:"is_system_admin"`
	Membership    *Membership   `json:"membership,omitempty"`
	Permissions   PermissionSet `json:"permissions"`
}

// Storage is the read side of user, role and membership persistence.
// Missing rows are reported as ErrNotFound.
type Storage interface {
	GetUser(ctx context.Context, userID int64) (*User, error)
	GetMembership(ctx context.Context, userID, projectID int64) (*Membership, error)
	// GetRole resolves a role only if it belongs to projectID
	GetRole(ctx context.Context, roleID, projectID int64) (*Role, error)
	GetRoleByID(ctx context.Context, roleID int64) (*Role, error)
}

// Invalidator drops cached storage rows after a write
type Invalidator interface {
	InvalidateUser(ctx context.Context, userID int64) error
	InvalidateMembership(ctx context.Context, userID, projectID int64) error
	InvalidateProject(ctx context.Context, projectID int64) error
}

// IssueKind classifies a data-integrity or storage problem seen during a check
type IssueKind string

const (
	IssueMalformedList     IssueKind = "malformed_list"
	IssueUnknownPermission IssueKind = "unknown_permission"
	IssueStorageError      IssueKind = "storage_error"
)

// Issue is handed to an IssueReporter. The check that produced it has already
// resolved to "no access" for the affected input.
type Issue struct {
	Kind      IssueKind
	UserID    int64
	ProjectID int64
	RoleID    int64
	Source    string // "role", "overrides", or the storage operation
	Detail    []string
	Err       error
}

// IssueReporter receives issues; implementations must not block
type IssueReporter func(ctx context.Context, issue Issue)
