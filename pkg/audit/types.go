package audit

import (
	"time"
)

// EventType represents the kind of membership change recorded
type EventType string

const (
	EventTypeProjectCreate          EventType = "project.create"
	EventTypeMemberAdd              EventType = "member.add"
	EventTypeMemberRoleChange       EventType = "member.role_change"
	EventTypeMemberOverridesUpdate  EventType = "member.overrides_update"
	EventTypeMemberRemove           EventType = "member.remove"
	EventTypeMemberLeave            EventType = "member.leave"
	EventTypeAdminSystemAdminGrant  EventType = "admin.system_admin_grant"
	EventTypeAdminSystemAdminRevoke EventType = "admin.system_admin_revoke"
)

// IsValid reports whether t is a known event type
func (t EventType) IsValid() bool {
	switch t {
	case EventTypeProjectCreate, EventTypeMemberAdd, EventTypeMemberRoleChange,
		EventTypeMemberOverridesUpdate, EventTypeMemberRemove, EventTypeMemberLeave,
		EventTypeAdminSystemAdminGrant, EventTypeAdminSystemAdminRevoke:
		return true
	}
	return false
}

// Event is a single audit log entry. Only committed changes are recorded.
type Event struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`

	ActorID      int64  `json:"actor_id"`
	ProjectID    *int64 `json:"project_id,omitempty"`
	TargetUserID *int64 `json:"target_user_id,omitempty"`

	RequestID string `json:"request_id,omitempty"`
	Message   string `json:"message,omitempty"`

	// Changes tracking (before/after for updates)
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// Pagination bounds for Search
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	// Time range
	StartTime *time.Time
	EndTime   *time.Time

	ProjectID    *int64
	ActorID      *int64
	TargetUserID *int64
	EventTypes   []EventType

	// Pagination; Limit is clamped to [1, MaxLimit] with DefaultLimit for zero
	Limit  int
	Offset int
}

func (f SearchFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultLimit
	case f.Limit > MaxLimit:
		return MaxLimit
	default:
		return f.Limit
	}
}

// Int64 returns a pointer to v, for optional event fields
func Int64(v int64) *int64 {
	return &v
}
