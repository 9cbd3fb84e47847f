package rbac

import (
	"encoding/json"
	"sort"
)

// Permission identifies a single capability within a project.
// Valid values are the constants below; anything else decoded from storage is dropped.
type Permission string

const (
	PermProjectUpdate     Permission = "project.update"
	PermProjectDelete     Permission = "project.delete"
	PermProjectSettings   Permission = "project.settings"
	PermMembersManage     Permission = "members.manage"
	PermRolesManage       Permission = "roles.manage"
	PermTicketsCreate     Permission = "tickets.create"
	PermTicketsEdit       Permission = "tickets.edit"
	PermTicketsDelete     Permission = "tickets.delete"
	PermTicketsAssign     Permission = "tickets.assign"
	PermTicketsTransition Permission = "tickets.transition"
	PermCommentsCreate    Permission = "comments.create"
	PermCommentsDelete    Permission = "comments.delete"
	PermSprintsManage     Permission = "sprints.manage"
	PermLabelsManage      Permission = "labels.manage"
	PermReportsView       Permission = "reports.view"
)

// catalog is the closed set of permissions this build understands.
var catalog = map[Permission]struct{}{
	PermProjectUpdate:     {},
	PermProjectDelete:     {},
	PermProjectSettings:   {},
	PermMembersManage:     {},
	PermRolesManage:       {},
	PermTicketsCreate:     {},
	PermTicketsEdit:       {},
	PermTicketsDelete:     {},
	PermTicketsAssign:     {},
	PermTicketsTransition: {},
	PermCommentsCreate:    {},
	PermCommentsDelete:    {},
	PermSprintsManage:     {},
	PermLabelsManage:      {},
	PermReportsView:       {},
}

// IsValidPermission reports whether value names a permission in the catalog
func IsValidPermission(value string) bool {
	_, ok := catalog[Permission(value)]
	return ok
}

// ParsePermission converts value into a Permission if it is in the catalog
func ParsePermission(value string) (Permission, bool) {
	if !IsValidPermission(value) {
		return "", false
	}
	return Permission(value), true
}

// AllPermissions returns a new set holding every catalog permission
func AllPermissions() PermissionSet {
	set := make(PermissionSet, len(catalog))
	for p := range catalog {
		set[p] = struct{}{}
	}
	return set
}

// Catalog returns the catalog in lexical order
func Catalog() []Permission {
	return AllPermissions().Sorted()
}

// String returns the permission identifier
func (p Permission) String() string {
	return string(p)
}

// PermissionSet is an unordered set of permissions. The zero value is an empty set
// that is safe to read but must be initialised with NewPermissionSet before Add.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from perms
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Has reports whether p is in the set
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Add inserts p
func (s PermissionSet) Add(p Permission) {
	s[p] = struct{}{}
}

// Len returns the number of permissions in the set
func (s PermissionSet) Len() int {
	return len(s)
}

// Union returns a new set containing the permissions of s and other
func (s PermissionSet) Union(other PermissionSet) PermissionSet {
	out := make(PermissionSet, len(s)+len(other))
	for p := range s {
		out[p] = struct{}{}
	}
	for p := range other {
		out[p] = struct{}{}
	}
	return out
}

// HasAny reports whether at least one of perms is in the set.
// An empty request is never satisfied.
func (s PermissionSet) HasAny(perms ...Permission) bool {
	for _, p := range perms {
		if s.Has(p) {
			return true
		}
	}
	return false
}

// HasAll reports whether every one of perms is in the set.
// An empty request is always satisfied.
func (s PermissionSet) HasAll(perms ...Permission) bool {
	for _, p := range perms {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

// Sorted returns the permissions in lexical order
func (s PermissionSet) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MarshalJSON encodes the set as a sorted array
func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}
