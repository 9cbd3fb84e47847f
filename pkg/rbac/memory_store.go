package rbac

import (
	"context"
	"fmt"
	"io"
	"sync"

	"gopkg.in/yaml.v3"
)

// MemoryStore is an in-process Storage used by the policy CLI and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[int64]User
	roles       map[int64]Role
	memberships map[membershipKey]Membership
}

type membershipKey struct {
	userID    int64
	projectID int64
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[int64]User),
		roles:       make(map[int64]Role),
		memberships: make(map[membershipKey]Membership),
	}
}

// PutUser inserts or replaces a user
func (m *MemoryStore) PutUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// PutRole inserts or replaces a role
func (m *MemoryStore) PutRole(r Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[r.ID] = r
}

// PutMembership inserts or replaces the membership for (UserID, ProjectID).
// The role is resolved at read time so later PutRole calls are visible.
func (m *MemoryStore) PutMembership(ms Membership) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memberships[membershipKey{ms.UserID, ms.ProjectID}] = ms
}

// GetUser implements Storage
func (m *MemoryStore) GetUser(_ context.Context, userID int64) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

// GetMembership implements Storage
func (m *MemoryStore) GetMembership(_ context.Context, userID, projectID int64) (*Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.memberships[membershipKey{userID, projectID}]
	if !ok {
		return nil, ErrNotFound
	}
	role, ok := m.roles[ms.RoleID]
	if !ok || role.ProjectID != projectID {
		return nil, fmt.Errorf("membership %d references role %d outside project %d: %w",
			ms.ID, ms.RoleID, projectID, ErrNotFound)
	}
	ms.Role = role
	return &ms, nil
}

// GetRole implements Storage
func (m *MemoryStore) GetRole(_ context.Context, roleID, projectID int64) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[roleID]
	if !ok || r.ProjectID != projectID {
		return nil, ErrNotFound
	}
	return &r, nil
}

// GetRoleByID implements Storage
func (m *MemoryStore) GetRoleByID(_ context.Context, roleID int64) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[roleID]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

// Fixture is the YAML document accepted by LoadFixture. Permission lists are kept as
// raw strings in memberships so corrupt persisted data can be reproduced.
type Fixture struct {
	Users []struct {
		ID          int64 `yaml:"id"`
		SystemAdmin bool  `yaml:"system_admin"`
	} `yaml:"users"`
	Roles []struct {
		ID          int64    `yaml:"id"`
		ProjectID   int64    `yaml:"project_id"`
		Name        string   `yaml:"name"`
		Position    int      `yaml:"position"`
		Permissions []string `yaml:"permissions"`
		Raw         *string  `yaml:"raw_permissions"`
		IsDefault   bool     `yaml:"is_default"`
	} `yaml:"roles"`
	Memberships []struct {
		ID        int64    `yaml:"id"`
		UserID    int64    `yaml:"user_id"`
		ProjectID int64    `yaml:"project_id"`
		RoleID    int64    `yaml:"role_id"`
		Overrides []string `yaml:"overrides"`
		Raw       *string  `yaml:"raw_overrides"`
	} `yaml:"memberships"`
}

// LoadFixture reads a YAML fixture into the store
func (m *MemoryStore) LoadFixture(r io.Reader) error {
	var fx Fixture
	if err := yaml.NewDecoder(r).Decode(&fx); err != nil {
		return fmt.Errorf("failed to decode fixture: %w", err)
	}

	for _, u := range fx.Users {
		m.PutUser(User{ID: u.ID, IsSystemAdmin: u.SystemAdmin})
	}
	for _, r := range fx.Roles {
		perms := rawList(r.Permissions)
		if r.Raw != nil {
			perms = *r.Raw
		}
		m.PutRole(Role{
			ID:          r.ID,
			ProjectID:   r.ProjectID,
			Name:        r.Name,
			Position:    r.Position,
			Permissions: perms,
			IsDefault:   r.IsDefault,
		})
	}
	for _, ms := range fx.Memberships {
		var overrides *string
		switch {
		case ms.Raw != nil:
			overrides = ms.Raw
		case len(ms.Overrides) > 0:
			s := rawList(ms.Overrides)
			overrides = &s
		}
		m.PutMembership(Membership{
			ID:        ms.ID,
			UserID:    ms.UserID,
			ProjectID: ms.ProjectID,
			RoleID:    ms.RoleID,
			Overrides: overrides,
		})
	}
	return nil
}

// rawList encodes values verbatim, unknown entries included
func rawList(values []string) string {
	set := make(PermissionSet, len(values))
	for _, v := range values {
		set.Add(Permission(v))
	}
	return EncodePermissionList(set)
}
