package projects

import (
	"time"

	"github.com/platinummonkey/crew/pkg/rbac"
)

// Project is a workspace whose members hold ranked roles
type Project struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	CreatedBy int64       `json:"created_by"`
	Roles     []rbac.Role `json:"roles,omitempty"`
}

// Member is one row of a project's member listing
type Member struct {
	UserID      int64             `json:"user_id"`
	Email       string            `json:"email"`
	DisplayName string            `json:"display_name"`
	RoleID      int64             `json:"role_id"`
	RoleName    string            `json:"role_name"`
	Position    int               `json:"position"`
	Overrides   []rbac.Permission `json:"overrides"`
	JoinedAt    time.Time         `json:"joined_at"`
}

// RoleSummary is a role with its decoded permission list
type RoleSummary struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	Position    int               `json:"position"`
	IsDefault   bool              `json:"is_default"`
	Permissions []rbac.Permission `json:"permissions"`
}

// RoleTemplate describes a role seeded into every new project
type RoleTemplate struct {
	Name        string   `yaml:"name" json:"name"`
	Position    int      `yaml:"position" json:"position"`
	Permissions []string `yaml:"permissions" json:"permissions"`
	Default     bool     `yaml:"default" json:"default"`
}
