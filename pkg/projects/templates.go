package projects

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/platinummonkey/crew/pkg/rbac"
	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultTemplatesYAML string

type templateFile struct {
	Roles []RoleTemplate `yaml:"roles"`
}

// DefaultTemplates returns the built-in roles: Owner, Admin, Member (default) and Viewer
func DefaultTemplates() []RoleTemplate {
	templates, err := ParseTemplates(strings.NewReader(defaultTemplatesYAML))
	if err != nil {
		panic(fmt.Sprintf("projects: embedded role templates are invalid: %v", err))
	}
	return templates
}

// LoadTemplates reads role templates from a YAML file
func LoadTemplates(path string) ([]RoleTemplate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open role templates: %w", err)
	}
	defer f.Close()

	templates, err := ParseTemplates(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return templates, nil
}

// ParseTemplates decodes and validates a role template document
func ParseTemplates(r io.Reader) ([]RoleTemplate, error) {
	var file templateFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode role templates: %w", err)
	}
	if err := validateTemplates(file.Roles); err != nil {
		return nil, err
	}
	return file.Roles, nil
}

func validateTemplates(templates []RoleTemplate) error {
	if len(templates) == 0 {
		return fmt.Errorf("%w: at least one role template is required", ErrInvalidInput)
	}

	names := make(map[string]bool, len(templates))
	defaults := 0
	for _, t := range templates {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("%w: role template name is required", ErrInvalidInput)
		}
		key := strings.ToLower(t.Name)
		if names[key] {
			return fmt.Errorf("%w: duplicate role template %q", ErrInvalidInput, t.Name)
		}
		names[key] = true

		if t.Position < 0 {
			return fmt.Errorf("%w: role template %q has a negative position", ErrInvalidInput, t.Name)
		}
		for _, p := range t.Permissions {
			if !rbac.IsValidPermission(p) {
				return fmt.Errorf("%w: role template %q: %q", ErrInvalidPermission, t.Name, p)
			}
		}
		if t.Default {
			defaults++
		}
	}

	if defaults != 1 {
		return fmt.Errorf("%w: exactly one role template must be the default, found %d", ErrInvalidInput, defaults)
	}
	return nil
}

// creatorTemplate returns the index of the template the project creator joins with
func creatorTemplate(templates []RoleTemplate) int {
	best := 0
	for i, t := range templates {
		if rbac.Outranks(t.Position, templates[best].Position) {
			best = i
		}
	}
	return best
}

func (t RoleTemplate) encodedPermissions() string {
	set := rbac.NewPermissionSet()
	for _, p := range t.Permissions {
		if perm, ok := rbac.ParsePermission(p); ok {
			set.Add(perm)
		}
	}
	return rbac.EncodePermissionList(set)
}
