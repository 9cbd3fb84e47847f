package projects

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/platinummonkey/crew/pkg/audit"
	"github.com/platinummonkey/crew/pkg/observability"
	"github.com/platinummonkey/crew/pkg/rbac"
)

// Operation names used in logs and metrics
const (
	opCreateProject    = "create_project"
	opAddMember        = "add_member"
	opChangeMemberRole = "change_member_role"
	opUpdateOverrides  = "update_overrides"
	opRemoveMember     = "remove_member"
	opLeave            = "leave"
	opSetSystemAdmin   = "set_system_admin"
)

// DefaultMaxTxRetries bounds how often a conflicting transaction is replayed
const DefaultMaxTxRetries = 3

// Service performs membership changes. Every mutation runs its authorization
// checks, invariant checks, writes and audit entry in one serializable transaction,
// then drops the affected cache entries once the transaction has committed.
type Service struct {
	db          *sql.DB
	templates   atomic.Pointer[[]RoleTemplate]
	auditLog    func(q audit.Querier) audit.Logger
	invalidator rbac.Invalidator
	reporter    rbac.IssueReporter
	logger      *observability.Logger
	metrics     *observability.Metrics
	maxRetries  int
}

// Option configures a Service
type Option func(*Service)

// WithTemplates replaces the roles seeded into new projects. Templates should come
// from DefaultTemplates, LoadTemplates or ParseTemplates.
func WithTemplates(templates []RoleTemplate) Option {
	return func(s *Service) {
		if len(templates) > 0 {
			s.templates.Store(&templates)
		}
	}
}

// WithoutAudit stops recording audit events, for databases without the
// audit_events table
func WithoutAudit() Option {
	return func(s *Service) {
		s.auditLog = func(audit.Querier) audit.Logger { return audit.NopLogger{} }
	}
}

// WithInvalidator sets the caches to clear after each committed change
func WithInvalidator(inv rbac.Invalidator) Option {
	return func(s *Service) {
		s.invalidator = inv
	}
}

// WithIssueReporter routes data-integrity issues seen inside transactions
func WithIssueReporter(fn rbac.IssueReporter) Option {
	return func(s *Service) {
		s.reporter = fn
	}
}

// WithLogger sets the service logger
func WithLogger(logger *observability.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records mutation outcomes and transaction retries
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// WithMaxTxRetries bounds replays of transactions aborted by serialization conflicts
func WithMaxTxRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// NewService creates a membership service over db
func NewService(db *sql.DB, opts ...Option) *Service {
	s := &Service{
		db:         db,
		auditLog:   func(q audit.Querier) audit.Logger { return audit.NewDBLogger(q) },
		logger:     observability.NewLogger(observability.InfoLevel, io.Discard),
		maxRetries: DefaultMaxTxRetries,
	}
	defaults := DefaultTemplates()
	s.templates.Store(&defaults)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Templates returns the role templates seeded into new projects
func (s *Service) Templates() []RoleTemplate {
	return *s.templates.Load()
}

// SetTemplates validates templates and uses them for projects created from now on.
// Existing projects keep their roles.
func (s *Service) SetTemplates(templates []RoleTemplate) error {
	if err := validateTemplates(templates); err != nil {
		return err
	}
	s.templates.Store(&templates)
	return nil
}

// checker builds a checker reading through q, which is the open transaction for
// mutations so that checks see the same snapshot as the writes
func (s *Service) checker(q rbac.Querier) (*rbac.Checker, *rbac.SQLStore) {
	store := rbac.NewSQLStore(q)
	return rbac.NewChecker(store, rbac.WithIssueReporter(s.reporter)), store
}

// CreateProject creates a project with the template roles and makes the actor
// its first member at the top rank
func (s *Service) CreateProject(ctx context.Context, actorID int64, name string) (*Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: project name is required", ErrInvalidInput)
	}

	var project *Project
	err := s.withTx(ctx, opCreateProject, func(tx *sql.Tx) error {
		_, store := s.checker(tx)
		if _, err := store.GetUser(ctx, actorID); err != nil {
			if errors.Is(err, rbac.ErrNotFound) {
				return fmt.Errorf("%w: user %d is not active", ErrForbidden, actorID)
			}
			return err
		}

		p := &Project{Name: name, CreatedBy: actorID}
		if err := tx.QueryRowContext(ctx, insertProjectQuery, name, actorID).Scan(&p.ID); err != nil {
			return fmt.Errorf("failed to create project: %w", err)
		}

		templates := s.Templates()
		for _, t := range templates {
			role := rbac.Role{
				ProjectID:   p.ID,
				Name:        t.Name,
				Position:    t.Position,
				Permissions: t.encodedPermissions(),
				IsDefault:   t.Default,
			}
			if err := tx.QueryRowContext(ctx, insertRoleQuery,
				role.ProjectID, role.Name, role.Position, role.Permissions, role.IsDefault,
			).Scan(&role.ID); err != nil {
				return fmt.Errorf("failed to create role %q: %w", t.Name, err)
			}
			p.Roles = append(p.Roles, role)
		}

		creatorRole := p.Roles[creatorTemplate(templates)]
		if _, err := tx.ExecContext(ctx, insertMembershipQuery, actorID, p.ID, creatorRole.ID); err != nil {
			return fmt.Errorf("failed to add project creator: %w", err)
		}

		project = p
		return s.recordAudit(ctx, tx, &audit.Event{
			EventType: audit.EventTypeProjectCreate,
			ActorID:   actorID,
			ProjectID: audit.Int64(p.ID),
			Message:   name,
			Changes: &audit.ChangeDetails{
				After: map[string]interface{}{
					"roles":        roleNames(p.Roles),
					"creator_role": creatorRole.Name,
				},
			},
		})
	})
	s.record(opCreateProject, err)
	if err != nil {
		return nil, err
	}

	s.logger.WithField("project_id", project.ID).
		WithField("actor_id", actorID).
		WithField("roles", roleNames(project.Roles)).
		Info("Project created")
	return project, nil
}

// SetSystemAdmin grants or revokes the system admin flag. Only system admins may
// call it, and the last active system admin cannot be revoked.
func (s *Service) SetSystemAdmin(ctx context.Context, actorID, targetID int64, grant bool) error {
	changed := false
	err := s.withTx(ctx, opSetSystemAdmin, func(tx *sql.Tx) error {
		_, store := s.checker(tx)

		actor, err := store.GetUser(ctx, actorID)
		if err != nil {
			if errors.Is(err, rbac.ErrNotFound) {
				return ErrForbidden
			}
			return err
		}
		if !actor.IsSystemAdmin {
			return fmt.Errorf("%w: system admin required", ErrForbidden)
		}

		target, err := store.GetUser(ctx, targetID)
		if err != nil {
			return notFound(err, "user %d", targetID)
		}
		if target.IsSystemAdmin == grant {
			return nil
		}

		if !grant {
			var others int
			if err := tx.QueryRowContext(ctx, countOtherSystemAdminsQuery, targetID).Scan(&others); err != nil {
				return fmt.Errorf("failed to count system admins: %w", err)
			}
			if others == 0 {
				return ErrLastSystemAdmin
			}
		}

		if _, err := tx.ExecContext(ctx, updateSystemAdminQuery, grant, targetID); err != nil {
			return fmt.Errorf("failed to update system admin flag: %w", err)
		}
		changed = true

		eventType := audit.EventTypeAdminSystemAdminGrant
		if !grant {
			eventType = audit.EventTypeAdminSystemAdminRevoke
		}
		return s.recordAudit(ctx, tx, &audit.Event{
			EventType:    eventType,
			ActorID:      actorID,
			TargetUserID: audit.Int64(targetID),
		})
	})
	s.record(opSetSystemAdmin, err)
	if err != nil || !changed {
		return err
	}

	s.metrics.SystemAdminChange(grant)
	s.invalidateUser(ctx, targetID)
	s.logger.WithField("actor_id", actorID).
		WithField("target_id", targetID).
		WithField("granted", grant).
		Info("System admin flag changed")
	return nil
}

// record counts a mutation by outcome
func (s *Service) record(operation string, err error) {
	s.metrics.MembershipMutation(operation, outcome(err))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyMember), errors.Is(err, ErrLastOwner), errors.Is(err, ErrLastSystemAdmin):
		return "conflict"
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidPermission):
		return "invalid"
	default:
		return "error"
	}
}

func (s *Service) invalidateUser(ctx context.Context, userID int64) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateUser(ctx, userID); err != nil {
		s.logger.WithField("user_id", userID).WithError(err).Warn("Failed to invalidate cached user")
	}
}

func (s *Service) invalidateMembership(ctx context.Context, userID, projectID int64) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateMembership(ctx, userID, projectID); err != nil {
		s.logger.WithField("user_id", userID).
			WithField("project_id", projectID).
			WithError(err).
			Warn("Failed to invalidate cached membership")
	}
}

// notFound maps a storage miss onto ErrNotFound
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, rbac.ErrNotFound) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
	}
	return err
}
