package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/platinummonkey/crew/pkg/rbac")

// Querier is satisfied by both *sql.DB and *sql.Tx, so a store can be bound to a
// transaction and read the same snapshot as the writes that follow.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore implements Storage over the users, roles and project_memberships tables
type SQLStore struct {
	q Querier
}

// NewSQLStore creates a store reading through q
func NewSQLStore(q Querier) *SQLStore {
	return &SQLStore{q: q}
}

const (
	roleColumns = `r.id, r.project_id, r.name, r.position, r.permissions, r.is_default`

	getUserQuery = `
		SELECT id, is_system_admin
		FROM users
		WHERE id = $1 AND is_active = TRUE
	`

	getMembershipQuery = `
		SELECT m.id, m.user_id, m.project_id, m.role_id, m.overrides, ` + roleColumns + `
		FROM project_memberships m
		JOIN roles r ON r.id = m.role_id AND r.project_id = m.project_id
		WHERE m.user_id = $1 AND m.project_id = $2
	`

	getRoleQuery = `
		SELECT ` + roleColumns + `
		FROM roles r
		WHERE r.id = $1 AND r.project_id = $2
	`

	getRoleByIDQuery = `
		SELECT ` + roleColumns + `
		FROM roles r
		WHERE r.id = $1
	`
)

// GetUser returns an active user. Deactivated accounts are reported as ErrNotFound.
func (s *SQLStore) GetUser(ctx context.Context, userID int64) (*User, error) {
	ctx, span := startSpan(ctx, "rbac.GetUser", attribute.Int64("user.id", userID))
	defer span.End()

	var u User
	err := s.q.QueryRowContext(ctx, getUserQuery, userID).Scan(&u.ID, &u.IsSystemAdmin)
	if err != nil {
		return nil, endSpan(span, mapNoRows(err, "user %d", userID))
	}
	return &u, nil
}

// GetMembership returns the membership of userID in projectID with its role
func (s *SQLStore) GetMembership(ctx context.Context, userID, projectID int64) (*Membership, error) {
	ctx, span := startSpan(ctx, "rbac.GetMembership",
		attribute.Int64("user.id", userID),
		attribute.Int64("project.id", projectID),
	)
	defer span.End()

	var m Membership
	var overrides sql.NullString
	var perms sql.NullString
	err := s.q.QueryRowContext(ctx, getMembershipQuery, userID, projectID).Scan(
		&m.ID,
		&m.UserID,
		&m.ProjectID,
		&m.RoleID,
		&overrides,
		&m.Role.ID,
		&m.Role.ProjectID,
		&m.Role.Name,
		&m.Role.Position,
		&perms,
		&m.Role.IsDefault,
	)
	if err != nil {
		return nil, endSpan(span, mapNoRows(err, "membership of user %d in project %d", userID, projectID))
	}

	if overrides.Valid {
		v := overrides.String
		m.Overrides = &v
	}
	m.Role.Permissions = perms.String
	return &m, nil
}

// GetRole returns roleID only if it belongs to projectID
func (s *SQLStore) GetRole(ctx context.Context, roleID, projectID int64) (*Role, error) {
	ctx, span := startSpan(ctx, "rbac.GetRole",
		attribute.Int64("role.id", roleID),
		attribute.Int64("project.id", projectID),
	)
	defer span.End()

	role, err := scanRole(s.q.QueryRowContext(ctx, getRoleQuery, roleID, projectID))
	if err != nil {
		return nil, endSpan(span, mapNoRows(err, "role %d in project %d", roleID, projectID))
	}
	return role, nil
}

// GetRoleByID returns roleID regardless of project
func (s *SQLStore) GetRoleByID(ctx context.Context, roleID int64) (*Role, error) {
	ctx, span := startSpan(ctx, "rbac.GetRoleByID", attribute.Int64("role.id", roleID))
	defer span.End()

	role, err := scanRole(s.q.QueryRowContext(ctx, getRoleByIDQuery, roleID))
	if err != nil {
		return nil, endSpan(span, mapNoRows(err, "role %d", roleID))
	}
	return role, nil
}

// scanRole scans a role from a database row
func scanRole(row interface {
	Scan(dest ...any) error
}) (*Role, error) {
	var r Role
	var perms sql.NullString
	if err := row.Scan(&r.ID, &r.ProjectID, &r.Name, &r.Position, &perms, &r.IsDefault); err != nil {
		return nil, err
	}
	r.Permissions = perms.String
	return &r, nil
}

func mapNoRows(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", fmt.Sprintf(format, args...), err)
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...), trace.WithSpanKind(trace.SpanKindClient))
}

// endSpan marks span as failed unless err is a plain missing row
func endSpan(span trace.Span, err error) error {
	if errors.Is(err, ErrNotFound) {
		span.SetAttributes(attribute.Bool("rbac.found", false))
		return err
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
