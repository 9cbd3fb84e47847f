// Package testutil provides database fixtures shared by package tests.
package testutil

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for testing
)

// schema mirrors the Postgres migrations closely enough for the queries the
// stores run. JSONB columns are TEXT here.
const schema = `
	CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		is_system_admin BOOLEAN NOT NULL DEFAULT FALSE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		created_by INTEGER REFERENCES users(id),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE roles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		position INTEGER NOT NULL,
		permissions TEXT NOT NULL DEFAULT '[]',
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(project_id, name)
	);

	CREATE TABLE project_memberships (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		role_id INTEGER NOT NULL REFERENCES roles(id),
		overrides TEXT,
		joined_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, project_id)
	);

	CREATE TABLE api_tokens (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		token_hash TEXT NOT NULL UNIQUE,
		token_prefix TEXT NOT NULL,
		name TEXT NOT NULL,
		expires_at TIMESTAMP,
		last_used_at TIMESTAMP,
		revoked_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TIMESTAMP NOT NULL,
		event_type TEXT NOT NULL,
		actor_id INTEGER NOT NULL,
		project_id INTEGER,
		target_user_id INTEGER,
		request_id TEXT,
		message TEXT,
		changes TEXT
	);
`

// NewSQLiteDB opens an in-memory database with the crew schema.
// The pool is limited to one connection because every connection to
// ":memory:" gets its own empty database.
func NewSQLiteDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("Failed to create test tables: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// InsertUser creates an active user and returns its id
func InsertUser(t *testing.T, db *sql.DB, email string, systemAdmin bool) int64 {
	t.Helper()
	return insert(t, db,
		`INSERT INTO users (email, is_system_admin) VALUES ($1, $2) RETURNING id`,
		email, systemAdmin)
}

// InsertProject creates a project row and returns its id
func InsertProject(t *testing.T, db *sql.DB, name string) int64 {
	t.Helper()
	return insert(t, db, `INSERT INTO projects (name) VALUES ($1) RETURNING id`, name)
}

// InsertRole creates a role with a raw permission list and returns its id
func InsertRole(t *testing.T, db *sql.DB, projectID int64, name string, position int, permissions string) int64 {
	t.Helper()
	return insert(t, db,
		`INSERT INTO roles (project_id, name, position, permissions) VALUES ($1, $2, $3, $4) RETURNING id`,
		projectID, name, position, permissions)
}

// InsertMembership joins userID to projectID; overrides may be nil
func InsertMembership(t *testing.T, db *sql.DB, userID, projectID, roleID int64, overrides *string) int64 {
	t.Helper()
	return insert(t, db,
		`INSERT INTO project_memberships (user_id, project_id, role_id, overrides) VALUES ($1, $2, $3, $4) RETURNING id`,
		userID, projectID, roleID, overrides)
}

func insert(t *testing.T, db *sql.DB, query string, args ...any) int64 {
	t.Helper()
	var id int64
	if err := db.QueryRowContext(context.Background(), query, args...).Scan(&id); err != nil {
		t.Fatalf("Failed to insert fixture: %v", err)
	}
	return id
}
