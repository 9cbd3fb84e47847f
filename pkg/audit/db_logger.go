package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Querier is satisfied by *sql.DB and *sql.Tx
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DBLogger implements audit logging to the audit_events table. The table is
// created by the rbac migrations.
type DBLogger struct {
	q Querier
}

// NewDBLogger creates a database-backed audit logger over q. Pass the open
// transaction to record an event atomically with the change.
func NewDBLogger(q Querier) *DBLogger {
	return &DBLogger{q: q}
}

// Log implements Logger
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	prepare(ctx, event)

	var changes sql.NullString
	if event.Changes != nil {
		data, err := json.Marshal(event.Changes)
		if err != nil {
			return fmt.Errorf("failed to marshal changes: %w", err)
		}
		changes = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO audit_events (
			timestamp, event_type, actor_id, project_id, target_user_id,
			request_id, message, changes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	err := l.q.QueryRowContext(ctx, query,
		event.Timestamp, string(event.EventType), event.ActorID, event.ProjectID, event.TargetUserID,
		event.RequestID, event.Message, changes,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	return nil
}

// Search returns events matching filter, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	query := `
		SELECT
			id, timestamp, event_type, actor_id, project_id, target_user_id,
			request_id, message, changes
		FROM audit_events
		WHERE 1=1
	`

	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.StartTime != nil {
		query += " AND timestamp >= " + arg(*filter.StartTime)
	}
	if filter.EndTime != nil {
		query += " AND timestamp <= " + arg(*filter.EndTime)
	}
	if filter.ProjectID != nil {
		query += " AND project_id = " + arg(*filter.ProjectID)
	}
	if filter.ActorID != nil {
		query += " AND actor_id = " + arg(*filter.ActorID)
	}
	if filter.TargetUserID != nil {
		query += " AND target_user_id = " + arg(*filter.TargetUserID)
	}
	if len(filter.EventTypes) > 0 {
		placeholders := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			placeholders[i] = arg(string(et))
		}
		query += " AND event_type IN (" + strings.Join(placeholders, ", ") + ")"
	}

	query += " ORDER BY timestamp DESC, id DESC"
	query += " LIMIT " + arg(filter.limit())
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := l.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		event := &Event{}
		var (
			eventType string
			projectID sql.NullInt64
			targetID  sql.NullInt64
			requestID sql.NullString
			message   sql.NullString
			changes   sql.NullString
		)

		if err := rows.Scan(
			&event.ID, &event.Timestamp, &eventType, &event.ActorID, &projectID, &targetID,
			&requestID, &message, &changes,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}

		event.EventType = EventType(eventType)
		event.RequestID = requestID.String
		event.Message = message.String
		if projectID.Valid {
			event.ProjectID = Int64(projectID.Int64)
		}
		if targetID.Valid {
			event.TargetUserID = Int64(targetID.Int64)
		}
		if changes.Valid && changes.String != "" {
			event.Changes = &ChangeDetails{}
			if err := json.Unmarshal([]byte(changes.String), event.Changes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
			}
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}

	return events, nil
}

// Cleanup deletes events older than retention and returns how many were removed
func (l *DBLogger) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-retention)

	result, err := l.q.ExecContext(ctx, `DELETE FROM audit_events WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up audit events: %w", err)
	}
	return result.RowsAffected()
}
