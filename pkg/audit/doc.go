// Package audit records committed membership changes for later review.
//
// # Overview
//
// Every change made through pkg/projects (project creation, member additions,
// role changes, override edits, removals and system admin grants) produces one
// Event with the actor, the project, the affected user and before/after values.
// The projects service writes events with a DBLogger bound to its transaction,
// so an entry exists exactly when the change it describes committed.
//
// # Usage Example
//
// Record inside a transaction:
//
//	err := audit.NewDBLogger(tx).Log(ctx, &audit.Event{
//		EventType:    audit.EventTypeMemberRoleChange,
//		ActorID:      actorID,
//		ProjectID:    audit.Int64(projectID),
//		TargetUserID: audit.Int64(targetID),
//		Changes: &audit.ChangeDetails{
//			Before: map[string]interface{}{"role": "Member"},
//			After:  map[string]interface{}{"role": "Admin"},
//		},
//	})
//
// Search a project's history:
//
//	events, err := audit.NewDBLogger(db).Search(ctx, audit.SearchFilter{
//		ProjectID:  &projectID,
//		EventTypes: []audit.EventType{audit.EventTypeMemberRemove},
//		Limit:      20,
//	})
//
// # Retention
//
// Cleanup deletes events older than a retention window; cmd/crew runs it on a
// cron schedule when CREW_AUDIT_RETENTION is set.
package audit
