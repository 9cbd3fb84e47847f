// Package projects implements project creation and membership management on top
// of pkg/rbac.
//
// Every mutation runs in a serializable transaction. The rbac.Checker used for
// authorization inside it reads through the same transaction, so hierarchy checks,
// the "at least one top-rank member" and "at least one system admin" invariants,
// and the write itself all see one snapshot. Transactions aborted by Postgres with
// a serialization conflict are replayed up to WithMaxTxRetries times. Cached
// permission data is invalidated only after commit.
//
//	svc := projects.NewService(db,
//		projects.WithInvalidator(rbac.Invalidators{l1, l2}),
//		projects.WithIssueReporter(projects.NewIssueLogger(logger, metrics)),
//		projects.WithMetrics(metrics),
//	)
//	project, err := svc.CreateProject(ctx, userID, "Platform")
//
// Errors wrap the sentinels in errors.go; pkg/api maps them to HTTP statuses.
package projects
