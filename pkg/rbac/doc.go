// Package rbac provides hierarchical, project-scoped role-based access control.
//
// # Overview
//
// Every project owns an ordered list of roles. Each role has a position (lower is
// more authoritative) and a list of permissions drawn from a closed catalog. A user
// joins a project through a membership that points at exactly one role and may carry
// additive permission overrides. System administrators bypass all of this and hold
// every permission in every project.
//
// # Permission Catalog
//
// Permissions are dotted identifiers:
//
//	project.update     project.delete     project.settings
//	members.manage     roles.manage
//	tickets.create     tickets.edit       tickets.delete
//	tickets.assign     tickets.transition
//	comments.create    comments.delete
//	sprints.manage     labels.manage      reports.view
//
// Anything outside the catalog is never granted, even if it is persisted.
//
// # Effective Permissions
//
// The effective set of a user in a project is the role's permissions unioned with the
// membership's overrides:
//
//	checker := rbac.NewChecker(store)
//	eff := checker.EffectivePermissions(ctx, userID, projectID)
//	if eff.Permissions.Has(rbac.PermTicketsCreate) {
//		// ...
//	}
//
// Persisted lists are decoded defensively. A corrupt list yields nothing, and unknown
// entries are dropped. Neither case returns an error; register a reporter to hear
// about them:
//
//	checker := rbac.NewChecker(store, rbac.WithIssueReporter(func(ctx context.Context, issue rbac.Issue) {
//		logger.WithField("kind", issue.Kind).Warn("permission data issue")
//	}))
//
// # Guards
//
//	HasPermission(ctx, user, project, perm)
//	HasAnyPermission(ctx, user, project, perms...)   // false for an empty list
//	HasAllPermissions(ctx, user, project, perms...)  // true for an empty list
//	IsMember(ctx, user, project)
//
// # Hierarchy
//
// CanManageMember and CanAssignRole compare role positions strictly: equal ranks never
// manage each other, and no one manages themself through CanManageMember. The top rank
// of a project is its minimum position (see TopPosition), never a role name.
//
// # Storage
//
// Checker reads through the Storage interface. Implementations:
//
//	SQLStore     Postgres (or any database/sql driver using $n placeholders); accepts
//	             a *sql.Tx so checks and writes can share one snapshot
//	CachedStore  in-process LRU with TTL and miss coalescing
//	RedisStore   shared cache for multiple replicas
//	MemoryStore  fixtures for tests and offline tooling
//
// Caches only hold rows that exist. Writers must call the Invalidator methods after a
// change so revocations take effect before the TTL.
//
// # HTTP
//
// PermissionMiddleware gates routes carrying a {projectID} path variable:
//
//	pm := rbac.NewPermissionMiddleware(checker, metrics)
//	router.Handle("/projects/{projectID}/members",
//		pm.RequirePermission(rbac.PermMembersManage)(handler))
//
// Migrations for the backing schema live in GetMigrations and RunMigrations.
package rbac
