// Package cli provides the crew command-line interface for inspecting project
// permissions and bootstrapping a deployment.
//
// # Overview
//
// Decision commands answer the same questions the server asks, against either a
// YAML fixture (-fixture) for offline reasoning about a policy, or a live
// Postgres database (-db, defaulting to $CREW_DATABASE_URL). Integrity problems
// in stored permission lists are logged to stderr; the answer treats the bad
// entries as granting nothing.
//
// # Commands
//
// catalog: List every known permission
//
//	crew catalog
//
// effective: Resolve a user's permissions in a project as JSON
//
//	crew effective -fixture policy.yaml -user 3 -project 1
//
// check: Exit non-zero unless the user holds the permissions
//
//	crew check -db $DB -user 3 -project 1 -perm tickets.create,tickets.edit -mode all
//
// can-manage / can-assign: Evaluate the rank rules
//
//	crew can-manage -fixture policy.yaml -actor 2 -target 3 -project 1
//	crew can-assign -fixture policy.yaml -actor 2 -project 1 -role 11
//
// role-permissions: Decode a role's permission list
//
//	crew role-permissions -fixture policy.yaml -role 10
//
// templates: Validate a role template file before pointing the server at it
//
//	crew templates -file roles.yaml
//
// migrate / issue-token: Prepare a database and mint the first API token
//
//	crew migrate -db $DB
//	crew issue-token -db $DB -user 1 -name bootstrap -expires 24h
//
// # Fixture Format
//
//	users:
//	  - id: 1
//	    system_admin: true
//	roles:
//	  - id: 10
//	    project_id: 1
//	    name: Owner
//	    position: 0
//	    permissions: [members.manage, project.delete]
//	memberships:
//	  - id: 100
//	    user_id: 2
//	    project_id: 1
//	    role_id: 10
//	    overrides: [reports.view]
//
// Decision commands print "allowed" or "denied"; a denial is returned as
// ErrDenied so main can exit with status 1.
package cli
