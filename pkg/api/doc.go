// Package api exposes project membership and permission queries over HTTP.
//
// Routes are registered on a gorilla/mux router by NewServer. Every route expects
// an authenticated request (see pkg/middleware.AuthMiddleware); the actor is the
// user on the request's auth context.
//
//	GET    /permissions                                   catalog
//	POST   /projects                                      create a project
//	GET    /projects/{projectID}/permissions/me           caller's effective permissions
//	GET    /projects/{projectID}/members                  list members
//	POST   /projects/{projectID}/members                  add a member
//	PUT    /projects/{projectID}/members/{userID}/role    change a member's role
//	PUT    /projects/{projectID}/members/{userID}/overrides
//	DELETE /projects/{projectID}/members/{userID}         remove a member
//	POST   /projects/{projectID}/leave                    leave a project
//	GET    /projects/{projectID}/roles                    list roles
//	GET    /projects/{projectID}/roles/{roleID}/permissions
//	GET    /projects/{projectID}/audit                    audit trail (members.manage)
//	PUT    /admin/users/{userID}/system-admin             grant or revoke system admin
//	POST   /auth/tokens, GET /auth/tokens, DELETE /auth/tokens/{tokenID}
//
// # Errors
//
// Errors are JSON bodies {"error": "...", "code": "..."}:
//
//	400 invalid_input, invalid_permission
//	403 forbidden, self_promotion
//	404 not_found
//	409 already_member, last_owner, last_system_admin
package api
