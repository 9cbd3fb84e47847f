// Package middleware provides HTTP middleware for authentication and rate limiting.
//
// AuthMiddleware validates "Authorization: Bearer crew_..." headers through a
// TokenValidator and stores an auth.AuthContext on the request:
//
//	authMW := middleware.NewAuthMiddleware(tokenStore, false)
//	router.Use(authMW.Handler)
//
// RateLimitMiddleware limits authenticated users by id and anonymous callers by client
// IP. Limiters are either in-process (RateLimiter) or shared through Redis
// (DistributedRateLimiter):
//
//	rl := middleware.NewRateLimitMiddleware(
//		middleware.NewDistributedRateLimiter(client, middleware.PerUserRateLimitConfig(), "crew:ratelimit:user"),
//		middleware.NewRateLimiter(middleware.DefaultRateLimitConfig()),
//		nil,
//	)
//
// Project permission gates live in pkg/rbac (PermissionMiddleware) and read the
// AuthContext set here.
package middleware
