// Package httputil provides the JSON response helpers, request parsing and
// generic middleware shared by crew's HTTP handlers.
//
// Every error body has the shape
//
//	{"error": "cannot remove the last owner", "code": "last_owner"}
//
// where code is omitted for generic failures.
//
// The server chains middleware outermost first:
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
package httputil
