// Package config loads crew's configuration from CREW_* environment variables.
//
// Server:
//
//	CREW_HOST="0.0.0.0"
//	CREW_PORT="8080"
//	CREW_HEALTH_PORT="9090"        # /health and /metrics
//	CREW_MAX_BODY_BYTES="1048576"
//
// Database:
//
//	CREW_DATABASE_URL="postgres://crew@localhost/crew?sslmode=disable"
//	CREW_DATABASE_MAX_OPEN_CONNS="25"
//	CREW_DATABASE_AUTO_MIGRATE="true"
//
// Permission lookup caches:
//
//	CREW_CACHE_L1_SIZE="10000"     # 0 disables the in-process cache
//	CREW_CACHE_L1_TTL="5s"
//	CREW_REDIS_URL="redis://localhost:6379/0"
//	CREW_REDIS_TTL="30s"
//
// Membership service:
//
//	CREW_ROLE_TEMPLATES="/etc/crew/roles.yaml"
//	CREW_TX_MAX_RETRIES="3"
//
// Rate limiting, token cleanup and observability:
//
//	CREW_RATE_LIMIT_USER_REQUESTS="1000"
//	CREW_RATE_LIMIT_WINDOW="1m"
//	CREW_TOKEN_CLEANUP_SCHEDULE="@hourly"
//	CREW_LOG_LEVEL="info"
//	CREW_OTEL_ENABLED="false"
//
// LoadConfig applies defaults for everything except CREW_DATABASE_URL and then
// calls Validate.
package config
