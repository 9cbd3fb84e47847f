package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/crew/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Cache         CacheConfig
	RateLimit     RateLimitConfig
	RBAC          RBACConfig
	Tokens        TokenConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// AutoMigrate applies pending schema migrations on startup
	AutoMigrate bool
}

// CacheConfig controls the permission lookup caches
type CacheConfig struct {
	// L1 is the in-process LRU; size 0 disables it
	L1Size int
	L1TTL  time.Duration

	// Redis is optional; an empty URL disables the shared cache
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisPoolSize   int
	RedisMaxRetries int
	RedisTTL        time.Duration
	RedisKeyPrefix  string
}

// RateLimitConfig holds request limits
type RateLimitConfig struct {
	Enabled      bool
	UserRequests int
	AnonRequests int
	Window       time.Duration
	Burst        int
	FailOpen     bool
	UseRedis     bool
}

// RBACConfig holds permission engine settings
type RBACConfig struct {
	// TemplatesPath overrides the built-in role templates seeded into new projects
	TemplatesPath string
	// TxMaxRetries bounds retries of serializable membership transactions
	TxMaxRetries int
}

// TokenConfig controls API token maintenance
type TokenConfig struct {
	// CleanupSchedule is a cron expression for revoking expired tokens; empty disables
	CleanupSchedule string
}

// AuditConfig controls retention of the audit trail
type AuditConfig struct {
	// Retention is how long events are kept; 0 keeps them forever
	Retention       time.Duration
	CleanupSchedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  observability.LogLevel
	LogFormat observability.LogFormat

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Cache:         loadCacheConfig(),
		RateLimit:     loadRateLimitConfig(),
		RBAC:          loadRBACConfig(),
		Tokens:        loadTokenConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("CREW_HOST", "0.0.0.0"),
		Port:            getEnv("CREW_PORT", "8080"),
		ReadTimeout:     getEnvDuration("CREW_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("CREW_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("CREW_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("CREW_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("CREW_MAX_BODY_BYTES", 1<<20),
		HealthPort:      getEnv("CREW_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("CREW_DATABASE_URL", ""),
		MaxOpenConns:    getEnvInt("CREW_DATABASE_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("CREW_DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("CREW_DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		AutoMigrate:     getEnvBool("CREW_DATABASE_AUTO_MIGRATE", true),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		L1Size:          getEnvInt("CREW_CACHE_L1_SIZE", 10000),
		L1TTL:           getEnvDuration("CREW_CACHE_L1_TTL", 5*time.Second),
		RedisURL:        getEnv("CREW_REDIS_URL", ""),
		RedisPassword:   getEnv("CREW_REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("CREW_REDIS_DB", 0),
		RedisPoolSize:   getEnvInt("CREW_REDIS_POOL_SIZE", 0),
		RedisMaxRetries: getEnvInt("CREW_REDIS_MAX_RETRIES", 0),
		RedisTTL:        getEnvDuration("CREW_REDIS_TTL", 30*time.Second),
		RedisKeyPrefix:  getEnv("CREW_REDIS_KEY_PREFIX", "crew"),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:      getEnvBool("CREW_RATE_LIMIT_ENABLED", true),
		UserRequests: getEnvInt("CREW_RATE_LIMIT_USER_REQUESTS", 1000),
		AnonRequests: getEnvInt("CREW_RATE_LIMIT_ANON_REQUESTS", 100),
		Window:       getEnvDuration("CREW_RATE_LIMIT_WINDOW", time.Minute),
		Burst:        getEnvInt("CREW_RATE_LIMIT_BURST", 50),
		FailOpen:     getEnvBool("CREW_RATE_LIMIT_FAIL_OPEN", true),
		UseRedis:     getEnvBool("CREW_RATE_LIMIT_USE_REDIS", true),
	}
}

func loadRBACConfig() RBACConfig {
	return RBACConfig{
		TemplatesPath: getEnv("CREW_ROLE_TEMPLATES", ""),
		TxMaxRetries:  getEnvInt("CREW_TX_MAX_RETRIES", 3),
	}
}

func loadTokenConfig() TokenConfig {
	return TokenConfig{
		CleanupSchedule: getEnv("CREW_TOKEN_CLEANUP_SCHEDULE", "@hourly"),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Retention:       getEnvDuration("CREW_AUDIT_RETENTION", 0),
		CleanupSchedule: getEnv("CREW_AUDIT_CLEANUP_SCHEDULE", "@daily"),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("CREW_LOG_LEVEL", "info")),
		LogFormat:          observability.LogFormat(getEnv("CREW_LOG_FORMAT", "json")),
		MetricsEnabled:     getEnvBool("CREW_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("CREW_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("CREW_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("CREW_OTEL_SERVICE_NAME", "crew"),
		OTelServiceVersion: getEnv("CREW_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("CREW_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("CREW_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required (CREW_DATABASE_URL)")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database max open connections must be positive")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database max idle connections (%d) exceeds max open connections (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Cache.L1Size < 0 {
		return fmt.Errorf("cache L1 size must not be negative")
	}
	if c.Cache.L1Size > 0 && c.Cache.L1TTL <= 0 {
		return fmt.Errorf("cache L1 TTL must be positive when the L1 cache is enabled")
	}
	if c.Cache.RedisURL != "" && c.Cache.RedisTTL <= 0 {
		return fmt.Errorf("redis TTL must be positive when redis is configured")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.UserRequests <= 0 || c.RateLimit.AnonRequests <= 0 {
			return fmt.Errorf("rate limit request counts must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
		if c.RateLimit.Burst < 0 {
			return fmt.Errorf("rate limit burst must not be negative")
		}
	}

	if c.RBAC.TxMaxRetries < 0 {
		return fmt.Errorf("transaction max retries must not be negative")
	}

	if c.Audit.Retention < 0 {
		return fmt.Errorf("audit retention must not be negative")
	}
	if c.Audit.Retention > 0 && c.Audit.CleanupSchedule == "" {
		return fmt.Errorf("audit cleanup schedule is required when retention is set")
	}

	format, err := observability.ParseLogFormat(string(c.Observability.LogFormat))
	if err != nil {
		return err
	}
	c.Observability.LogFormat = format

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
