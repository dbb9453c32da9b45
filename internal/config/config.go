package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Cache         CacheConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
	Security      SecurityConfig
	RateLimit     RateLimitConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
}

// CacheConfig holds decision cache configuration
type CacheConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int

	// TTLs per cached value class
	AuthorizationTTL time.Duration
	RoleHierarchyTTL time.Duration
	PolicyTTL        time.Duration
	TenantConfigTTL  time.Duration

	// Circuit breaker guarding the backend
	BreakerFailureThreshold int
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenSuccess  int
}

// AuditConfig holds audit log writer configuration
type AuditConfig struct {
	BufferSize    int
	FlushInterval time.Duration
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	TracingEnabled bool
	MetricsEnabled bool
	ServiceName    string
	ServiceVersion string
}

// SecurityConfig holds edge authentication configuration
type SecurityConfig struct {
	// JWTSecret verifies HS256 service tokens on the decision endpoint.
	// Empty disables edge authentication (development mode).
	JWTSecret string

	Argon2Memory      uint32
	Argon2Iterations  uint32
	Argon2Parallelism uint8
	Argon2SaltLength  uint32
	Argon2KeyLength   uint32
}

// RateLimitConfig holds token bucket settings for the decision endpoint
type RateLimitConfig struct {
	MaxTokens int
	Interval  time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("HOST", "0.0.0.0"),
			Port:            getEnv("PORT", "8080"),
			ReadTimeout:     parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout:    parseDuration("SERVER_WRITE_TIMEOUT", "15s"),
			IdleTimeout:     parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
			RequestTimeout:  parseDuration("SERVER_REQUEST_TIMEOUT", "10s"),
			ShutdownTimeout: parseDuration("SHUTDOWN_TIMEOUT", "15s"),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        parseInt("DB_MAX_CONNS", 25),
			MinConns:        parseInt("DB_MIN_CONNS", 5),
			ConnMaxLifetime: parseDuration("DB_CONN_MAX_LIFETIME", "5m"),
		},
		Cache: CacheConfig{
			Enabled:  parseBool("CACHE_ENABLED", true),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       parseInt("REDIS_DB", 0),

			AuthorizationTTL: parseSeconds("CACHE_TTL_AUTHORIZATION", 300),
			RoleHierarchyTTL: parseSeconds("CACHE_TTL_ROLE_HIERARCHY", 3600),
			PolicyTTL:        parseSeconds("CACHE_TTL_POLICY", 1800),
			TenantConfigTTL:  parseSeconds("CACHE_TTL_TENANT_CONFIG", 7200),

			BreakerFailureThreshold: parseInt("CACHE_BREAKER_FAILURES", 5),
			BreakerOpenTimeout:      parseDuration("CACHE_BREAKER_OPEN_TIMEOUT", "30s"),
			BreakerHalfOpenSuccess:  parseInt("CACHE_BREAKER_HALF_OPEN_SUCCESSES", 2),
		},
		Audit: AuditConfig{
			BufferSize:    parseInt("AUDIT_BUFFER_SIZE", 1024),
			FlushInterval: parseDuration("AUDIT_FLUSH_INTERVAL", "1s"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			TracingEnabled: parseBool("TRACING_ENABLED", false),
			MetricsEnabled: parseBool("METRICS_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "authz-engine"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
		},
		Security: SecurityConfig{
			JWTSecret:         getEnv("AUTH_JWT_SECRET", ""),
			Argon2Memory:      uint32(parseInt("ARGON2_MEMORY", 65536)),
			Argon2Iterations:  uint32(parseInt("ARGON2_ITERATIONS", 3)),
			Argon2Parallelism: uint8(parseInt("ARGON2_PARALLELISM", 4)),
			Argon2SaltLength:  uint32(parseInt("ARGON2_SALT_LENGTH", 16)),
			Argon2KeyLength:   uint32(parseInt("ARGON2_KEY_LENGTH", 32)),
		},
		RateLimit: RateLimitConfig{
			MaxTokens: parseInt("RATE_LIMIT_MAX_TOKENS", 100),
			Interval:  parseSeconds("RATE_LIMIT_INTERVAL_SECONDS", 60),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.RateLimit.MaxTokens <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX_TOKENS must be positive")
	}
	if c.Cache.BreakerFailureThreshold <= 0 {
		return fmt.Errorf("CACHE_BREAKER_FAILURES must be positive")
	}
	return nil
}

// RedisAddr returns the host:port address of the cache backend.
func (c *CacheConfig) RedisAddr() string {
	return c.Host + ":" + c.Port
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}

// parseSeconds reads an integer number of seconds, matching the wire-level
// convention of the cache TTL and rate limit variables.
func parseSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(parseInt(key, defaultValue)) * time.Second
}
