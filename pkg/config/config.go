package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/storage"
)

// Cache backends
const (
	CacheNone    = "none"
	CacheMemory  = "memory"
	CacheRedis   = "redis"
	CacheLayered = "layered"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration, including the optional Redis connection
	Database storage.Config

	// Permission cache configuration
	Cache CacheConfig

	// Authentication configuration
	Auth AuthConfig

	// Rate limiting for mutating endpoints
	RateLimit RateLimitConfig

	// Override event archive
	Archive ArchiveConfig

	// Scheduled maintenance jobs
	Maintenance MaintenanceConfig

	// Bootstrap seed
	Seed SeedConfig

	// Observability configuration
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

// CacheConfig selects and sizes the permission cache
type CacheConfig struct {
	Backend    string
	TTL        time.Duration
	MaxEntries int
	KeyPrefix  string
	Channel    string
}

// AuthConfig holds authentication settings. API tokens are always accepted;
// OIDC is enabled when an issuer is set.
type AuthConfig struct {
	OIDCIssuerURL string
	OIDCClientID  string
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerWindow int
	Window            time.Duration
	Burst             int
}

// ArchiveConfig holds S3 settings for the override event archive
type ArchiveConfig struct {
	Enabled      bool
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	BatchSize    int
}

// MaintenanceConfig holds cron schedules for background jobs
type MaintenanceConfig struct {
	Enabled           bool
	IntegritySchedule string
	ArchiveSchedule   string
}

// SeedConfig points at the YAML bootstrap file
type SeedConfig struct {
	Path  string
	Watch bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Cache:         loadCacheConfig(),
		Auth:          loadAuthConfig(),
		RateLimit:     loadRateLimitConfig(),
		Archive:       loadArchiveConfig(),
		Maintenance:   loadMaintenanceConfig(),
		Seed:          loadSeedConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("WARDEN_HOST", "0.0.0.0"),
		Port:            getEnv("WARDEN_PORT", "8080"),
		ReadTimeout:     getEnvDuration("WARDEN_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WARDEN_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("WARDEN_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("WARDEN_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("WARDEN_MAX_BODY_BYTES", 1<<20),
		HealthPort:      getEnv("WARDEN_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads database and Redis configuration from environment
func loadDatabaseConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if driver := getEnv("WARDEN_DB_DRIVER", ""); driver != "" {
		cfg.Driver = driver
	}
	cfg.URL = getEnv("WARDEN_DB_URL", "")
	if maxConns := getEnvInt("WARDEN_DB_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns := getEnvInt("WARDEN_DB_MIN_CONNS", 0); minConns > 0 {
		cfg.MinConns = minConns
	}
	if timeout := getEnvDuration("WARDEN_DB_TIMEOUT", 0); timeout > 0 {
		cfg.Timeout = timeout
	}
	if lifetime := getEnvDuration("WARDEN_DB_MAX_LIFETIME", 0); lifetime > 0 {
		cfg.MaxLifetime = lifetime
	}
	if idle := getEnvDuration("WARDEN_DB_MAX_IDLE_TIME", 0); idle > 0 {
		cfg.MaxIdleTime = idle
	}

	// Redis config
	cfg.RedisURL = getEnv("WARDEN_REDIS_URL", "")
	cfg.RedisPassword = getEnv("WARDEN_REDIS_PASSWORD", "")
	if redisDB := getEnvInt("WARDEN_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("WARDEN_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("WARDEN_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	return cfg
}

// loadCacheConfig picks layered caching when Redis is configured
func loadCacheConfig() CacheConfig {
	backend := CacheMemory
	if os.Getenv("WARDEN_REDIS_URL") != "" {
		backend = CacheLayered
	}

	return CacheConfig{
		Backend:    strings.ToLower(getEnv("WARDEN_CACHE_BACKEND", backend)),
		TTL:        getEnvDuration("WARDEN_CACHE_TTL", 30*time.Minute),
		MaxEntries: getEnvInt("WARDEN_CACHE_MAX_ENTRIES", 10000),
		KeyPrefix:  getEnv("WARDEN_CACHE_KEY_PREFIX", "warden:perms:"),
		Channel:    getEnv("WARDEN_CACHE_CHANNEL", "warden:perms:invalidate"),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		OIDCIssuerURL: getEnv("WARDEN_OIDC_ISSUER_URL", ""),
		OIDCClientID:  getEnv("WARDEN_OIDC_CLIENT_ID", ""),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("WARDEN_RATE_LIMIT_ENABLED", true),
		RequestsPerWindow: getEnvInt("WARDEN_RATE_LIMIT_REQUESTS", 60),
		Window:            getEnvDuration("WARDEN_RATE_LIMIT_WINDOW", time.Minute),
		Burst:             getEnvInt("WARDEN_RATE_LIMIT_BURST", 10),
	}
}

func loadArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		Enabled:      getEnvBool("WARDEN_ARCHIVE_ENABLED", false),
		Bucket:       getEnv("WARDEN_S3_BUCKET", ""),
		Prefix:       getEnv("WARDEN_S3_PREFIX", "override-events/"),
		Region:       getEnv("WARDEN_S3_REGION", "us-east-1"),
		Endpoint:     getEnv("WARDEN_S3_ENDPOINT", ""),
		AccessKey:    getEnv("WARDEN_S3_ACCESS_KEY", ""),
		SecretKey:    getEnv("WARDEN_S3_SECRET_KEY", ""),
		UsePathStyle: getEnvBool("WARDEN_S3_USE_PATH_STYLE", false),
		BatchSize:    getEnvInt("WARDEN_ARCHIVE_BATCH_SIZE", 1000),
	}
}

func loadMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		Enabled:           getEnvBool("WARDEN_MAINTENANCE_ENABLED", true),
		IntegritySchedule: getEnv("WARDEN_INTEGRITY_SCHEDULE", "*/15 * * * *"),
		ArchiveSchedule:   getEnv("WARDEN_ARCHIVE_SCHEDULE", "@hourly"),
	}
}

func loadSeedConfig() SeedConfig {
	return SeedConfig{
		Path:  getEnv("WARDEN_SEED_FILE", ""),
		Watch: getEnvBool("WARDEN_SEED_WATCH", false),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("WARDEN_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("WARDEN_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("WARDEN_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("WARDEN_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("WARDEN_OTEL_SERVICE_NAME", "warden"),
		OTelServiceVersion: getEnv("WARDEN_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("WARDEN_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("WARDEN_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	switch c.Cache.Backend {
	case CacheNone, CacheMemory:
	case CacheRedis, CacheLayered:
		if c.Database.RedisURL == "" {
			return fmt.Errorf("redis URL is required for %s cache", c.Cache.Backend)
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be none, memory, redis, or layered)", c.Cache.Backend)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}

	if (c.Auth.OIDCIssuerURL == "") != (c.Auth.OIDCClientID == "") {
		return fmt.Errorf("OIDC issuer URL and client ID must be set together")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limit requests and window must be positive")
	}

	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("S3 bucket is required when the event archive is enabled")
	}

	if c.Maintenance.Enabled {
		if _, err := cron.ParseStandard(c.Maintenance.IntegritySchedule); err != nil {
			return fmt.Errorf("invalid integrity schedule %q: %w", c.Maintenance.IntegritySchedule, err)
		}
		if c.Archive.Enabled {
			if _, err := cron.ParseStandard(c.Maintenance.ArchiveSchedule); err != nil {
				return fmt.Errorf("invalid archive schedule %q: %w", c.Maintenance.ArchiveSchedule, err)
			}
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio <= 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be in (0, 1]")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
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

// getEnvFloat returns a float64 environment variable or a default
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
