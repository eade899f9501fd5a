package config

import (
	"strings"
	"testing"
	"time"

	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/storage"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "WARDEN_TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "WARDEN_TEST_VAR_NOT_SET",
			defaultValue: "default",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			if got := getEnv(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		want         bool
	}{
		{name: "true", envValue: "true", want: true},
		{name: "TRUE", envValue: "TRUE", want: true},
		{name: "1", envValue: "1", want: true},
		{name: "false", envValue: "false", defaultValue: true, want: false},
		{name: "garbage is false", envValue: "yes please", defaultValue: true, want: false},
		{name: "unset uses default", defaultValue: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("WARDEN_TEST_BOOL", tt.envValue)
			}

			if got := getEnvBool("WARDEN_TEST_BOOL", tt.defaultValue); got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvNumbers tests the integer, float and duration helpers
func TestGetEnvNumbers(t *testing.T) {
	t.Run("int", func(t *testing.T) {
		t.Setenv("WARDEN_TEST_INT", "42")
		if got := getEnvInt("WARDEN_TEST_INT", 7); got != 42 {
			t.Errorf("getEnvInt() = %d, want 42", got)
		}
		t.Setenv("WARDEN_TEST_INT", "forty-two")
		if got := getEnvInt("WARDEN_TEST_INT", 7); got != 7 {
			t.Errorf("getEnvInt() with invalid value = %d, want default 7", got)
		}
	})

	t.Run("int64", func(t *testing.T) {
		t.Setenv("WARDEN_TEST_INT64", "9223372036854775807")
		if got := getEnvInt64("WARDEN_TEST_INT64", 1); got != 9223372036854775807 {
			t.Errorf("getEnvInt64() = %d", got)
		}
	})

	t.Run("float", func(t *testing.T) {
		t.Setenv("WARDEN_TEST_FLOAT", "0.25")
		if got := getEnvFloat("WARDEN_TEST_FLOAT", 1); got != 0.25 {
			t.Errorf("getEnvFloat() = %v, want 0.25", got)
		}
		t.Setenv("WARDEN_TEST_FLOAT", "quarter")
		if got := getEnvFloat("WARDEN_TEST_FLOAT", 1); got != 1 {
			t.Errorf("getEnvFloat() with invalid value = %v, want default 1", got)
		}
	})

	t.Run("duration", func(t *testing.T) {
		t.Setenv("WARDEN_TEST_DURATION", "90s")
		if got := getEnvDuration("WARDEN_TEST_DURATION", time.Second); got != 90*time.Second {
			t.Errorf("getEnvDuration() = %v, want 90s", got)
		}
		t.Setenv("WARDEN_TEST_DURATION", "90")
		if got := getEnvDuration("WARDEN_TEST_DURATION", time.Second); got != time.Second {
			t.Errorf("getEnvDuration() with invalid value = %v, want default 1s", got)
		}
	})
}

// TestParseLogLevel tests the parseLogLevel function
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  observability.LogLevel
	}{
		{"debug", observability.DebugLevel},
		{"DEBUG", observability.DebugLevel},
		{"info", observability.InfoLevel},
		{"warn", observability.WarnLevel},
		{"warning", observability.WarnLevel},
		{"error", observability.ErrorLevel},
		{"", observability.InfoLevel},
		{"verbose", observability.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLogLevel(tt.input); got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// TestLoadServerConfig tests server defaults and overrides
func TestLoadServerConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := loadServerConfig()
		if cfg.Host != "0.0.0.0" || cfg.Port != "8080" || cfg.HealthPort != "9090" {
			t.Errorf("unexpected listen defaults: %+v", cfg)
		}
		if cfg.ShutdownTimeout != 30*time.Second {
			t.Errorf("ShutdownTimeout = %v, want 30s", cfg.ShutdownTimeout)
		}
		if cfg.MaxBodyBytes != 1<<20 {
			t.Errorf("MaxBodyBytes = %d, want %d", cfg.MaxBodyBytes, 1<<20)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("WARDEN_HOST", "127.0.0.1")
		t.Setenv("WARDEN_PORT", "8443")
		t.Setenv("WARDEN_READ_TIMEOUT", "5s")
		t.Setenv("WARDEN_MAX_BODY_BYTES", "4096")

		cfg := loadServerConfig()
		if cfg.Host != "127.0.0.1" || cfg.Port != "8443" {
			t.Errorf("listen address not overridden: %+v", cfg)
		}
		if cfg.ReadTimeout != 5*time.Second {
			t.Errorf("ReadTimeout = %v, want 5s", cfg.ReadTimeout)
		}
		if cfg.MaxBodyBytes != 4096 {
			t.Errorf("MaxBodyBytes = %d, want 4096", cfg.MaxBodyBytes)
		}
	})
}

// TestLoadDatabaseConfig tests database and Redis settings
func TestLoadDatabaseConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := loadDatabaseConfig()
		if cfg.Driver != storage.DriverPostgres {
			t.Errorf("Driver = %q, want %q", cfg.Driver, storage.DriverPostgres)
		}
		if cfg.MaxConns != 20 || cfg.RedisPoolSize != 10 {
			t.Errorf("unexpected pool defaults: %+v", cfg)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("WARDEN_DB_DRIVER", storage.DriverSQLite)
		t.Setenv("WARDEN_DB_URL", "file:warden.db")
		t.Setenv("WARDEN_DB_MAX_CONNS", "4")
		t.Setenv("WARDEN_DB_MAX_LIFETIME", "1m")
		t.Setenv("WARDEN_REDIS_URL", "redis://cache:6379")
		t.Setenv("WARDEN_REDIS_DB", "3")

		cfg := loadDatabaseConfig()
		if cfg.Driver != storage.DriverSQLite || cfg.URL != "file:warden.db" {
			t.Errorf("driver/url not overridden: %+v", cfg)
		}
		if cfg.MaxConns != 4 || cfg.MaxLifetime != time.Minute {
			t.Errorf("pool not overridden: %+v", cfg)
		}
		if cfg.RedisURL != "redis://cache:6379" || cfg.RedisDB != 3 {
			t.Errorf("redis not overridden: %+v", cfg)
		}
	})
}

// TestLoadCacheConfig tests backend selection
func TestLoadCacheConfig(t *testing.T) {
	tests := []struct {
		name     string
		redisURL string
		backend  string
		want     string
	}{
		{name: "memory without redis", want: CacheMemory},
		{name: "layered with redis", redisURL: "redis://localhost:6379", want: CacheLayered},
		{name: "explicit backend wins", redisURL: "redis://localhost:6379", backend: "Redis", want: CacheRedis},
		{name: "explicit none", backend: "none", want: CacheNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("WARDEN_REDIS_URL", tt.redisURL)
			t.Setenv("WARDEN_CACHE_BACKEND", tt.backend)

			cfg := loadCacheConfig()
			if cfg.Backend != tt.want {
				t.Errorf("Backend = %q, want %q", cfg.Backend, tt.want)
			}
			if cfg.TTL != 30*time.Minute {
				t.Errorf("TTL = %v, want 30m", cfg.TTL)
			}
		})
	}
}

// TestLoadObservabilityConfig tests observability settings
func TestLoadObservabilityConfig(t *testing.T) {
	t.Setenv("WARDEN_LOG_LEVEL", "debug")
	t.Setenv("WARDEN_OTEL_ENABLED", "true")
	t.Setenv("WARDEN_OTEL_SAMPLE_RATIO", "0.1")

	cfg := loadObservabilityConfig()
	if cfg.LogLevel != observability.DebugLevel {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if !cfg.OTelEnabled || cfg.OTelSampleRatio != 0.1 {
		t.Errorf("otel not overridden: %+v", cfg)
	}
	if cfg.OTelServiceName != "warden" {
		t.Errorf("OTelServiceName = %q, want warden", cfg.OTelServiceName)
	}
}

func validConfig() Config {
	db := storage.DefaultConfig()
	db.URL = "postgres://localhost/warden"
	return Config{
		Server:   ServerConfig{Port: "8080", HealthPort: "9090"},
		Database: db,
		Cache:    CacheConfig{Backend: CacheMemory, TTL: time.Minute},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerWindow: 10,
			Window:            time.Minute,
		},
		Maintenance: MaintenanceConfig{
			Enabled:           true,
			IntegritySchedule: "*/15 * * * *",
			ArchiveSchedule:   "@hourly",
		},
		Observability: ObservabilityConfig{OTelSampleRatio: 1},
	}
}

// TestConfigValidate tests configuration validation
func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "missing server port",
			mutate:  func(c *Config) { c.Server.Port = "" },
			wantErr: "server port is required",
		},
		{
			name:    "missing health port",
			mutate:  func(c *Config) { c.Server.HealthPort = "" },
			wantErr: "health port is required",
		},
		{
			name:    "same server and health port",
			mutate:  func(c *Config) { c.Server.HealthPort = "8080" },
			wantErr: "server port and health port must be different",
		},
		{
			name:    "missing database url",
			mutate:  func(c *Config) { c.Database.URL = "" },
			wantErr: "database URL is required",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "oracle" },
			wantErr: "database:",
		},
		{
			name:    "layered cache without redis",
			mutate:  func(c *Config) { c.Cache.Backend = CacheLayered },
			wantErr: "redis URL is required",
		},
		{
			name: "layered cache with redis",
			mutate: func(c *Config) {
				c.Cache.Backend = CacheLayered
				c.Database.RedisURL = "redis://localhost:6379"
			},
		},
		{
			name:    "unknown cache backend",
			mutate:  func(c *Config) { c.Cache.Backend = "memcached" },
			wantErr: "invalid cache backend",
		},
		{
			name:    "non-positive cache ttl",
			mutate:  func(c *Config) { c.Cache.TTL = 0 },
			wantErr: "cache TTL must be positive",
		},
		{
			name:    "oidc issuer without client",
			mutate:  func(c *Config) { c.Auth.OIDCIssuerURL = "https://issuer.example.com" },
			wantErr: "must be set together",
		},
		{
			name:    "rate limit without window",
			mutate:  func(c *Config) { c.RateLimit.Window = 0 },
			wantErr: "rate limit",
		},
		{
			name:   "disabled rate limit ignores window",
			mutate: func(c *Config) { c.RateLimit = RateLimitConfig{} },
		},
		{
			name:    "archive without bucket",
			mutate:  func(c *Config) { c.Archive.Enabled = true },
			wantErr: "S3 bucket is required",
		},
		{
			name:    "bad integrity schedule",
			mutate:  func(c *Config) { c.Maintenance.IntegritySchedule = "every tuesday" },
			wantErr: "invalid integrity schedule",
		},
		{
			name: "bad archive schedule",
			mutate: func(c *Config) {
				c.Archive.Enabled = true
				c.Archive.Bucket = "events"
				c.Maintenance.ArchiveSchedule = "* *"
			},
			wantErr: "invalid archive schedule",
		},
		{
			name: "bad schedules ignored when maintenance disabled",
			mutate: func(c *Config) {
				c.Maintenance.Enabled = false
				c.Maintenance.IntegritySchedule = "never"
			},
		},
		{
			name: "otel enabled without endpoint",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelServiceName = "warden"
			},
			wantErr: "OpenTelemetry endpoint is required",
		},
		{
			name: "otel sample ratio out of range",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelEndpoint = "localhost:4317"
				c.Observability.OTelServiceName = "warden"
				c.Observability.OTelSampleRatio = 1.5
			},
			wantErr: "sample ratio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

// TestLoadConfig tests loading a full configuration from the environment
func TestLoadConfig(t *testing.T) {
	t.Run("requires database url", func(t *testing.T) {
		t.Setenv("WARDEN_DB_URL", "")
		if _, err := LoadConfig(); err == nil {
			t.Error("LoadConfig() expected error without WARDEN_DB_URL")
		}
	})

	t.Run("sqlite with seed", func(t *testing.T) {
		t.Setenv("WARDEN_DB_DRIVER", "sqlite3")
		t.Setenv("WARDEN_DB_URL", "file:warden.db?_foreign_keys=on")
		t.Setenv("WARDEN_REDIS_URL", "")
		t.Setenv("WARDEN_SEED_FILE", "/etc/warden/seed.yaml")
		t.Setenv("WARDEN_SEED_WATCH", "true")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.Database.Driver != storage.DriverSQLite {
			t.Errorf("Driver = %q", cfg.Database.Driver)
		}
		if cfg.Cache.Backend != CacheMemory {
			t.Errorf("Backend = %q, want memory", cfg.Cache.Backend)
		}
		if cfg.Seed.Path != "/etc/warden/seed.yaml" || !cfg.Seed.Watch {
			t.Errorf("Seed = %+v", cfg.Seed)
		}
		if cfg.Archive.Enabled {
			t.Error("archive should be disabled by default")
		}
	})
}
