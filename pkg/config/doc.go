// Package config provides application configuration management from environment variables.
//
// # Overview
//
// All settings are read from WARDEN_* environment variables with defaults
// suitable for local development. LoadConfig validates the result.
//
// Server settings:
//
//	WARDEN_HOST="0.0.0.0"
//	WARDEN_PORT="8080"
//	WARDEN_HEALTH_PORT="9090"
//	WARDEN_READ_TIMEOUT="15s"
//	WARDEN_WRITE_TIMEOUT="15s"
//	WARDEN_SHUTDOWN_TIMEOUT="30s"
//	WARDEN_MAX_BODY_BYTES="1048576"
//
// Database settings:
//
//	WARDEN_DB_DRIVER="postgres"  # postgres, sqlite3
//	WARDEN_DB_URL="postgres://localhost/warden?sslmode=disable"
//	WARDEN_DB_MAX_CONNS="20"
//	WARDEN_REDIS_URL="redis://localhost:6379"
//
// Cache settings:
//
//	WARDEN_CACHE_BACKEND="layered"  # none, memory, redis, layered
//	WARDEN_CACHE_TTL="30m"
//	WARDEN_CACHE_MAX_ENTRIES="10000"
//
// Authentication:
//
//	WARDEN_OIDC_ISSUER_URL="https://accounts.example.com"
//	WARDEN_OIDC_CLIENT_ID="warden"
//
// Maintenance and archive:
//
//	WARDEN_MAINTENANCE_ENABLED="true"
//	WARDEN_INTEGRITY_SCHEDULE="*/15 * * * *"
//	WARDEN_ARCHIVE_ENABLED="true"
//	WARDEN_ARCHIVE_SCHEDULE="@hourly"
//	WARDEN_S3_BUCKET="warden-events"
//	WARDEN_S3_ENDPOINT="http://minio:9000"
//
// Seed and observability:
//
//	WARDEN_SEED_FILE="/etc/warden/seed.yaml"
//	WARDEN_SEED_WATCH="true"
//	WARDEN_LOG_LEVEL="info"
//	WARDEN_OTEL_ENABLED="true"
//	WARDEN_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	db, dialect, err := storage.Open(ctx, cfg.Database)
package config
