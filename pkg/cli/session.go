package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/permcache"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/storage"
)

// connFlags are accepted by every command that touches the database
type connFlags struct {
	driver   *string
	url      *string
	redisURL *string
	logLevel *string
}

func addConnFlags(fs *flag.FlagSet) *connFlags {
	return &connFlags{
		driver:   fs.String("driver", getEnv("WARDEN_DB_DRIVER", storage.DriverPostgres), "Database driver (postgres, sqlite3)"),
		url:      fs.String("db", os.Getenv("WARDEN_DB_URL"), "Database URL"),
		redisURL: fs.String("redis", os.Getenv("WARDEN_REDIS_URL"), "Redis URL; when set, changes invalidate the shared permission cache"),
		logLevel: fs.String("log-level", "info", "Log level (debug, info, warn, error)"),
	}
}

// session holds the connections one command needs
type session struct {
	db      *sql.DB
	dialect storage.Dialect
	manager *rbac.Manager
	redis   *redis.Client
}

func (e *env) open(ctx context.Context, f *connFlags) (*session, error) {
	level, err := logrus.ParseLevel(*f.logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	e.log.SetLevel(level)

	cfg := storage.DefaultConfig()
	cfg.Driver = *f.driver
	cfg.URL = *f.url
	cfg.RedisURL = *f.redisURL
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, dialect, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &session{db: db, dialect: dialect}

	var cache permcache.Cache
	if cfg.RedisURL != "" {
		s.redis, err = storage.NewRedisClient(ctx, cfg)
		if err != nil {
			s.Close()
			return nil, err
		}
		cache = permcache.NewRedisCache(s.redis, permcache.RedisOptions{})
	}

	// CLI changes are audited alongside those made over HTTP
	dbAudit, err := audit.NewDBLogger(db, dialect)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize audit log: %w", err)
	}
	libLogger := observability.NewLogger(observability.WarnLevel, e.log.Out)
	auditLogger := audit.NewMultiLogger(dbAudit, audit.NewSlogLogger(libLogger))
	s.manager = rbac.NewManager(db, cache, auditLogger, nil, libLogger, rbac.Config{})

	e.log.WithFields(logrus.Fields{"driver": dialect.Driver, "redis": s.redis != nil}).Debug("connected")
	return s, nil
}

func (s *session) Close() {
	if s.redis != nil {
		s.redis.Close()
	}
	s.db.Close()
}

// user resolves a username or a numeric id
func (s *session) user(ctx context.Context, ref string) (*rbac.User, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("user is required")
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return s.manager.GetStore().GetUser(ctx, id)
	}
	return s.manager.GetStore().GetUserByUsername(ctx, ref)
}

func (s *session) permission(ctx context.Context, name string) (*rbac.Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("permission is required")
	}
	return s.manager.GetCatalog().GetByName(ctx, name)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
