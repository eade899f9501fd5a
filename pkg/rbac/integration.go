package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/permcache"
	"github.com/platinummonkey/warden/pkg/storage"
)

// Config holds RBAC configuration
type Config struct {
	// SeedPath is an optional YAML seed applied at startup
	SeedPath string

	// WatchSeed re-applies the seed whenever the file changes
	WatchSeed bool
}

// Manager wires the catalog, stores, resolver, checker and HTTP surface
// around one database handle.
type Manager struct {
	db         *sql.DB
	catalog    *Catalog
	store      *Store
	overrides  *OverrideStore
	resolver   *Resolver
	checker    *Checker
	admin      *Administrator
	middleware *PermissionMiddleware
	handlers   *Handlers
	logger     *observability.Logger
	config     Config
}

// NewManager creates a new RBAC manager. cache may be nil, in which case
// every check resolves against the database.
func NewManager(db *sql.DB, cache permcache.Cache, auditLogger audit.Logger, metrics *observability.Metrics, logger *observability.Logger, config Config) *Manager {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, io.Discard)
	}
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}

	catalog := NewCatalog(db)
	store := NewStore(db)
	overrides := NewOverrideStore(db)
	resolver := NewResolver(catalog, store, overrides, metrics)
	checker := NewChecker(resolver, cache, metrics, logger)
	admin := NewAdministrator(db, checker, auditLogger, metrics, logger)
	middleware := NewPermissionMiddleware(checker, auditLogger)
	handlers := NewHandlers(catalog, store, overrides, checker, admin, middleware)

	return &Manager{
		db:         db,
		catalog:    catalog,
		store:      store,
		overrides:  overrides,
		resolver:   resolver,
		checker:    checker,
		admin:      admin,
		middleware: middleware,
		handlers:   handlers,
		logger:     logger,
		config:     config,
	}
}

// Initialize runs migrations and applies the configured seed, or the
// built-in bootstrap when no seed path is set.
func (m *Manager) Initialize(ctx context.Context, dialect storage.Dialect) error {
	if err := RunMigrations(ctx, m.db, dialect); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	seed := &Seed{}
	if m.config.SeedPath != "" {
		loaded, err := LoadSeed(m.config.SeedPath)
		if err != nil {
			return err
		}
		seed = loaded
	}
	if err := m.ApplySeed(ctx, seed); err != nil {
		return fmt.Errorf("failed to apply seed: %w", err)
	}
	return nil
}

// ApplySeed applies a seed and invalidates every user it affected
func (m *Manager) ApplySeed(ctx context.Context, seed *Seed) error {
	res, err := seed.Apply(ctx, m.db)
	if err != nil {
		return err
	}
	m.checker.InvalidateUsers(ctx, res.AffectedUsers, "seed")

	m.logger.WithFields(map[string]interface{}{
		"permissions_created": res.PermissionsCreated,
		"roles_created":       res.RolesCreated,
		"links_created":       res.LinksCreated,
		"users_created":       res.UsersCreated,
		"memberships_created": res.MembershipsCreated,
		"affected_users":      len(res.AffectedUsers),
	}).Info("seed applied")
	return nil
}

// StartSeedWatcher watches the configured seed file until ctx is done.
// It does nothing unless both SeedPath and WatchSeed are set.
func (m *Manager) StartSeedWatcher(ctx context.Context) error {
	if m.config.SeedPath == "" || !m.config.WatchSeed {
		return nil
	}
	return WatchSeed(ctx, m.config.SeedPath, m.logger, m.ApplySeed)
}

// RegisterRoutes registers RBAC routes with a router
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router)
}

// GetCatalog returns the permission catalog
func (m *Manager) GetCatalog() *Catalog {
	return m.catalog
}

// GetStore returns the role store
func (m *Manager) GetStore() *Store {
	return m.store
}

// GetOverrideStore returns the override store
func (m *Manager) GetOverrideStore() *OverrideStore {
	return m.overrides
}

// GetChecker returns the permission checker
func (m *Manager) GetChecker() *Checker {
	return m.checker
}

// GetAdministrator returns the mutation surface
func (m *Manager) GetAdministrator() *Administrator {
	return m.admin
}

// GetMiddleware returns the permission middleware
func (m *Manager) GetMiddleware() *PermissionMiddleware {
	return m.middleware
}

// GetHandlers returns the HTTP handlers
func (m *Manager) GetHandlers() *Handlers {
	return m.handlers
}

// CheckPermission is a convenience method for checking permissions
func (m *Manager) CheckPermission(ctx context.Context, userID int64, permission string) (bool, error) {
	return m.checker.HasPermission(ctx, userID, permission)
}
