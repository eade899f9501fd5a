package rbac

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/storage"
)

// SkipIfNoDatabase skips the test if TEST_POSTGRES_PRIMARY environment variable is not set.
func SkipIfNoDatabase(t testing.TB) string {
	t.Helper()

	dbURL := os.Getenv("TEST_POSTGRES_PRIMARY")
	if dbURL == "" {
		t.Skip("Skipping test: TEST_POSTGRES_PRIMARY environment variable not set (database not available)")
	}
	return dbURL
}

// NewTestDB opens a migrated in-memory SQLite database that is closed when the test ends
func NewTestDB(t testing.TB) *sql.DB {
	t.Helper()

	cfg := storage.DefaultConfig()
	cfg.Driver = storage.DriverSQLite
	cfg.URL = "file::memory:?_foreign_keys=on"

	ctx := context.Background()
	db, dialect, err := storage.Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, RunMigrations(ctx, db, dialect))
	return db
}

// MustCreateUser inserts an active user
func MustCreateUser(t testing.TB, db *sql.DB, username string) *User {
	t.Helper()
	user := &User{Username: username, IsActive: true}
	require.NoError(t, createUser(context.Background(), db, user))
	return user
}

// MustCreatePermission inserts a catalog entry named "<resource>.<action>"
func MustCreatePermission(t testing.TB, db *sql.DB, resource, action string) *Permission {
	t.Helper()
	p := &Permission{Resource: resource, Action: action}
	require.NoError(t, createPermission(context.Background(), db, p))
	return p
}

// MustCreateRole inserts an active role linked to the given permissions
func MustCreateRole(t testing.TB, db *sql.DB, name string, permissions ...*Permission) *Role {
	t.Helper()
	ctx := context.Background()
	role := &Role{Name: name, IsActive: true}
	require.NoError(t, createRole(ctx, db, role))
	for _, p := range permissions {
		_, err := attachPermission(ctx, db, role.ID, p.ID)
		require.NoError(t, err)
	}
	return role
}

// MustAssignRole adds a membership
func MustAssignRole(t testing.TB, db *sql.DB, userID, roleID int64) {
	t.Helper()
	_, err := assignRole(context.Background(), db, userID, roleID, nil)
	require.NoError(t, err)
}
