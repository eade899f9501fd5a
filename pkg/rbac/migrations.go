package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/warden/pkg/storage"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all RBAC migrations. {{ID}} is expanded per dialect.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permissions (
					id {{ID}},
					name VARCHAR(255) NOT NULL UNIQUE,
					resource VARCHAR(100) NOT NULL,
					action VARCHAR(100) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL,
					UNIQUE(resource, action)
				);
			`,
		},
		{
			Version:     2,
			Description: "Create roles and role_permissions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id {{ID}},
					name VARCHAR(255) NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					is_system_role BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);

				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES permissions(id),
					PRIMARY KEY (role_id, permission_id)
				);

				CREATE INDEX IF NOT EXISTS idx_role_permissions_permission_id ON role_permissions(permission_id);
			`,
		},
		{
			Version:     3,
			Description: "Create users and user_roles tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id {{ID}},
					username VARCHAR(255) NOT NULL UNIQUE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL
				);

				CREATE TABLE IF NOT EXISTS user_roles (
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					assigned_by BIGINT,
					assigned_at TIMESTAMP NOT NULL,
					PRIMARY KEY (user_id, role_id)
				);

				CREATE INDEX IF NOT EXISTS idx_user_roles_role_id ON user_roles(role_id);
			`,
		},
		{
			Version:     4,
			Description: "Create permission_overrides table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permission_overrides (
					id {{ID}},
					user_id BIGINT NOT NULL REFERENCES users(id),
					permission_id BIGINT NOT NULL REFERENCES permissions(id),
					is_granted BOOLEAN NOT NULL,
					reason TEXT NOT NULL DEFAULT '',
					assigned_at TIMESTAMP NOT NULL,
					assigned_by_user_id BIGINT NOT NULL,
					revoked_at TIMESTAMP,
					revoked_by_user_id BIGINT
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_permission_overrides_active_slot
					ON permission_overrides(user_id, permission_id)
					WHERE revoked_at IS NULL;
				CREATE INDEX IF NOT EXISTS idx_permission_overrides_slot ON permission_overrides(user_id, permission_id, assigned_at);
			`,
		},
		{
			Version:     5,
			Description: "Create override_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS override_events (
					seq {{ID}},
					id VARCHAR(36) NOT NULL UNIQUE,
					user_id BIGINT NOT NULL,
					permission_id BIGINT NOT NULL,
					event_type VARCHAR(16) NOT NULL,
					reason TEXT NOT NULL DEFAULT '',
					actor_id BIGINT NOT NULL,
					override_id BIGINT NOT NULL,
					occurred_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_override_events_slot ON override_events(user_id, permission_id, seq);
			`,
		},
		{
			Version:     6,
			Description: "Create api_tokens table",
			SQL: `
				CREATE TABLE IF NOT EXISTS api_tokens (
					id {{ID}},
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					token_hash VARCHAR(64) NOT NULL UNIQUE,
					token_prefix VARCHAR(32) NOT NULL,
					name VARCHAR(255) NOT NULL,
					expires_at TIMESTAMP,
					last_used_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL,
					revoked_at TIMESTAMP
				);
			`,
		},
		{
			Version:     7,
			Description: "Create archive_cursor table",
			SQL: `
				CREATE TABLE IF NOT EXISTS archive_cursor (
					name VARCHAR(64) PRIMARY KEY,
					last_seq BIGINT NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);
			`,
		},
	}
}

// RunMigrations runs all pending RBAC migrations, one transaction per migration
func RunMigrations(ctx context.Context, db *sql.DB, dialect storage.Dialect) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rbac_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		err := storage.WithTx(ctx, db, nil, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, dialect.Rewrite(migration.SQL)); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
			}

			if _, err := tx.ExecContext(ctx,
				"INSERT INTO rbac_migrations (version, description, applied_at) VALUES ($1, $2, $3)",
				migration.Version, migration.Description, time.Now().UTC(),
			); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM rbac_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
