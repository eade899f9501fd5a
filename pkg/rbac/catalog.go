package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Catalog is the fixed universe of permissions
type Catalog struct {
	db *sql.DB
}

// NewCatalog creates a new permission catalog
func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

const permissionColumns = `id, name, resource, action, description, created_at`

func scanPermission(row interface{ Scan(...interface{}) error }) (*Permission, error) {
	var p Permission
	if err := row.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// Create adds a permission to the catalog. The name defaults to "<Resource>.<Action>".
func (c *Catalog) Create(ctx context.Context, p *Permission) error {
	return createPermission(ctx, c.db, p)
}

func createPermission(ctx context.Context, q querier, p *Permission) error {
	p.Resource = strings.TrimSpace(p.Resource)
	p.Action = strings.TrimSpace(p.Action)
	if p.Resource == "" || p.Action == "" {
		return invalid("permission resource and action are required")
	}
	if p.Name == "" {
		p.Name = PermissionName(p.Resource, p.Action)
	}

	query := `
		INSERT INTO permissions (name, resource, action, description, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	now := time.Now().UTC()
	err := q.QueryRowContext(ctx, query, p.Name, p.Resource, p.Action, p.Description, now).Scan(&p.ID)
	if err != nil {
		return classifyWriteError("create permission", err)
	}

	p.CreatedAt = now
	return nil
}

// Get retrieves a permission by ID
func (c *Catalog) Get(ctx context.Context, id int64) (*Permission, error) {
	return getPermission(ctx, c.db, id)
}

func getPermission(ctx context.Context, q querier, id int64) (*Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions WHERE id = $1`

	p, err := scanPermission(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("permission %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return p, nil
}

// GetByName retrieves a permission by its unique name
func (c *Catalog) GetByName(ctx context.Context, name string) (*Permission, error) {
	return getPermissionByName(ctx, c.db, name)
}

func getPermissionByName(ctx context.Context, q querier, name string) (*Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions WHERE name = $1`

	p, err := scanPermission(q.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("permission %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return p, nil
}

// List returns every permission ordered by name
func (c *Catalog) List(ctx context.Context) ([]Permission, error) {
	return listPermissions(ctx, c.db)
}

func listPermissions(ctx context.Context, q querier) ([]Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions ORDER BY name ASC`

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var permissions []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		permissions = append(permissions, *p)
	}

	return permissions, rows.Err()
}
