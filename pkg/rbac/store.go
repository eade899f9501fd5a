package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store handles role, membership and user persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const roleColumns = `id, name, description, is_active, is_system_role, created_at, updated_at`

func scanRole(row interface{ Scan(...interface{}) error }) (*Role, error) {
	var role Role
	err := row.Scan(
		&role.ID,
		&role.Name,
		&role.Description,
		&role.IsActive,
		&role.IsSystemRole,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// CreateRole creates a new role
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	return createRole(ctx, s.db, role)
}

func createRole(ctx context.Context, q querier, role *Role) error {
	role.Name = strings.TrimSpace(role.Name)
	if role.Name == "" {
		return invalid("role name is required")
	}

	query := `
		INSERT INTO roles (name, description, is_active, is_system_role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	now := time.Now().UTC()
	err := q.QueryRowContext(ctx, query,
		role.Name,
		role.Description,
		role.IsActive,
		role.IsSystemRole,
		now,
		now,
	).Scan(&role.ID)
	if err != nil {
		return classifyWriteError("create role", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	return getRole(ctx, s.db, roleID)
}

func getRole(ctx context.Context, q querier, roleID int64) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1`

	role, err := scanRole(q.QueryRowContext(ctx, query, roleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("role %d", roleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// GetRoleByName retrieves a role by name
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	return getRoleByName(ctx, s.db, name)
}

func getRoleByName(ctx context.Context, q querier, name string) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE name = $1`

	role, err := scanRole(q.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("role %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// ListRoles lists all roles, system roles first
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles ORDER BY is_system_role DESC, name ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}

	return roles, rows.Err()
}

// updateRole writes name, description and active flag
func updateRole(ctx context.Context, q querier, role *Role) error {
	query := `
		UPDATE roles
		SET name = $1, description = $2, is_active = $3, updated_at = $4
		WHERE id = $5
	`

	now := time.Now().UTC()
	result, err := q.ExecContext(ctx, query, role.Name, role.Description, role.IsActive, now, role.ID)
	if err != nil {
		return classifyWriteError("update role", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound("role %d", role.ID)
	}

	role.UpdatedAt = now
	return nil
}

// deleteRole removes a role together with its links and memberships
func deleteRole(ctx context.Context, tx *sql.Tx, roleID int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to delete role permissions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to delete role memberships: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound("role %d", roleID)
	}
	return nil
}

// RolePermissions lists the permissions attached to a role
func (s *Store) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	query := `
		SELECT p.id, p.name, p.resource, p.action, p.description, p.created_at
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
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

// attachPermission links a permission to a role; attaching twice is a no-op
func attachPermission(ctx context.Context, q querier, roleID, permissionID int64) (bool, error) {
	var exists int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM role_permissions WHERE role_id = $1 AND permission_id = $2`,
		roleID, permissionID,
	).Scan(&exists)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to check role permission: %w", err)
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`,
		roleID, permissionID,
	)
	if err != nil {
		return false, classifyWriteError("attach permission", err)
	}
	return true, nil
}

// detachPermission unlinks a permission from a role
func detachPermission(ctx context.Context, q querier, roleID, permissionID int64) error {
	result, err := q.ExecContext(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`,
		roleID, permissionID,
	)
	if err != nil {
		return fmt.Errorf("failed to detach permission: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound("permission %d on role %d", permissionID, roleID)
	}
	return nil
}

// RoleMembers returns the IDs of every user assigned the role
func (s *Store) RoleMembers(ctx context.Context, roleID int64) ([]int64, error) {
	return roleMembers(ctx, s.db, roleID)
}

func roleMembers(ctx context.Context, q querier, roleID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT user_id FROM user_roles WHERE role_id = $1 ORDER BY user_id`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role members: %w", err)
	}
	defer rows.Close()

	var userIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan role member: %w", err)
		}
		userIDs = append(userIDs, id)
	}

	return userIDs, rows.Err()
}

const userColumns = `id, username, is_active, created_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.IsActive, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser creates a user record
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	return createUser(ctx, s.db, user)
}

func createUser(ctx context.Context, q querier, user *User) error {
	user.Username = strings.TrimSpace(user.Username)
	if user.Username == "" {
		return invalid("username is required")
	}

	now := time.Now().UTC()
	err := q.QueryRowContext(ctx,
		`INSERT INTO users (username, is_active, created_at) VALUES ($1, $2, $3) RETURNING id`,
		user.Username, user.IsActive, now,
	).Scan(&user.ID)
	if err != nil {
		return classifyWriteError("create user", err)
	}

	user.CreatedAt = now
	return nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, userID int64) (*User, error) {
	return getUser(ctx, s.db, userID)
}

func getUser(ctx context.Context, q querier, userID int64) (*User, error) {
	u, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user %d", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetUserByUsername retrieves a user by username
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return getUserByUsername(ctx, s.db, username)
}

func getUserByUsername(ctx context.Context, q querier, username string) (*User, error) {
	u, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user %q", username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// UserRoles lists the roles assigned to a user, including inactive ones
func (s *Store) UserRoles(ctx context.Context, userID int64) ([]UserRole, error) {
	query := `
		SELECT ur.user_id, ur.role_id, r.name, ur.assigned_by, ur.assigned_at
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user roles: %w", err)
	}
	defer rows.Close()

	var memberships []UserRole
	for rows.Next() {
		var ur UserRole
		var assignedBy sql.NullInt64
		if err := rows.Scan(&ur.UserID, &ur.RoleID, &ur.RoleName, &assignedBy, &ur.AssignedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user role: %w", err)
		}
		if assignedBy.Valid {
			id := assignedBy.Int64
			ur.AssignedBy = &id
		}
		memberships = append(memberships, ur)
	}

	return memberships, rows.Err()
}

// assignRole adds a membership; assigning twice is a no-op
func assignRole(ctx context.Context, q querier, userID, roleID int64, assignedBy *int64) (bool, error) {
	var exists int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM user_roles WHERE user_id = $1 AND role_id = $2`,
		userID, roleID,
	).Scan(&exists)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to check user role: %w", err)
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO user_roles (user_id, role_id, assigned_by, assigned_at) VALUES ($1, $2, $3, $4)`,
		userID, roleID, assignedBy, time.Now().UTC(),
	)
	if err != nil {
		return false, classifyWriteError("assign role", err)
	}
	return true, nil
}

// removeRole deletes a membership
func removeRole(ctx context.Context, q querier, userID, roleID int64) error {
	result, err := q.ExecContext(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`,
		userID, roleID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound("role %d for user %d", roleID, userID)
	}
	return nil
}

// roleGrant is one (role, permission) pair reachable by a user
type roleGrant struct {
	RoleName     string
	PermissionID int64
}

// activeRoleGrants returns the role names and role-permission links for a
// user's active roles
func (s *Store) activeRoleGrants(ctx context.Context, userID int64) ([]string, []roleGrant, error) {
	query := `
		SELECT r.name, rp.permission_id
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		WHERE ur.user_id = $1 AND r.is_active = $2
		ORDER BY r.name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, true)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load role grants: %w", err)
	}
	defer rows.Close()

	var names []string
	var grants []roleGrant
	seen := make(map[string]bool)
	for rows.Next() {
		var name string
		var permissionID sql.NullInt64
		if err := rows.Scan(&name, &permissionID); err != nil {
			return nil, nil, fmt.Errorf("failed to scan role grant: %w", err)
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		if permissionID.Valid {
			grants = append(grants, roleGrant{RoleName: name, PermissionID: permissionID.Int64})
		}
	}

	return names, grants, rows.Err()
}

