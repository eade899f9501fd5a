package rbac

import (
	"time"
)

// Permission is an entry in the permission catalog
type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PermissionName builds the conventional "<Resource>.<Action>" name
func PermissionName(resource, action string) string {
	return resource + "." + action
}

// Role represents a named set of permissions
type Role struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	IsActive     bool      `json:"isActive"`
	IsSystemRole bool      `json:"isSystemRole"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// User is the subset of a user account the resolver needs
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserRole represents a role assignment to a user
type UserRole struct {
	UserID     int64     `json:"userId"`
	RoleID     int64     `json:"roleId"`
	RoleName   string    `json:"roleName"`
	AssignedBy *int64    `json:"assignedBy,omitempty"`
	AssignedAt time.Time `json:"assignedAt"`
}

// PermissionOverride is one historical exception record for a
// (user, permission) slot. At most one row per slot is active.
type PermissionOverride struct {
	ID               int64      `json:"id"`
	UserID           int64      `json:"userId"`
	PermissionID     int64      `json:"permissionId"`
	PermissionName   string     `json:"permissionName"`
	IsGranted        bool       `json:"isGranted"`
	Reason           string     `json:"reason,omitempty"`
	AssignedAt       time.Time  `json:"assignedAt"`
	AssignedByUserID int64      `json:"assignedByUserId"`
	RevokedAt        *time.Time `json:"revokedAt,omitempty"`
	RevokedByUserID  *int64     `json:"revokedByUserId,omitempty"`
}

// Active reports whether the override has not been revoked
func (o *PermissionOverride) Active() bool {
	return o.RevokedAt == nil
}

// EventType tags an entry in the override event log
type EventType string

const (
	EventGranted EventType = "Granted"
	EventDenied  EventType = "Denied"
	EventRevoked EventType = "Revoked"
)

// OverrideEvent is an append-only record of a change to an override slot
type OverrideEvent struct {
	ID           string    `json:"id"`
	Seq          int64     `json:"seq"`
	UserID       int64     `json:"userId"`
	PermissionID int64     `json:"permissionId"`
	Type         EventType `json:"type"`
	Reason       string    `json:"reason,omitempty"`
	ActorID      int64     `json:"actorId"`
	OverrideID   int64     `json:"overrideId"`
	OccurredAt   time.Time `json:"occurredAt"`
}

// Provenance labels
const (
	SourceRole    = "Role"
	SourceGrant   = "Grant"
	SourceGranted = "Granted"
	SourceDenied  = "Denied"
)

// EffectivePermission is a permission the user holds and where it came from
type EffectivePermission struct {
	PermissionID int64  `json:"permissionId"`
	Name         string `json:"name"`
	Resource     string `json:"resource"`
	Action       string `json:"action"`
	Source       string `json:"source"`
	// Detail is "Role:<names>" for role-sourced permissions
	Detail string `json:"detail,omitempty"`
}

// PermissionSource explains why a permission is or is not in the effective set
type PermissionSource struct {
	PermissionID int64  `json:"permissionId"`
	Name         string `json:"name"`
	Resource     string `json:"resource"`
	Action       string `json:"action"`
	Source       string `json:"source"`
	Detail       string `json:"detail"`
	Reason       string `json:"reason,omitempty"`
	ActorID      *int64 `json:"actorId,omitempty"`
}

// PermissionStats summarizes a resolution
type PermissionStats struct {
	FromRoles   int `json:"fromRoles"`
	FromGrants  int `json:"fromGrants"`
	TotalUnique int `json:"totalUnique"`
}

// Resolution is the full result of resolving one user's permissions
type Resolution struct {
	UserID     int64                 `json:"userId"`
	Roles      []string              `json:"roles"`
	Effective  []EffectivePermission `json:"effective"`
	Missing    []Permission          `json:"missing"`
	Details    []PermissionSource    `json:"details"`
	Stats      PermissionStats       `json:"stats"`
	ResolvedAt time.Time             `json:"resolvedAt"`
}

// EffectiveNames returns the names of the effective permissions
func (r *Resolution) EffectiveNames() []string {
	names := make([]string, 0, len(r.Effective))
	for _, p := range r.Effective {
		names = append(names, p.Name)
	}
	return names
}

// OverrideRequest is the input to Grant and Deny
type OverrideRequest struct {
	UserID       int64  `json:"userId"`
	PermissionID int64  `json:"permissionId"`
	ActorID      int64  `json:"actorId"`
	Reason       string `json:"reason"`
}

// Permissions that gate the administration surface
const (
	PermViewPermissions  = "User.ViewPermissions"
	PermGrantPermission  = "User.GrantPermission"
	PermDenyPermission   = "User.DenyPermission"
	PermRevokePermission = "User.RevokePermission"
	PermManageUserRoles  = "User.ManageRoles"
	PermViewRoles        = "Role.View"
	PermManageRoles      = "Role.Manage"
	PermViewCatalog      = "Permission.View"
	PermManageCatalog    = "Permission.Manage"
)

// AdminRoleName is the system role seeded with every catalog permission
const AdminRoleName = "Administrator"

// GatePermissions returns the permissions required by the administration surface
func GatePermissions() []Permission {
	return []Permission{
		{Name: PermViewPermissions, Resource: "User", Action: "ViewPermissions", Description: "View a user's effective permissions"},
		{Name: PermGrantPermission, Resource: "User", Action: "GrantPermission", Description: "Grant a permission to a user"},
		{Name: PermDenyPermission, Resource: "User", Action: "DenyPermission", Description: "Deny a permission to a user"},
		{Name: PermRevokePermission, Resource: "User", Action: "RevokePermission", Description: "Revoke a user's permission override"},
		{Name: PermManageUserRoles, Resource: "User", Action: "ManageRoles", Description: "Assign and remove user roles"},
		{Name: PermViewRoles, Resource: "Role", Action: "View", Description: "List roles and members"},
		{Name: PermManageRoles, Resource: "Role", Action: "Manage", Description: "Create and modify roles"},
		{Name: PermViewCatalog, Resource: "Permission", Action: "View", Description: "List the permission catalog"},
		{Name: PermManageCatalog, Resource: "Permission", Action: "Manage", Description: "Add permissions to the catalog"},
	}
}
