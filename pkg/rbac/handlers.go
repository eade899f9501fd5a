package rbac

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
)

// Handlers provides HTTP handlers for permission resolution and administration
type Handlers struct {
	catalog     *Catalog
	store       *Store
	overrides   *OverrideStore
	checker     *Checker
	admin       *Administrator
	permissions *PermissionMiddleware
	mutation    []mux.MiddlewareFunc
}

// NewHandlers creates new RBAC handlers
func NewHandlers(catalog *Catalog, store *Store, overrides *OverrideStore, checker *Checker, admin *Administrator, permissions *PermissionMiddleware) *Handlers {
	return &Handlers{
		catalog:     catalog,
		store:       store,
		overrides:   overrides,
		checker:     checker,
		admin:       admin,
		permissions: permissions,
	}
}

// UseForMutations adds middleware applied only to state-changing routes,
// inside the permission gate
func (h *Handlers) UseForMutations(mw ...mux.MiddlewareFunc) {
	h.mutation = append(h.mutation, mw...)
}

const (
	userPath       = "/users/{userId:[0-9]+}"
	permissionPath = userPath + "/permissions"
	rolePath       = "/roles/{roleId:[0-9]+}"
)

// RegisterRoutes registers all RBAC routes. Authentication must already be
// applied to router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Resolution views
	h.handle(router, http.MethodGet, permissionPath+"/effective", PermViewPermissions, h.GetEffectivePermissions)
	h.handle(router, http.MethodGet, permissionPath+"/missing", PermViewPermissions, h.GetMissingPermissions)
	h.handle(router, http.MethodGet, permissionPath+"/overrides", PermViewPermissions, h.GetActiveOverrides)
	h.handle(router, http.MethodGet, permissionPath+"/details", PermViewPermissions, h.GetPermissionDetails)
	h.handle(router, http.MethodGet, permissionPath+"/{permissionId:[0-9]+}/history", PermViewPermissions, h.GetOverrideHistory)

	// Overrides
	h.handle(router, http.MethodPost, permissionPath+"/grant", PermGrantPermission, h.GrantPermission)
	h.handle(router, http.MethodPost, permissionPath+"/deny", PermDenyPermission, h.DenyPermission)
	h.handle(router, http.MethodDelete, permissionPath+"/{permissionId:[0-9]+}", PermRevokePermission, h.RevokePermission)

	// User role memberships
	h.handle(router, http.MethodGet, userPath+"/roles", PermViewPermissions, h.GetUserRoles)
	h.handle(router, http.MethodPost, userPath+"/roles", PermManageUserRoles, h.AssignRole)
	h.handle(router, http.MethodDelete, userPath+"/roles/{roleId:[0-9]+}", PermManageUserRoles, h.RemoveRole)

	// Roles
	h.handle(router, http.MethodGet, "/roles", PermViewRoles, h.ListRoles)
	h.handle(router, http.MethodPost, "/roles", PermManageRoles, h.CreateRole)
	h.handle(router, http.MethodGet, rolePath, PermViewRoles, h.GetRole)
	h.handle(router, http.MethodPut, rolePath, PermManageRoles, h.UpdateRole)
	h.handle(router, http.MethodDelete, rolePath, PermManageRoles, h.DeleteRole)
	h.handle(router, http.MethodGet, rolePath+"/members", PermViewRoles, h.GetRoleMembers)
	h.handle(router, http.MethodPost, rolePath+"/permissions", PermManageRoles, h.AttachPermission)
	h.handle(router, http.MethodDelete, rolePath+"/permissions/{permissionId:[0-9]+}", PermManageRoles, h.DetachPermission)

	// Catalog
	h.handle(router, http.MethodGet, "/permissions", PermViewCatalog, h.ListPermissions)
	h.handle(router, http.MethodPost, "/permissions", PermManageCatalog, h.CreatePermission)
	h.handle(router, http.MethodGet, "/permissions/{permissionId:[0-9]+}", PermViewCatalog, h.GetPermission)

	// The caller's own permissions need no gate
	router.HandleFunc("/me/permissions", h.GetMyPermissions).Methods(http.MethodGet)
}

func (h *Handlers) handle(router *mux.Router, method, path, permission string, fn http.HandlerFunc) {
	var handler http.Handler = fn
	if method != http.MethodGet {
		for i := len(h.mutation) - 1; i >= 0; i-- {
			handler = h.mutation[i](handler)
		}
	}
	handler = h.permissions.RequirePermission(permission)(handler)
	router.Handle(path, handler).Methods(method)
}

// writeDomainError maps domain sentinels to HTTP statuses
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, ErrValidation):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrConflict):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, ErrImmutableRole):
		httputil.WriteForbidden(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).
			WithField("path", r.URL.Path).
			Error("request failed")
		httputil.WriteInternalError(w)
	}
}

// actorID returns the authenticated caller. Routes are gated, so a caller is always present.
func actorID(r *http.Request) int64 {
	return middleware.GetAuthContext(r).UserID()
}

// EffectivePermissionsResponse is returned by the effective view
type EffectivePermissionsResponse struct {
	UserID      int64                 `json:"userId"`
	Roles       []string              `json:"roles"`
	Permissions []EffectivePermission `json:"permissions"`
	Stats       PermissionStats       `json:"stats"`
	ResolvedAt  time.Time             `json:"resolvedAt"`
}

// GetEffectivePermissions returns the user's effective permissions with their source
func (h *Handlers) GetEffectivePermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}

	res, err := h.checker.Resolve(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	_ = httputil.WriteSuccess(w, EffectivePermissionsResponse{
		UserID:      res.UserID,
		Roles:       res.Roles,
		Permissions: res.Effective,
		Stats:       res.Stats,
		ResolvedAt:  res.ResolvedAt,
	})
}

// MissingPermissionsResponse is returned by the missing view
type MissingPermissionsResponse struct {
	UserID      int64           `json:"userId"`
	Roles       []string        `json:"roles"`
	Permissions []Permission    `json:"permissions"`
	Stats       PermissionStats `json:"stats"`
	ResolvedAt  time.Time       `json:"resolvedAt"`
}

// GetMissingPermissions returns catalog permissions the user does not hold
func (h *Handlers) GetMissingPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}

	res, err := h.checker.Resolve(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	_ = httputil.WriteSuccess(w, MissingPermissionsResponse{
		UserID:      res.UserID,
		Roles:       res.Roles,
		Permissions: res.Missing,
		Stats:       res.Stats,
		ResolvedAt:  res.ResolvedAt,
	})
}

// PermissionDetailsResponse is returned by the details view
type PermissionDetailsResponse struct {
	UserID     int64              `json:"userId"`
	Roles      []string           `json:"roles"`
	Details    []PermissionSource `json:"details"`
	Stats      PermissionStats    `json:"stats"`
	ResolvedAt time.Time          `json:"resolvedAt"`
}

// GetPermissionDetails explains every permission the user holds or is denied
func (h *Handlers) GetPermissionDetails(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}

	res, err := h.checker.Resolve(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	_ = httputil.WriteSuccess(w, PermissionDetailsResponse{
		UserID:     res.UserID,
		Roles:      res.Roles,
		Details:    res.Details,
		Stats:      res.Stats,
		ResolvedAt: res.ResolvedAt,
	})
}

// GetActiveOverrides lists the user's active grants and denials
func (h *Handlers) GetActiveOverrides(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}

	if _, err := h.store.GetUser(r.Context(), userID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	overrides, err := h.overrides.ActiveForUser(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if overrides == nil {
		overrides = []PermissionOverride{}
	}

	_ = httputil.WriteSuccess(w, overrides)
}

// OverrideHistoryResponse holds every override row and event for one slot
type OverrideHistoryResponse struct {
	UserID       int64                `json:"userId"`
	PermissionID int64                `json:"permissionId"`
	Overrides    []PermissionOverride `json:"overrides"`
	Events       []OverrideEvent      `json:"events"`
}

// GetOverrideHistory returns the full override history for a slot, oldest first
func (h *Handlers) GetOverrideHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}
	permissionID, ok := httputil.ParsePathInt64OrError(w, r, "permissionId")
	if !ok {
		return
	}

	if _, err := h.store.GetUser(r.Context(), userID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if _, err := h.catalog.Get(r.Context(), permissionID); err != nil {
		writeDomainError(w, r, err)
		return
	}

	overrides, err := h.overrides.ListOverrideHistory(r.Context(), userID, permissionID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	events, err := h.overrides.History(r.Context(), userID, permissionID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	resp := OverrideHistoryResponse{
		UserID:       userID,
		PermissionID: permissionID,
		Overrides:    overrides,
		Events:       events,
	}
	if resp.Overrides == nil {
		resp.Overrides = []PermissionOverride{}
	}
	if resp.Events == nil {
		resp.Events = []OverrideEvent{}
	}
	_ = httputil.WriteSuccess(w, resp)
}

type overrideBody struct {
	PermissionID int64  `json:"permissionId"`
	Reason       string `json:"reason"`
}

// GrantPermission grants a permission to a user
func (h *Handlers) GrantPermission(w http.ResponseWriter, r *http.Request) {
	h.setOverride(w, r, h.admin.Grant)
}

// DenyPermission denies a permission to a user
func (h *Handlers) DenyPermission(w http.ResponseWriter, r *http.Request) {
	h.setOverride(w, r, h.admin.Deny)
}

func (h *Handlers) setOverride(w http.ResponseWriter, r *http.Request, apply func(context.Context, OverrideRequest) (*PermissionOverride, error)) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}

	var body overrideBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	if body.PermissionID <= 0 {
		httputil.WriteBadRequest(w, "permissionId is required")
		return
	}

	o, err := apply(r.Context(), OverrideRequest{
		UserID:       userID,
		PermissionID: body.PermissionID,
		ActorID:      actorID(r),
		Reason:       body.Reason,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	_ = httputil.WriteCreated(w, o)
}

// RevokePermission removes the user's active override for a permission
func (h *Handlers) RevokePermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}
	permissionID, ok := httputil.ParsePathInt64OrError(w, r, "permissionId")
	if !ok {
		return
	}

	o, err := h.admin.Revoke(r.Context(), userID, permissionID, actorID(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	_ = httputil.WriteSuccess(w, o)
}

// GetUserRoles lists a user's role memberships
func (h *Handlers) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}

	if _, err := h.store.GetUser(r.Context(), userID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	roles, err := h.store.UserRoles(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if roles == nil {
		roles = []UserRole{}
	}

	_ = httputil.WriteSuccess(w, roles)
}

// AssignRole gives a user a role
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}

	var body struct {
		RoleID int64 `json:"roleId"`
	}
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	if body.RoleID <= 0 {
		httputil.WriteBadRequest(w, "roleId is required")
		return
	}

	if err := h.admin.AssignRole(r.Context(), userID, body.RoleID, actorID(r)); err != nil {
		writeDomainError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

// RemoveRole takes a role away from a user
func (h *Handlers) RemoveRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleId")
	if !ok {
		return
	}

	if err := h.admin.RemoveRole(r.Context(), userID, roleID, actorID(r)); err != nil {
		writeDomainError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

// ListRoles lists all roles, system roles first
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if roles == nil {
		roles = []Role{}
	}

	_ = httputil.WriteSuccess(w, roles)
}

type roleBody struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsActive    *bool  `json:"isActive,omitempty"`
}

// CreateRole creates a new non-system role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var body roleBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}

	role := &Role{
		Name:        strings.TrimSpace(body.Name),
		Description: body.Description,
		IsActive:    body.IsActive == nil || *body.IsActive,
	}
	if err := h.admin.CreateRole(r.Context(), role, actorID(r)); err != nil {
		writeDomainError(w, r, err)
		return
	}

	_ = httputil.WriteCreated(w, role)
}

// RoleResponse is a role with its permissions
type RoleResponse struct {
	Role
	Permissions []Permission `json:"permissions"`
}

// GetRole returns a role and its permissions
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleId")
	if !ok {
		return
	}

	role, err := h.store.GetRole(r.Context(), roleID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	permissions, err := h.store.RolePermissions(r.Context(), roleID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if permissions == nil {
		permissions = []Permission{}
	}

	_ = httputil.WriteSuccess(w, RoleResponse{Role: *role, Permissions: permissions})
}

// UpdateRole renames, describes or (de)activates a role
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleId")
	if !ok {
		return
	}

	var body roleBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	existing, err := h.store.GetRole(r.Context(), roleID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	role := *existing
	if body.Name != "" {
		role.Name = body.Name
	}
	if body.Description != "" {
		role.Description = body.Description
	}
	if body.IsActive != nil {
		role.IsActive = *body.IsActive
	}

	if err := h.admin.UpdateRole(r.Context(), &role, actorID(r)); err != nil {
		writeDomainError(w, r, err)
		return
	}

	_ = httputil.WriteSuccess(w, role)
}

// DeleteRole deletes a non-system role
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleId")
	if !ok {
		return
	}

	if err := h.admin.DeleteRole(r.Context(), roleID, actorID(r)); err != nil {
		writeDomainError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

// GetRoleMembers lists the IDs of users holding a role
func (h *Handlers) GetRoleMembers(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleId")
	if !ok {
		return
	}

	if _, err := h.store.GetRole(r.Context(), roleID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	members, err := h.store.RoleMembers(r.Context(), roleID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if members == nil {
		members = []int64{}
	}

	_ = httputil.WriteSuccess(w, map[string]interface{}{"roleId": roleID, "userIds": members})
}

type rolePermissionBody struct {
	PermissionID int64 `json:"permissionId"`
}

// AttachPermission links a permission to a role
func (h *Handlers) AttachPermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleId")
	if !ok {
		return
	}

	var body rolePermissionBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	if body.PermissionID <= 0 {
		httputil.WriteBadRequest(w, "permissionId is required")
		return
	}

	if err := h.admin.AttachPermission(r.Context(), roleID, body.PermissionID, actorID(r)); err != nil {
		writeDomainError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

// DetachPermission unlinks a permission from a role
func (h *Handlers) DetachPermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleId")
	if !ok {
		return
	}
	permissionID, ok := httputil.ParsePathInt64OrError(w, r, "permissionId")
	if !ok {
		return
	}

	if err := h.admin.DetachPermission(r.Context(), roleID, permissionID, actorID(r)); err != nil {
		writeDomainError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

// ListPermissions returns the catalog ordered by name
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	permissions, err := h.catalog.List(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if permissions == nil {
		permissions = []Permission{}
	}

	_ = httputil.WriteSuccess(w, permissions)
}

// CreatePermission adds a permission to the catalog
func (h *Handlers) CreatePermission(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Resource    string `json:"resource"`
		Action      string `json:"action"`
		Description string `json:"description"`
	}
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	p := &Permission{
		Resource:    strings.TrimSpace(body.Resource),
		Action:      strings.TrimSpace(body.Action),
		Description: body.Description,
	}
	if err := h.admin.CreatePermission(r.Context(), p, actorID(r)); err != nil {
		writeDomainError(w, r, err)
		return
	}

	_ = httputil.WriteCreated(w, p)
}

// GetPermission returns one catalog entry
func (h *Handlers) GetPermission(w http.ResponseWriter, r *http.Request) {
	permissionID, ok := httputil.ParsePathInt64OrError(w, r, "permissionId")
	if !ok {
		return
	}

	p, err := h.catalog.Get(r.Context(), permissionID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	_ = httputil.WriteSuccess(w, p)
}

// MyPermissionsResponse is the caller's cached permission set
type MyPermissionsResponse struct {
	UserID      int64    `json:"userId"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// GetMyPermissions returns the caller's effective permission names from the cache
func (h *Handlers) GetMyPermissions(w http.ResponseWriter, r *http.Request) {
	userID := actorID(r)
	if userID == 0 {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	permissions, err := h.checker.EffectivePermissionNames(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	roles, err := h.checker.RoleNames(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	_ = httputil.WriteSuccess(w, MyPermissionsResponse{UserID: userID, Roles: roles, Permissions: permissions})
}
