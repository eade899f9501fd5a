package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/storage"
)

// Invalidation reasons recorded in metrics and logs
const (
	reasonOverride   = "override"
	reasonMembership = "membership"
	reasonRoleChange = "role_change"
)

// Administrator is the mutation surface for overrides, roles and memberships.
// Every write commits before the affected users' cache entries are invalidated.
type Administrator struct {
	db          *sql.DB
	checker     *Checker
	auditLogger audit.Logger
	metrics     *observability.Metrics
	logger      *observability.Logger
	now         func() time.Time
}

// NewAdministrator creates a new administrator
func NewAdministrator(db *sql.DB, checker *Checker, auditLogger audit.Logger, metrics *observability.Metrics, logger *observability.Logger) *Administrator {
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, io.Discard)
	}
	return &Administrator{
		db:          db,
		checker:     checker,
		auditLogger: auditLogger,
		metrics:     metrics,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Grant gives a user a permission regardless of roles, superseding any active override
func (a *Administrator) Grant(ctx context.Context, req OverrideRequest) (*PermissionOverride, error) {
	return a.setOverride(ctx, req, true)
}

// Deny removes a permission from a user even if a role or grant provides it,
// superseding any active override
func (a *Administrator) Deny(ctx context.Context, req OverrideRequest) (*PermissionOverride, error) {
	return a.setOverride(ctx, req, false)
}

func operationName(isGranted bool) string {
	if isGranted {
		return "grant"
	}
	return "deny"
}

func (a *Administrator) setOverride(ctx context.Context, req OverrideRequest, isGranted bool) (o *PermissionOverride, err error) {
	op := operationName(isGranted)
	ctx, span := observability.Tracer().Start(ctx, "rbac."+op)
	span.SetAttributes(
		attribute.Int64("user.id", req.UserID),
		attribute.Int64("permission.id", req.PermissionID),
	)
	defer func() {
		a.metrics.OverrideMutation(op, outcome(err))
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		return nil, invalid("reason is required")
	}
	if req.ActorID <= 0 {
		return nil, invalid("acting user is required")
	}

	if _, err := getUser(ctx, a.db, req.UserID); err != nil {
		return nil, err
	}
	permission, err := getPermission(ctx, a.db, req.PermissionID)
	if err != nil {
		return nil, err
	}

	now := a.now()
	o = &PermissionOverride{
		UserID:           req.UserID,
		PermissionID:     req.PermissionID,
		PermissionName:   permission.Name,
		IsGranted:        isGranted,
		Reason:           req.Reason,
		AssignedAt:       now,
		AssignedByUserID: req.ActorID,
	}

	var superseded *PermissionOverride
	err = storage.WithTx(ctx, a.db, nil, func(tx *sql.Tx) error {
		prior, err := activeForSlot(ctx, tx, req.UserID, req.PermissionID)
		switch {
		case err == nil:
			if err := retireOverride(ctx, tx, prior, req.ActorID, now); err != nil {
				return err
			}
			if err := appendEvent(ctx, tx, &OverrideEvent{
				UserID:       req.UserID,
				PermissionID: req.PermissionID,
				Type:         EventRevoked,
				Reason:       "superseded",
				ActorID:      req.ActorID,
				OverrideID:   prior.ID,
				OccurredAt:   now,
			}); err != nil {
				return err
			}
			superseded = prior
		case errors.Is(err, ErrNotFound):
		default:
			return err
		}

		if err := insertOverride(ctx, tx, o); err != nil {
			return err
		}

		eventType := EventDenied
		if isGranted {
			eventType = EventGranted
		}
		return appendEvent(ctx, tx, &OverrideEvent{
			UserID:       req.UserID,
			PermissionID: req.PermissionID,
			Type:         eventType,
			Reason:       req.Reason,
			ActorID:      req.ActorID,
			OverrideID:   o.ID,
			OccurredAt:   now,
		})
	})
	if err != nil {
		return nil, classifyWriteError(op+" permission", err)
	}

	a.checker.InvalidateCache(ctx, req.UserID, reasonOverride)

	eventType := audit.EventTypeAuthzPermissionDeny
	if isGranted {
		eventType = audit.EventTypeAuthzPermissionGrant
	}
	changes := &audit.ChangeDetails{
		After: map[string]interface{}{
			"override_id": o.ID,
			"is_granted":  isGranted,
			"reason":      o.Reason,
		},
	}
	if superseded != nil {
		changes.Before = map[string]interface{}{
			"override_id": superseded.ID,
			"is_granted":  superseded.IsGranted,
			"reason":      superseded.Reason,
		}
	}
	a.logAudit(ctx, eventType, req.ActorID, audit.ResourceTypeOverride, slotID(req.UserID, req.PermissionID), changes,
		fmt.Sprintf("%s %s for user %d", op, permission.Name, req.UserID))

	return o, nil
}

// Revoke retires the active override for a slot without replacing it, so the
// slot falls back to role-based resolution. Fails with ErrNotFound and writes
// nothing when no override is active.
func (a *Administrator) Revoke(ctx context.Context, userID, permissionID, actorID int64) (o *PermissionOverride, err error) {
	ctx, span := observability.Tracer().Start(ctx, "rbac.revoke")
	span.SetAttributes(
		attribute.Int64("user.id", userID),
		attribute.Int64("permission.id", permissionID),
	)
	defer func() {
		a.metrics.OverrideMutation("revoke", outcome(err))
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	if actorID <= 0 {
		return nil, invalid("acting user is required")
	}
	if _, err := getUser(ctx, a.db, userID); err != nil {
		return nil, err
	}
	if _, err := getPermission(ctx, a.db, permissionID); err != nil {
		return nil, err
	}

	now := a.now()
	err = storage.WithTx(ctx, a.db, nil, func(tx *sql.Tx) error {
		active, err := activeForSlot(ctx, tx, userID, permissionID)
		if err != nil {
			return err
		}
		if err := retireOverride(ctx, tx, active, actorID, now); err != nil {
			return err
		}
		o = active
		return appendEvent(ctx, tx, &OverrideEvent{
			UserID:       userID,
			PermissionID: permissionID,
			Type:         EventRevoked,
			ActorID:      actorID,
			OverrideID:   active.ID,
			OccurredAt:   now,
		})
	})
	if err != nil {
		return nil, classifyWriteError("revoke permission", err)
	}

	a.checker.InvalidateCache(ctx, userID, reasonOverride)

	a.logAudit(ctx, audit.EventTypeAuthzPermissionRevoke, actorID, audit.ResourceTypeOverride, slotID(userID, permissionID),
		&audit.ChangeDetails{Before: map[string]interface{}{
			"override_id": o.ID,
			"is_granted":  o.IsGranted,
			"reason":      o.Reason,
		}},
		fmt.Sprintf("revoke %s for user %d", o.PermissionName, userID))

	return o, nil
}

// CreatePermission adds a permission to the catalog
func (a *Administrator) CreatePermission(ctx context.Context, p *Permission, actorID int64) error {
	if err := createPermission(ctx, a.db, p); err != nil {
		return err
	}
	a.logAudit(ctx, audit.EventTypeAdminPermissionCreate, actorID, audit.ResourceTypePermission, strconv.FormatInt(p.ID, 10), nil,
		"created permission "+p.Name)
	return nil
}

// CreateRole creates a non-system role
func (a *Administrator) CreateRole(ctx context.Context, role *Role, actorID int64) error {
	role.IsSystemRole = false
	if err := createRole(ctx, a.db, role); err != nil {
		return err
	}
	a.logAudit(ctx, audit.EventTypeAdminRoleCreate, actorID, audit.ResourceTypeRole, strconv.FormatInt(role.ID, 10), nil,
		"created role "+role.Name)
	return nil
}

// UpdateRole renames, describes or (de)activates a role. Deactivation changes
// every member's effective set.
func (a *Administrator) UpdateRole(ctx context.Context, role *Role, actorID int64) error {
	role.Name = strings.TrimSpace(role.Name)
	if role.Name == "" {
		return invalid("role name is required")
	}

	var members []int64
	var before *Role
	err := storage.WithTx(ctx, a.db, nil, func(tx *sql.Tx) error {
		existing, err := getRole(ctx, tx, role.ID)
		if err != nil {
			return err
		}
		if existing.IsSystemRole {
			return fmt.Errorf("role %q: %w", existing.Name, ErrImmutableRole)
		}
		before = existing
		role.IsSystemRole = false
		role.CreatedAt = existing.CreatedAt

		if err := updateRole(ctx, tx, role); err != nil {
			return err
		}
		if existing.IsActive != role.IsActive || existing.Name != role.Name {
			members, err = roleMembers(ctx, tx, role.ID)
		}
		return err
	})
	if err != nil {
		return classifyWriteError("update role", err)
	}

	a.checker.InvalidateUsers(ctx, members, reasonRoleChange)
	a.logAudit(ctx, audit.EventTypeAdminRoleUpdate, actorID, audit.ResourceTypeRole, strconv.FormatInt(role.ID, 10),
		&audit.ChangeDetails{
			Before: map[string]interface{}{"name": before.Name, "is_active": before.IsActive},
			After:  map[string]interface{}{"name": role.Name, "is_active": role.IsActive},
		},
		"updated role "+role.Name)
	return nil
}

// DeleteRole deletes a non-system role and its memberships
func (a *Administrator) DeleteRole(ctx context.Context, roleID, actorID int64) error {
	var members []int64
	var name string
	err := storage.WithTx(ctx, a.db, nil, func(tx *sql.Tx) error {
		role, err := getRole(ctx, tx, roleID)
		if err != nil {
			return err
		}
		if role.IsSystemRole {
			return fmt.Errorf("role %q: %w", role.Name, ErrImmutableRole)
		}
		name = role.Name

		members, err = roleMembers(ctx, tx, roleID)
		if err != nil {
			return err
		}
		return deleteRole(ctx, tx, roleID)
	})
	if err != nil {
		return classifyWriteError("delete role", err)
	}

	a.checker.InvalidateUsers(ctx, members, reasonRoleChange)
	a.logAudit(ctx, audit.EventTypeAdminRoleDelete, actorID, audit.ResourceTypeRole, strconv.FormatInt(roleID, 10), nil,
		"deleted role "+name)
	return nil
}

// AttachPermission links a permission to a role and invalidates every member
func (a *Administrator) AttachPermission(ctx context.Context, roleID, permissionID, actorID int64) error {
	return a.changeRolePermission(ctx, roleID, permissionID, actorID, true)
}

// DetachPermission unlinks a permission from a role and invalidates every member
func (a *Administrator) DetachPermission(ctx context.Context, roleID, permissionID, actorID int64) error {
	return a.changeRolePermission(ctx, roleID, permissionID, actorID, false)
}

func (a *Administrator) changeRolePermission(ctx context.Context, roleID, permissionID, actorID int64, attach bool) error {
	var members []int64
	var roleName, permissionName string
	changed := true

	err := storage.WithTx(ctx, a.db, nil, func(tx *sql.Tx) error {
		role, err := getRole(ctx, tx, roleID)
		if err != nil {
			return err
		}
		if role.IsSystemRole {
			return fmt.Errorf("role %q: %w", role.Name, ErrImmutableRole)
		}
		permission, err := getPermission(ctx, tx, permissionID)
		if err != nil {
			return err
		}
		roleName, permissionName = role.Name, permission.Name

		if attach {
			changed, err = attachPermission(ctx, tx, roleID, permissionID)
		} else {
			err = detachPermission(ctx, tx, roleID, permissionID)
		}
		if err != nil || !changed {
			return err
		}

		members, err = roleMembers(ctx, tx, roleID)
		return err
	})
	if err != nil {
		return classifyWriteError("change role permission", err)
	}
	if !changed {
		return nil
	}

	a.checker.InvalidateUsers(ctx, members, reasonRoleChange)

	verb := "detached"
	if attach {
		verb = "attached"
	}
	a.logAudit(ctx, audit.EventTypeAuthzRoleChange, actorID, audit.ResourceTypeRole, strconv.FormatInt(roleID, 10), nil,
		fmt.Sprintf("%s %s on role %s", verb, permissionName, roleName))
	return nil
}

// AssignRole gives a user a role
func (a *Administrator) AssignRole(ctx context.Context, userID, roleID, actorID int64) error {
	var roleName string
	changed := false

	err := storage.WithTx(ctx, a.db, nil, func(tx *sql.Tx) error {
		if _, err := getUser(ctx, tx, userID); err != nil {
			return err
		}
		role, err := getRole(ctx, tx, roleID)
		if err != nil {
			return err
		}
		roleName = role.Name

		changed, err = assignRole(ctx, tx, userID, roleID, &actorID)
		return err
	})
	if err != nil {
		return classifyWriteError("assign role", err)
	}
	if !changed {
		return nil
	}

	a.checker.InvalidateCache(ctx, userID, reasonMembership)
	a.logAudit(ctx, audit.EventTypeAuthzRoleAssign, actorID, audit.ResourceTypeUser, strconv.FormatInt(userID, 10), nil,
		"assigned role "+roleName)
	return nil
}

// RemoveRole takes a role away from a user
func (a *Administrator) RemoveRole(ctx context.Context, userID, roleID, actorID int64) error {
	if err := removeRole(ctx, a.db, userID, roleID); err != nil {
		return err
	}

	a.checker.InvalidateCache(ctx, userID, reasonMembership)
	a.logAudit(ctx, audit.EventTypeAuthzRoleUnassign, actorID, audit.ResourceTypeUser, strconv.FormatInt(userID, 10), nil,
		fmt.Sprintf("removed role %d", roleID))
	return nil
}

func (a *Administrator) logAudit(ctx context.Context, eventType audit.EventType, actorID int64, resourceType audit.ResourceType, resourceID string, changes *audit.ChangeDetails, message string) {
	var actor *int64
	if actorID > 0 {
		actor = &actorID
	}
	event := audit.NewDataMutationEvent(ctx, eventType, actor, resourceType, resourceID, changes, message)
	if err := a.auditLogger.Log(ctx, event); err != nil {
		a.logger.WithError(err).WithField("event_type", string(eventType)).Warn("failed to write audit event")
	}
}

func slotID(userID, permissionID int64) string {
	return strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(permissionID, 10)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
