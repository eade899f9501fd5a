package rbac

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/permcache"
)

// recordingAuditLogger keeps every event it is given
type recordingAuditLogger struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
}

func (l *recordingAuditLogger) Log(ctx context.Context, event *audit.AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *recordingAuditLogger) Close() error { return nil }

func (l *recordingAuditLogger) types() []audit.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]audit.EventType, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.EventType)
	}
	return out
}

// fixture is a user holding the Manager role (Product.Read) plus an admin actor
type fixture struct {
	db      *sql.DB
	manager *Manager
	audit   *recordingAuditLogger
	admin   *User
	user    *User
	read    *Permission
	del     *Permission
	mgrRole *Role
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := NewTestDB(t)
	rec := &recordingAuditLogger{}
	m := NewManager(db, permcache.NewMemoryCache(100, permcache.DefaultTTL), rec, nil, nil, Config{})

	f := &fixture{
		db:      db,
		manager: m,
		audit:   rec,
		admin:   MustCreateUser(t, db, "admin"),
		user:    MustCreateUser(t, db, "u"),
		read:    MustCreatePermission(t, db, "Product", "Read"),
		del:     MustCreatePermission(t, db, "Product", "Delete"),
	}
	f.mgrRole = MustCreateRole(t, db, "Manager", f.read)
	MustAssignRole(t, db, f.user.ID, f.mgrRole.ID)
	return f
}

func (f *fixture) request(permission *Permission, reason string) OverrideRequest {
	return OverrideRequest{UserID: f.user.ID, PermissionID: permission.ID, ActorID: f.admin.ID, Reason: reason}
}

func (f *fixture) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestAdministrator_Scenarios(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	checker := f.manager.GetChecker()
	admin := f.manager.GetAdministrator()

	// A: role only
	res, err := checker.Resolve(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Product.Read"}, res.EffectiveNames())
	assert.Equal(t, SourceRole, res.Effective[0].Source)
	assert.Equal(t, "Role:Manager", res.Effective[0].Detail)

	// B: grant Product.Delete
	_, err = admin.Grant(ctx, f.request(f.del, "temporary coverage"))
	require.NoError(t, err)

	res, err = checker.Resolve(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Product.Delete", "Product.Read"}, res.EffectiveNames())
	d := detailFor(res, "Product.Delete")
	require.NotNil(t, d)
	assert.Equal(t, SourceGranted, d.Source)
	assert.Equal(t, "temporary coverage", d.Reason)

	// C: deny Product.Read
	_, err = admin.Deny(ctx, f.request(f.read, "policy violation"))
	require.NoError(t, err)

	res, err = checker.Resolve(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Product.Delete"}, res.EffectiveNames())
	d = detailFor(res, "Product.Read")
	require.NotNil(t, d)
	assert.Equal(t, SourceDenied, d.Source)
	assert.Equal(t, "policy violation", d.Reason)
	assert.Equal(t, []string{"Product.Read"}, names(res.Missing))

	// D: revoke the deny
	revoked, err := admin.Revoke(ctx, f.user.ID, f.read.ID, f.admin.ID)
	require.NoError(t, err)
	assert.False(t, revoked.Active())
	assert.Equal(t, f.admin.ID, *revoked.RevokedByUserID)

	res, err = checker.Resolve(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Product.Delete", "Product.Read"}, res.EffectiveNames())
	d = detailFor(res, "Product.Read")
	require.NotNil(t, d)
	assert.Equal(t, "Role:Manager", d.Detail)

	assert.Equal(t, []audit.EventType{
		audit.EventTypeAuthzPermissionGrant,
		audit.EventTypeAuthzPermissionDeny,
		audit.EventTypeAuthzPermissionRevoke,
	}, f.audit.types())
}

func TestAdministrator_SupersessionKeepsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.manager.GetAdministrator()

	first, err := admin.Grant(ctx, f.request(f.del, "first"))
	require.NoError(t, err)
	second, err := admin.Grant(ctx, f.request(f.del, "second"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	rows, err := f.manager.GetOverrideStore().ListOverrideHistory(ctx, f.user.ID, f.del.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, first.ID, rows[0].ID)
	assert.False(t, rows[0].Active())
	assert.Equal(t, f.admin.ID, *rows[0].RevokedByUserID)
	assert.True(t, rows[1].Active())
	assert.Equal(t, "second", rows[1].Reason)

	events, err := f.manager.GetOverrideStore().History(ctx, f.user.ID, f.del.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, EventGranted, events[0].Type)
	assert.Equal(t, EventRevoked, events[1].Type)
	assert.Equal(t, "superseded", events[1].Reason)
	assert.Equal(t, first.ID, events[1].OverrideID)
	assert.Equal(t, EventGranted, events[2].Type)
	assert.Equal(t, second.ID, events[2].OverrideID)

	// Deny supersedes a grant the same way
	_, err = admin.Deny(ctx, f.request(f.del, "changed my mind"))
	require.NoError(t, err)
	active, err := f.manager.GetOverrideStore().ActiveForUser(ctx, f.user.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.False(t, active[0].IsGranted)
}

func TestAdministrator_SingleActiveOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.manager.GetAdministrator()

	ops := []string{"grant", "grant", "deny", "revoke", "revoke", "deny", "grant", "revoke", "grant"}
	for _, op := range ops {
		var err error
		switch op {
		case "grant":
			_, err = admin.Grant(ctx, f.request(f.read, op))
		case "deny":
			_, err = admin.Deny(ctx, f.request(f.read, op))
		case "revoke":
			_, err = admin.Revoke(ctx, f.user.ID, f.read.ID, f.admin.ID)
			if err != nil {
				assert.ErrorIs(t, err, ErrNotFound)
				err = nil
			}
		}
		require.NoError(t, err, op)

		report, err := f.manager.GetOverrideStore().CheckIntegrity(ctx)
		require.NoError(t, err)
		assert.Zero(t, report.ViolatingSlots, "after %s", op)
		assert.LessOrEqual(t, report.ActiveOverrides, 1)
	}
}

func TestAdministrator_RevokeWithoutActiveOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.manager.GetAdministrator()

	_, err := admin.Revoke(ctx, f.user.ID, f.read.ID, f.admin.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, f.count(t, "permission_overrides"))
	assert.Zero(t, f.count(t, "override_events"))
	assert.Empty(t, f.audit.types())

	// A revoked slot has nothing left to revoke either
	_, err = admin.Grant(ctx, f.request(f.del, "once"))
	require.NoError(t, err)
	_, err = admin.Revoke(ctx, f.user.ID, f.del.ID, f.admin.ID)
	require.NoError(t, err)

	overrides, events := f.count(t, "permission_overrides"), f.count(t, "override_events")
	_, err = admin.Revoke(ctx, f.user.ID, f.del.ID, f.admin.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, overrides, f.count(t, "permission_overrides"))
	assert.Equal(t, events, f.count(t, "override_events"))
}

func TestAdministrator_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.manager.GetAdministrator()

	tests := []struct {
		name    string
		req     OverrideRequest
		wantErr error
	}{
		{name: "blank reason", req: f.request(f.del, "   "), wantErr: ErrValidation},
		{name: "no actor", req: OverrideRequest{UserID: f.user.ID, PermissionID: f.del.ID, Reason: "x"}, wantErr: ErrValidation},
		{name: "unknown user", req: OverrideRequest{UserID: 9999, PermissionID: f.del.ID, ActorID: f.admin.ID, Reason: "x"}, wantErr: ErrNotFound},
		{name: "unknown permission", req: OverrideRequest{UserID: f.user.ID, PermissionID: 9999, ActorID: f.admin.ID, Reason: "x"}, wantErr: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := admin.Grant(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			_, err = admin.Deny(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := admin.Revoke(ctx, 9999, f.read.ID, f.admin.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = admin.Revoke(ctx, f.user.ID, 9999, f.admin.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Zero(t, f.count(t, "permission_overrides"))
	assert.Zero(t, f.count(t, "override_events"))
}

func TestAdministrator_CacheCoherence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	checker := f.manager.GetChecker()
	admin := f.manager.GetAdministrator()

	has := func(p *Permission) bool {
		ok, err := checker.HasPermission(ctx, f.user.ID, p.Name)
		require.NoError(t, err)
		return ok
	}

	assert.True(t, has(f.read))
	assert.False(t, has(f.del))

	_, err := admin.Grant(ctx, f.request(f.del, "coverage"))
	require.NoError(t, err)
	assert.True(t, has(f.del))

	_, err = admin.Deny(ctx, f.request(f.read, "violation"))
	require.NoError(t, err)
	assert.False(t, has(f.read))

	_, err = admin.Revoke(ctx, f.user.ID, f.read.ID, f.admin.ID)
	require.NoError(t, err)
	assert.True(t, has(f.read))

	require.NoError(t, admin.RemoveRole(ctx, f.user.ID, f.mgrRole.ID, f.admin.ID))
	assert.False(t, has(f.read))

	require.NoError(t, admin.AssignRole(ctx, f.user.ID, f.mgrRole.ID, f.admin.ID))
	assert.True(t, has(f.read))

	ship := MustCreatePermission(t, f.db, "Order", "Ship")
	require.NoError(t, admin.AttachPermission(ctx, f.mgrRole.ID, ship.ID, f.admin.ID))
	assert.True(t, has(ship))

	require.NoError(t, admin.DetachPermission(ctx, f.mgrRole.ID, ship.ID, f.admin.ID))
	assert.False(t, has(ship))

	role := *f.mgrRole
	role.IsActive = false
	require.NoError(t, admin.UpdateRole(ctx, &role, f.admin.ID))
	assert.False(t, has(f.read))

	role.IsActive = true
	require.NoError(t, admin.UpdateRole(ctx, &role, f.admin.ID))
	assert.True(t, has(f.read))

	roles, err := checker.RoleNames(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Manager"}, roles)

	role.Name = "Supervisor"
	require.NoError(t, admin.UpdateRole(ctx, &role, f.admin.ID))
	roles, err = checker.RoleNames(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Supervisor"}, roles, "a rename reaches cached role lists")

	require.NoError(t, admin.DeleteRole(ctx, f.mgrRole.ID, f.admin.ID))
	assert.False(t, has(f.read))
}

func TestAdministrator_SystemRolesAreImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.manager.GetAdministrator()

	system := &Role{Name: AdminRoleName, IsActive: true, IsSystemRole: true}
	require.NoError(t, f.manager.GetStore().CreateRole(ctx, system))

	update := *system
	update.Description = "renamed"
	assert.ErrorIs(t, admin.UpdateRole(ctx, &update, f.admin.ID), ErrImmutableRole)
	assert.ErrorIs(t, admin.DeleteRole(ctx, system.ID, f.admin.ID), ErrImmutableRole)
	assert.ErrorIs(t, admin.AttachPermission(ctx, system.ID, f.del.ID, f.admin.ID), ErrImmutableRole)

	// CreateRole never creates system roles
	custom := &Role{Name: "Custom", IsActive: true, IsSystemRole: true}
	require.NoError(t, admin.CreateRole(ctx, custom, f.admin.ID))
	stored, err := f.manager.GetStore().GetRole(ctx, custom.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsSystemRole)
}

func TestAdministrator_RoleMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.manager.GetAdministrator()

	// assigning twice is a no-op
	require.NoError(t, admin.AssignRole(ctx, f.user.ID, f.mgrRole.ID, f.admin.ID))
	assert.Empty(t, f.audit.types())

	assert.ErrorIs(t, admin.AssignRole(ctx, 9999, f.mgrRole.ID, f.admin.ID), ErrNotFound)
	assert.ErrorIs(t, admin.AssignRole(ctx, f.user.ID, 9999, f.admin.ID), ErrNotFound)

	require.NoError(t, admin.RemoveRole(ctx, f.user.ID, f.mgrRole.ID, f.admin.ID))
	assert.ErrorIs(t, admin.RemoveRole(ctx, f.user.ID, f.mgrRole.ID, f.admin.ID), ErrNotFound)

	assert.Equal(t, []audit.EventType{audit.EventTypeAuthzRoleUnassign}, f.audit.types())
}

func TestAdministrator_CreatePermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.manager.GetAdministrator()

	p := &Permission{Resource: " Invoice ", Action: "Approve"}
	require.NoError(t, admin.CreatePermission(ctx, p, f.admin.ID))
	assert.Equal(t, "Invoice.Approve", p.Name)

	err := admin.CreatePermission(ctx, &Permission{Resource: "Invoice", Action: "Approve"}, f.admin.ID)
	assert.ErrorIs(t, err, ErrConflict)

	err = admin.CreatePermission(ctx, &Permission{Resource: "Invoice"}, f.admin.ID)
	assert.ErrorIs(t, err, ErrValidation)
}
