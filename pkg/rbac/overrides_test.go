package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	userCols       = []string{"id", "username", "is_active", "created_at"}
	permissionCols = []string{"id", "name", "resource", "action", "description", "created_at"}
	overrideCols   = []string{"id", "user_id", "permission_id", "name", "is_granted", "reason", "assigned_at", "assigned_by_user_id", "revoked_at", "revoked_by_user_id"}
)

// expectSlotLookups queues the user and permission existence checks Grant performs before its transaction
func expectSlotLookups(mock sqlmock.Sqlmock, now time.Time) {
	mock.ExpectQuery(`SELECT .+ FROM users WHERE id`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(int64(5), "u", true, now))
	mock.ExpectQuery(`SELECT .+ FROM permissions WHERE id`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(permissionCols).AddRow(int64(9), "Product.Read", "Product", "Read", "", now))
}

func newMockAdministrator(t *testing.T) (*Administrator, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewAdministrator(db, NewChecker(nil, nil, nil, nil), nil, nil, nil), mock
}

func TestGrant_UniqueViolationIsConflict(t *testing.T) {
	admin, mock := newMockAdministrator(t)
	now := time.Now().UTC()

	expectSlotLookups(mock, now)
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM permission_overrides o`).
		WithArgs(int64(5), int64(9)).
		WillReturnRows(sqlmock.NewRows(overrideCols))
	mock.ExpectQuery(`INSERT INTO permission_overrides`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	_, err := admin.Grant(context.Background(), OverrideRequest{UserID: 5, PermissionID: 9, ActorID: 1, Reason: "race"})
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrant_LostRetireRaceIsConflict(t *testing.T) {
	admin, mock := newMockAdministrator(t)
	now := time.Now().UTC()

	expectSlotLookups(mock, now)
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM permission_overrides o`).
		WithArgs(int64(5), int64(9)).
		WillReturnRows(sqlmock.NewRows(overrideCols).
			AddRow(int64(40), int64(5), int64(9), "Product.Read", false, "old", now, int64(1), nil, nil))
	mock.ExpectExec(`UPDATE permission_overrides`).
		WithArgs(sqlmock.AnyArg(), int64(1), int64(40)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := admin.Grant(context.Background(), OverrideRequest{UserID: 5, PermissionID: 9, ActorID: 1, Reason: "race"})
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrant_SerializationFailureOnCommitIsConflict(t *testing.T) {
	admin, mock := newMockAdministrator(t)
	now := time.Now().UTC()

	expectSlotLookups(mock, now)
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM permission_overrides o`).
		WithArgs(int64(5), int64(9)).
		WillReturnRows(sqlmock.NewRows(overrideCols))
	mock.ExpectQuery(`INSERT INTO permission_overrides`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(41)))
	mock.ExpectQuery(`INSERT INTO override_events`).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(1)))
	mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access"})

	_, err := admin.Grant(context.Background(), OverrideRequest{UserID: 5, PermissionID: 9, ActorID: 1, Reason: "race"})
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevoke_NoActiveOverrideRollsBack(t *testing.T) {
	admin, mock := newMockAdministrator(t)
	now := time.Now().UTC()

	expectSlotLookups(mock, now)
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM permission_overrides o`).
		WithArgs(int64(5), int64(9)).
		WillReturnRows(sqlmock.NewRows(overrideCols))
	mock.ExpectRollback()

	_, err := admin.Revoke(context.Background(), 5, 9, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOverrideStore_EventsSince(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.manager.GetAdministrator()

	_, err := admin.Grant(ctx, f.request(f.del, "one"))
	require.NoError(t, err)
	_, err = admin.Deny(ctx, f.request(f.del, "two"))
	require.NoError(t, err)
	_, err = admin.Revoke(ctx, f.user.ID, f.del.ID, f.admin.ID)
	require.NoError(t, err)

	store := f.manager.GetOverrideStore()
	all, err := store.EventsSince(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].Seq, all[i-1].Seq)
	}
	assert.Equal(t, []EventType{EventGranted, EventRevoked, EventDenied, EventRevoked},
		[]EventType{all[0].Type, all[1].Type, all[2].Type, all[3].Type})

	page, err := store.EventsSince(ctx, all[1].Seq, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, all[2].ID, page[0].ID)

	none, err := store.EventsSince(ctx, all[3].Seq, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestOverrideStore_CheckIntegrityDetectsViolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Simulate a store without the partial unique index
	_, err := f.db.Exec(`DROP INDEX idx_permission_overrides_active_slot`)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = f.db.Exec(`
			INSERT INTO permission_overrides (user_id, permission_id, is_granted, reason, assigned_at, assigned_by_user_id)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			f.user.ID, f.read.ID, true, "dup", time.Now().UTC(), f.admin.ID)
		require.NoError(t, err)
	}

	report, err := f.manager.GetOverrideStore().CheckIntegrity(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.ActiveOverrides)
	assert.Equal(t, 1, report.ViolatingSlots)
}

func TestOverrideStore_ActiveSlotIndexRejectsSecondActiveRow(t *testing.T) {
	f := newFixture(t)

	insert := func() error {
		_, err := f.db.Exec(`
			INSERT INTO permission_overrides (user_id, permission_id, is_granted, reason, assigned_at, assigned_by_user_id)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			f.user.ID, f.read.ID, true, "x", time.Now().UTC(), f.admin.ID)
		return classifyWriteError("insert override", err)
	}

	require.NoError(t, insert())
	assert.ErrorIs(t, insert(), ErrConflict)
}
