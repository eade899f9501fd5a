package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OverrideStore persists per-user permission overrides and their event log.
// Rows are retired by setting revoked_at and are never deleted.
type OverrideStore struct {
	db *sql.DB
}

// NewOverrideStore creates a new override store
func NewOverrideStore(db *sql.DB) *OverrideStore {
	return &OverrideStore{db: db}
}

const overrideColumns = `
	o.id, o.user_id, o.permission_id, p.name, o.is_granted, o.reason,
	o.assigned_at, o.assigned_by_user_id, o.revoked_at, o.revoked_by_user_id
`

func scanOverride(row interface{ Scan(...interface{}) error }) (*PermissionOverride, error) {
	var o PermissionOverride
	var revokedAt sql.NullTime
	var revokedBy sql.NullInt64

	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.PermissionID,
		&o.PermissionName,
		&o.IsGranted,
		&o.Reason,
		&o.AssignedAt,
		&o.AssignedByUserID,
		&revokedAt,
		&revokedBy,
	)
	if err != nil {
		return nil, err
	}

	if revokedAt.Valid {
		t := revokedAt.Time
		o.RevokedAt = &t
	}
	if revokedBy.Valid {
		id := revokedBy.Int64
		o.RevokedByUserID = &id
	}
	return &o, nil
}

func queryOverrides(ctx context.Context, q querier, query string, args ...interface{}) ([]PermissionOverride, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query overrides: %w", err)
	}
	defer rows.Close()

	var overrides []PermissionOverride
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		overrides = append(overrides, *o)
	}

	return overrides, rows.Err()
}

// ActiveForUser returns every active override held by a user, ordered by permission name
func (s *OverrideStore) ActiveForUser(ctx context.Context, userID int64) ([]PermissionOverride, error) {
	query := `
		SELECT ` + overrideColumns + `
		FROM permission_overrides o
		JOIN permissions p ON p.id = o.permission_id
		WHERE o.user_id = $1 AND o.revoked_at IS NULL
		ORDER BY p.name ASC
	`
	return queryOverrides(ctx, s.db, query, userID)
}

// ListOverrideHistory returns every override row for a slot, oldest first
func (s *OverrideStore) ListOverrideHistory(ctx context.Context, userID, permissionID int64) ([]PermissionOverride, error) {
	query := `
		SELECT ` + overrideColumns + `
		FROM permission_overrides o
		JOIN permissions p ON p.id = o.permission_id
		WHERE o.user_id = $1 AND o.permission_id = $2
		ORDER BY o.assigned_at ASC, o.id ASC
	`
	return queryOverrides(ctx, s.db, query, userID, permissionID)
}

// activeForSlot returns the active override for a slot or ErrNotFound
func activeForSlot(ctx context.Context, q querier, userID, permissionID int64) (*PermissionOverride, error) {
	query := `
		SELECT ` + overrideColumns + `
		FROM permission_overrides o
		JOIN permissions p ON p.id = o.permission_id
		WHERE o.user_id = $1 AND o.permission_id = $2 AND o.revoked_at IS NULL
	`

	o, err := scanOverride(q.QueryRowContext(ctx, query, userID, permissionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("no override to revoke for user %d permission %d", userID, permissionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active override: %w", err)
	}
	return o, nil
}

// retireOverride marks one active row revoked. Zero affected rows means a
// concurrent writer retired it first.
func retireOverride(ctx context.Context, tx *sql.Tx, o *PermissionOverride, actorID int64, at time.Time) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE permission_overrides
		SET revoked_at = $1, revoked_by_user_id = $2
		WHERE id = $3 AND revoked_at IS NULL
	`, at, actorID, o.ID)
	if err != nil {
		return classifyWriteError("revoke override", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("override %d already revoked: %w", o.ID, ErrConflict)
	}

	o.RevokedAt = &at
	o.RevokedByUserID = &actorID
	return nil
}

// insertOverride writes a new active row. The partial unique index rejects a
// second active row for the slot.
func insertOverride(ctx context.Context, tx *sql.Tx, o *PermissionOverride) error {
	err := tx.QueryRowContext(ctx, `
		INSERT INTO permission_overrides (user_id, permission_id, is_granted, reason, assigned_at, assigned_by_user_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, o.UserID, o.PermissionID, o.IsGranted, o.Reason, o.AssignedAt, o.AssignedByUserID).Scan(&o.ID)
	if err != nil {
		return classifyWriteError("insert override", err)
	}
	return nil
}

// appendEvent adds an entry to the override event log
func appendEvent(ctx context.Context, tx *sql.Tx, e *OverrideEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	err := tx.QueryRowContext(ctx, `
		INSERT INTO override_events (id, user_id, permission_id, event_type, reason, actor_id, override_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq
	`, e.ID, e.UserID, e.PermissionID, string(e.Type), e.Reason, e.ActorID, e.OverrideID, e.OccurredAt).Scan(&e.Seq)
	if err != nil {
		return classifyWriteError("append override event", err)
	}
	return nil
}

const eventColumns = `seq, id, user_id, permission_id, event_type, reason, actor_id, override_id, occurred_at`

func queryEvents(ctx context.Context, q querier, query string, args ...interface{}) ([]OverrideEvent, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query override events: %w", err)
	}
	defer rows.Close()

	var events []OverrideEvent
	for rows.Next() {
		var e OverrideEvent
		var eventType string
		if err := rows.Scan(&e.Seq, &e.ID, &e.UserID, &e.PermissionID, &eventType, &e.Reason, &e.ActorID, &e.OverrideID, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan override event: %w", err)
		}
		e.Type = EventType(eventType)
		events = append(events, e)
	}

	return events, rows.Err()
}

// History returns the event log for a slot, oldest first
func (s *OverrideStore) History(ctx context.Context, userID, permissionID int64) ([]OverrideEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM override_events
		WHERE user_id = $1 AND permission_id = $2
		ORDER BY seq ASC
	`
	return queryEvents(ctx, s.db, query, userID, permissionID)
}

// EventsSince pages the event log after a sequence cursor
func (s *OverrideStore) EventsSince(ctx context.Context, afterSeq int64, limit int) ([]OverrideEvent, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `
		SELECT ` + eventColumns + `
		FROM override_events
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2
	`
	return queryEvents(ctx, s.db, query, afterSeq, limit)
}

// IntegrityReport counts active overrides and slots that hold more than one
type IntegrityReport struct {
	ActiveOverrides int       `json:"activeOverrides"`
	ViolatingSlots  int       `json:"violatingSlots"`
	CheckedAt       time.Time `json:"checkedAt"`
}

// CheckIntegrity verifies that no slot holds more than one active override
func (s *OverrideStore) CheckIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{CheckedAt: time.Now().UTC()}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM permission_overrides WHERE revoked_at IS NULL`,
	).Scan(&report.ActiveOverrides)
	if err != nil {
		return nil, fmt.Errorf("failed to count active overrides: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT user_id, permission_id
			FROM permission_overrides
			WHERE revoked_at IS NULL
			GROUP BY user_id, permission_id
			HAVING COUNT(*) > 1
		) slots
	`).Scan(&report.ViolatingSlots)
	if err != nil {
		return nil, fmt.Errorf("failed to count violating slots: %w", err)
	}

	return report, nil
}
