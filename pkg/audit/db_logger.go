package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/platinummonkey/warden/pkg/storage"
)

// DBLogger writes audit events to the audit_logs table
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger and ensures the
// audit_logs table exists
func NewDBLogger(db *sql.DB, dialect storage.Dialect) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{db: db}

	if err := logger.ensureTable(dialect); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}

	return logger, nil
}

func (l *DBLogger) ensureTable(dialect storage.Dialect) error {
	query := dialect.Rewrite(`
	CREATE TABLE IF NOT EXISTS audit_logs (
		id {{ID}},
		timestamp TIMESTAMP NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		user_id BIGINT,
		username VARCHAR(255),
		resource_type VARCHAR(50),
		resource_id VARCHAR(255),
		request_id VARCHAR(100),
		message TEXT,
		error_message TEXT,
		metadata TEXT,
		changes TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id);
	`)

	_, err := l.db.Exec(query)
	return err
}

const insertAuditLog = `
	INSERT INTO audit_logs (
		timestamp, event_type, status, user_id, username,
		resource_type, resource_id, request_id,
		message, error_message, metadata, changes
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	RETURNING id`

// nullJSON encodes v for a nullable TEXT column; empty values are stored as NULL
func nullJSON(v interface{}, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// Log inserts the event and sets event.ID
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	metadata, err := nullJSON(event.Metadata, len(event.Metadata) == 0)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	changes, err := nullJSON(event.Changes, event.Changes == nil)
	if err != nil {
		return fmt.Errorf("failed to marshal changes: %w", err)
	}

	err = l.db.QueryRowContext(ctx, insertAuditLog,
		event.Timestamp, string(event.EventType), string(event.Status), event.UserID, event.Username,
		string(event.ResourceType), event.ResourceID, event.RequestID,
		event.Message, event.ErrorMessage, metadata, changes,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// Close is a no-op; the database is owned by the caller
func (l *DBLogger) Close() error {
	return nil
}
