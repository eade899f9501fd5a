package archive

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// DefaultCursor names the cursor row used by the override event exporter
const DefaultCursor = "override_events"

// EventSource pages the override event log
type EventSource interface {
	EventsSince(ctx context.Context, afterSeq int64, limit int) ([]rbac.OverrideEvent, error)
}

// Options controls how events are batched into objects
type Options struct {
	Prefix    string
	BatchSize int
	Cursor    string
}

// Exporter copies new override events to object storage as JSON lines.
// Each batch is uploaded before the cursor advances, so an interrupted run
// re-exports at most one batch.
type Exporter struct {
	db       *sql.DB
	events   EventSource
	uploader Uploader
	opts     Options
	metrics  *observability.Metrics
	logger   *observability.Logger
	now      func() time.Time
}

// NewExporter creates a new event exporter
func NewExporter(db *sql.DB, events EventSource, uploader Uploader, opts Options, metrics *observability.Metrics, logger *observability.Logger) *Exporter {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.Cursor == "" {
		opts.Cursor = DefaultCursor
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, io.Discard)
	}
	return &Exporter{
		db:       db,
		events:   events,
		uploader: uploader,
		opts:     opts,
		metrics:  metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run exports every event after the stored cursor and returns how many were written
func (e *Exporter) Run(ctx context.Context) (int, error) {
	cursor, err := e.Cursor(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for {
		events, err := e.events.EventsSince(ctx, cursor, e.opts.BatchSize)
		if err != nil {
			return total, fmt.Errorf("failed to read events after %d: %w", cursor, err)
		}
		if len(events) == 0 {
			return total, nil
		}

		first, last := events[0].Seq, events[len(events)-1].Seq
		key := e.objectKey(first, last)
		body, err := encodeLines(events)
		if err != nil {
			return total, err
		}
		if err := e.uploader.PutObject(ctx, key, bytes.NewReader(body), "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("failed to upload %s: %w", key, err)
		}
		if err := e.saveCursor(ctx, last); err != nil {
			return total, err
		}

		cursor = last
		total += len(events)
		e.metrics.ArchivedEvents(len(events))
		e.logger.WithFields(map[string]interface{}{
			"key":       key,
			"events":    len(events),
			"first_seq": first,
			"last_seq":  last,
		}).Info("archived override events")

		if len(events) < e.opts.BatchSize {
			return total, nil
		}
	}
}

// Cursor returns the sequence number of the last archived event
func (e *Exporter) Cursor(ctx context.Context) (int64, error) {
	var seq int64
	err := e.db.QueryRowContext(ctx,
		`SELECT last_seq FROM archive_cursor WHERE name = $1`, e.opts.Cursor,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read archive cursor: %w", err)
	}
	return seq, nil
}

func (e *Exporter) saveCursor(ctx context.Context, seq int64) error {
	_, err := e.db.ExecContext(ctx, `
		INSERT INTO archive_cursor (name, last_seq, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET last_seq = excluded.last_seq, updated_at = excluded.updated_at
	`, e.opts.Cursor, seq, e.now())
	if err != nil {
		return fmt.Errorf("failed to advance archive cursor: %w", err)
	}
	return nil
}

// objectKey partitions objects by export date: <prefix>/2006/01/02/<first>-<last>.jsonl
func (e *Exporter) objectKey(first, last int64) string {
	return path.Join(e.opts.Prefix, e.now().Format("2006/01/02"), fmt.Sprintf("%020d-%020d.jsonl", first, last))
}

func encodeLines(events []rbac.OverrideEvent) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return nil, fmt.Errorf("failed to encode event %d: %w", events[i].Seq, err)
		}
	}
	return buf.Bytes(), nil
}
