package maintenance

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// Job names
const (
	JobIntegrity = "override-integrity"
	JobArchive   = "override-archive"
	JobDBStats   = "db-stats"
)

// IntegrityChecker reports on the single-active-override invariant
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context) (*rbac.IntegrityReport, error)
}

// Archiver exports new override events
type Archiver interface {
	Run(ctx context.Context) (int, error)
}

// IntegrityJob records integrity gauges and logs any slot holding more than
// one active override. A violation is returned as an error so it is logged
// at error level.
func IntegrityJob(checker IntegrityChecker, metrics *observability.Metrics) Job {
	return func(ctx context.Context) error {
		report, err := checker.CheckIntegrity(ctx)
		if err != nil {
			return err
		}
		metrics.RecordIntegrity(report.ViolatingSlots, report.ActiveOverrides)

		observability.FromContext(ctx).WithFields(map[string]interface{}{
			"active_overrides": report.ActiveOverrides,
			"violating_slots":  report.ViolatingSlots,
		}).Debug("override integrity checked")

		if report.ViolatingSlots > 0 {
			return fmt.Errorf("%d permission slots hold more than one active override", report.ViolatingSlots)
		}
		return nil
	}
}

// ArchiveJob runs the event exporter
func ArchiveJob(archiver Archiver) Job {
	return func(ctx context.Context) error {
		n, err := archiver.Run(ctx)
		if err != nil {
			return fmt.Errorf("archive stopped after %d events: %w", n, err)
		}
		return nil
	}
}

// DBStatsJob copies connection pool statistics into metrics
func DBStatsJob(db *sql.DB, metrics *observability.Metrics) Job {
	return func(ctx context.Context) error {
		metrics.RecordDBStats(db)
		return nil
	}
}
