package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/ignite/fraudguard/internal/config"
)

// =============================================================================
// DATA CLEANUP WORKER — Retention for Audit Records & Refresh Bookkeeping
// =============================================================================
// Without periodic cleanup, fraud check audit records and refresh run rows
// accumulate indefinitely, causing database bloat and slow reputation
// queries.
//
// Retention policies:
//   - fraud_checks:            365 days (configurable)
//   - data_source_refreshes:    90 days
//
// Deletes run in batches to avoid long-running transactions that could
// lock tables and block evaluation traffic.

const (
	// DefaultCleanupInterval is how often the cleanup cycle runs.
	DefaultCleanupInterval = 6 * time.Hour

	// cleanupBatchSize limits each DELETE to avoid table-level locks.
	cleanupBatchSize = 10000

	refreshRunRetention = 90 * 24 * time.Hour
)

// DataCleanupWorker periodically removes expired rows.
type DataCleanupWorker struct {
	db        *sql.DB
	interval  time.Duration
	retention config.RetentionConfig
}

// NewDataCleanupWorker creates a cleanup worker with default settings.
func NewDataCleanupWorker(db *sql.DB, retention config.RetentionConfig) *DataCleanupWorker {
	return &DataCleanupWorker{
		db:        db,
		interval:  DefaultCleanupInterval,
		retention: retention,
	}
}

// Start begins the cleanup loop. It blocks until ctx is cancelled.
func (dc *DataCleanupWorker) Start(ctx context.Context) {
	log.Printf("[DataCleanup] Starting (interval=%s, batch_size=%d)", dc.interval, cleanupBatchSize)

	// Run once immediately on start
	dc.cleanup(ctx)

	ticker := time.NewTicker(dc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[DataCleanup] Stopping")
			return
		case <-ticker.C:
			dc.cleanup(ctx)
		}
	}
}

func (dc *DataCleanupWorker) cleanup(ctx context.Context) {
	start := time.Now()
	log.Println("[DataCleanup] Cleanup cycle starting...")

	dc.cleanupFraudChecks(ctx)
	dc.cleanupRefreshRuns(ctx)

	log.Printf("[DataCleanup] Cleanup cycle completed in %s", time.Since(start).Round(time.Millisecond))
}

func (dc *DataCleanupWorker) cleanupFraudChecks(ctx context.Context) {
	days := dc.retention.FraudCheckDays
	if days <= 0 {
		days = 365
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	total := dc.batchDelete(ctx, "fraud_checks", `
		DELETE FROM fraud_checks
		WHERE id IN (
			SELECT id FROM fraud_checks WHERE created_at < $1 LIMIT $2
		)
	`, cutoff)
	if total > 0 {
		log.Printf("[DataCleanup] fraud_checks: removed %d records older than %d days", total, days)
	}
}

func (dc *DataCleanupWorker) cleanupRefreshRuns(ctx context.Context) {
	cutoff := time.Now().Add(-refreshRunRetention)

	total := dc.batchDelete(ctx, "data_source_refreshes", `
		DELETE FROM data_source_refreshes
		WHERE id IN (
			SELECT id FROM data_source_refreshes WHERE started_at < $1 LIMIT $2
		)
	`, cutoff)
	if total > 0 {
		log.Printf("[DataCleanup] data_source_refreshes: removed %d run records", total)
	}
}

// batchDelete repeats the delete until a batch comes back short.
func (dc *DataCleanupWorker) batchDelete(ctx context.Context, table, query string, cutoff time.Time) int64 {
	var total int64
	for {
		res, err := dc.db.ExecContext(ctx, query, cutoff, cleanupBatchSize)
		if err != nil {
			log.Printf("[DataCleanup] %s delete failed: %v", table, err)
			return total
		}
		n, _ := res.RowsAffected()
		total += n
		if n < cleanupBatchSize {
			return total
		}
		select {
		case <-ctx.Done():
			return total
		case <-time.After(time.Second):
		}
	}
}

// String describes the worker's retention settings for startup logs.
func (dc *DataCleanupWorker) String() string {
	return fmt.Sprintf("cleanup(fraud_checks=%dd, refresh_runs=%s)",
		dc.retention.FraudCheckDays, refreshRunRetention)
}
