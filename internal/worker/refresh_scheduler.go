package worker

import (
	"context"
	"log"
	"time"

	"github.com/ignite/fraudguard/internal/refresh"
)

// RefreshScheduler runs the reference data pipeline on a timer. The
// pipeline itself enforces per-source minimum intervals and cross-process
// locks, so the scheduler can tick fast and let sources decline.
type RefreshScheduler struct {
	pipeline *refresh.Pipeline
	interval time.Duration
}

// NewRefreshScheduler creates the scheduler. interval <= 0 defaults to
// one hour.
func NewRefreshScheduler(pipeline *refresh.Pipeline, interval time.Duration) *RefreshScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &RefreshScheduler{pipeline: pipeline, interval: interval}
}

// Start begins the refresh loop. It blocks until ctx is cancelled.
func (rs *RefreshScheduler) Start(ctx context.Context) {
	log.Printf("[RefreshScheduler] Starting (interval=%s, sources=%v)",
		rs.interval, rs.pipeline.SourceNames())

	// First pass on boot fills empty reference tables.
	rs.run(ctx)

	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[RefreshScheduler] Stopping")
			return
		case <-ticker.C:
			rs.run(ctx)
		}
	}
}

func (rs *RefreshScheduler) run(ctx context.Context) {
	report := rs.pipeline.RunAll(ctx, false)
	for name, sr := range report.Sources {
		switch {
		case sr.Error != "":
			log.Printf("[RefreshScheduler] %s failed: %s", name, sr.Error)
		case sr.Skipped:
			// Declined by interval or lock; routine.
		default:
			log.Printf("[RefreshScheduler] %s refreshed %d entries", name, sr.Count)
		}
	}
}
