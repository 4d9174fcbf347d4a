package refresh

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/fraudguard/internal/config"
	"github.com/ignite/fraudguard/internal/refdata"
)

// defaultStaleAfter is how long a deactivated reference row survives
// before the post-run sweep removes it. Long enough to ride out a broken
// feed.
const defaultStaleAfter = 7 * 24 * time.Hour

// Source is one refreshable reference feed.
type Source interface {
	Name() string
	// MinInterval is the youngest a previous successful run may be before
	// a new one is refused (unless forced).
	MinInterval() time.Duration
	// Refresh streams the feed into the reference tables and returns the
	// number of upserted entries.
	Refresh(ctx context.Context, run *Run) (int, error)
}

// SourceReport is one source's slice of a pipeline run.
type SourceReport struct {
	Success bool   `json:"success"`
	Skipped bool   `json:"skipped,omitempty"`
	Count   int    `json:"count"`
	Error   string `json:"error,omitempty"`
}

// Report summarizes one pipeline invocation.
type Report struct {
	Sources   map[string]SourceReport `json:"sources"`
	Total     int                     `json:"total"`
	StartedAt time.Time               `json:"started_at"`
	Duration  time.Duration           `json:"duration"`
}

// Pipeline coordinates the reference data refresh jobs: per-source
// scheduling, cross-process locking, and run bookkeeping.
type Pipeline struct {
	db      *sql.DB
	store   *refdata.Store
	redis   *redis.Client
	cfg     config.RefreshConfig
	memPct  int
	stale   time.Duration
	sources []Source

	// locks back the no-overlap guarantee when no redis is configured.
	// One mutex per source, TryLock only: a held lock means skip, never
	// queue behind the running job.
	locks map[string]*sync.Mutex
}

// NewPipeline builds the pipeline with the standard four sources.
// staleAfter bounds how long deactivated reference rows survive the
// post-run sweep; <= 0 falls back to seven days.
func NewPipeline(db *sql.DB, store *refdata.Store, redisClient *redis.Client,
	cfg config.RefreshConfig, staleAfter time.Duration) *Pipeline {
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	client := &http.Client{Timeout: 10 * time.Minute}
	p := &Pipeline{
		db:     db,
		store:  store,
		redis:  redisClient,
		cfg:    cfg,
		memPct: cfg.MemoryLimitPercent,
		stale:  staleAfter,
	}
	p.sources = []Source{
		NewTorSource(store, client, cfg),
		NewDisposableSource(store, client, cfg),
		NewASNSource(store, client, cfg),
		NewUserAgentSource(store, client, cfg),
	}
	p.locks = make(map[string]*sync.Mutex, len(p.sources))
	for _, s := range p.sources {
		p.locks[s.Name()] = &sync.Mutex{}
	}
	return p
}

// SourceNames lists the registered source names in run order.
func (p *Pipeline) SourceNames() []string {
	names := make([]string, len(p.sources))
	for i, s := range p.sources {
		names[i] = s.Name()
	}
	return names
}

// RunAll refreshes every source sequentially and aggregates the report.
// Sources are independent; one failure never stops the rest.
func (p *Pipeline) RunAll(ctx context.Context, force bool) Report {
	report := Report{Sources: make(map[string]SourceReport), StartedAt: time.Now()}
	for _, s := range p.sources {
		sr := p.runSource(ctx, s, force)
		report.Sources[s.Name()] = sr
		report.Total += sr.Count
	}
	report.Duration = time.Since(report.StartedAt)
	return report
}

// RunOne refreshes a single source by name.
func (p *Pipeline) RunOne(ctx context.Context, name string, force bool) (Report, error) {
	report := Report{Sources: make(map[string]SourceReport), StartedAt: time.Now()}
	for _, s := range p.sources {
		if s.Name() != name {
			continue
		}
		sr := p.runSource(ctx, s, force)
		report.Sources[name] = sr
		report.Total = sr.Count
		report.Duration = time.Since(report.StartedAt)
		return report, nil
	}
	return Report{}, fmt.Errorf("unknown refresh source %q", name)
}

func (p *Pipeline) runSource(parent context.Context, s Source, force bool) SourceReport {
	name := s.Name()

	timeout := p.cfg.JobTimeout()
	if timeout <= 0 {
		timeout = 20 * time.Minute
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	// Cross-process no-overlap lock. The TTL covers a hung job; Unlock
	// releases it early on the normal path.
	unlock, ok := p.acquireLock(ctx, name, timeout)
	if !ok {
		log.Printf("[Refresh] %s: another run is in progress, skipping", name)
		return SourceReport{Skipped: true}
	}
	defer unlock()

	if !force {
		if last, ok := p.lastSuccess(ctx, name); ok && time.Since(last) < s.MinInterval() {
			log.Printf("[Refresh] %s: last run %s ago is younger than %s, skipping",
				name, time.Since(last).Round(time.Second), s.MinInterval())
			return SourceReport{Skipped: true}
		}
	}

	runID := p.recordStart(ctx, name)
	run := &Run{pipeline: p, source: name}

	count, err := s.Refresh(ctx, run)
	if err != nil {
		log.Printf("[Refresh] %s failed: %v", name, err)
		p.recordFinish(ctx, runID, "failed", count, err.Error())
		return SourceReport{Error: err.Error(), Count: count}
	}

	for _, table := range run.tables() {
		if deleted, err := p.store.DeleteStale(ctx, table, p.stale); err != nil {
			log.Printf("[Refresh] %s: stale sweep of %s failed: %v", name, table, err)
		} else if deleted > 0 {
			log.Printf("[Refresh] %s: swept %d stale rows from %s", name, deleted, table)
		}
	}

	p.recordFinish(ctx, runID, "success", count, "")
	p.store.InvalidateCache(ctx, name)
	log.Printf("[Refresh] %s: upserted %d entries", name, count)
	return SourceReport{Success: true, Count: count}
}

func (p *Pipeline) acquireLock(ctx context.Context, name string, ttl time.Duration) (func(), bool) {
	if p.redis == nil {
		// Single-process deployment; TryLock mirrors the SetNX semantics
		// without blocking the caller behind a running job.
		m := p.locks[name]
		if !m.TryLock() {
			return nil, false
		}
		return m.Unlock, true
	}
	key := "refresh:lock:" + name
	token := uuid.New().String()
	ok, err := p.redis.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		log.Printf("[Refresh] lock acquire failed for %s: %v", name, err)
		return func() {}, true // availability over strictness
	}
	if !ok {
		return nil, false
	}
	return func() {
		val, err := p.redis.Get(context.Background(), key).Result()
		if err == nil && val == token {
			p.redis.Del(context.Background(), key)
		}
	}, true
}

func (p *Pipeline) lastSuccess(ctx context.Context, name string) (time.Time, bool) {
	var completed time.Time
	err := p.db.QueryRowContext(ctx, `
		SELECT completed_at FROM data_source_refreshes
		WHERE source = $1 AND status = 'success' AND completed_at IS NOT NULL
		ORDER BY completed_at DESC LIMIT 1
	`, name).Scan(&completed)
	if err != nil {
		return time.Time{}, false
	}
	return completed, true
}

func (p *Pipeline) recordStart(ctx context.Context, name string) string {
	id := uuid.New().String()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO data_source_refreshes (id, source, status, started_at)
		VALUES ($1, $2, 'running', NOW())
	`, id, name)
	if err != nil {
		log.Printf("[Refresh] record start for %s: %v", name, err)
	}
	return id
}

func (p *Pipeline) recordFinish(ctx context.Context, id, status string, count int, errMsg string) {
	_, err := p.db.ExecContext(ctx, `
		UPDATE data_source_refreshes
		SET status = $2, entry_count = $3, error = NULLIF($4, ''), completed_at = NOW()
		WHERE id = $1
	`, id, status, count, errMsg)
	if err != nil {
		log.Printf("[Refresh] record finish %s: %v", id, err)
	}
}

// Run carries per-run state shared between the pipeline and a source:
// which tables the run touched and the between-batch housekeeping.
type Run struct {
	pipeline *Pipeline
	source   string
	touched  []string
}

// Touch registers a reference table as written by this run, so the stale
// sweep covers it.
func (r *Run) Touch(table string) {
	for _, t := range r.touched {
		if t == table {
			return
		}
	}
	r.touched = append(r.touched, table)
}

func (r *Run) tables() []string { return r.touched }

// AfterBatch runs the between-batch housekeeping: a GC hint to return
// parse garbage promptly, and the advisory memory ceiling check.
func (r *Run) AfterBatch() {
	runtime.GC()
	r.pipeline.checkMemory(r.source)
}

// checkMemory logs when the process heap crosses the advisory ceiling.
// Purely observational; the streaming design is what actually bounds use.
func (p *Pipeline) checkMemory(source string) {
	limit := p.memPct
	if limit <= 0 {
		limit = 80
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	// Sys is what the process took from the OS; the ceiling is a percent
	// of the configured process budget, defaulting to 512 MiB.
	const processBudget = 512 << 20
	ceiling := uint64(processBudget) * uint64(limit) / 100
	if ms.HeapAlloc > ceiling {
		log.Printf("[Refresh] WARNING: %s heap %d MiB exceeds advisory ceiling %d MiB",
			source, ms.HeapAlloc>>20, ceiling>>20)
	}
}
