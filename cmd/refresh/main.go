package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/ignite/fraudguard/internal/config"
	"github.com/ignite/fraudguard/internal/refdata"
	"github.com/ignite/fraudguard/internal/refresh"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// refresh is the manual entry point for the reference data pipeline. By
// default it delegates to a running server so locks and bookkeeping stay
// in one process; --sync runs the pipeline directly against the database
// for cron deployments and backfills without a server.
func main() {
	source := flag.String("source", "all", "source to refresh (all, tor, disposable_emails, asn, user_agents)")
	force := flag.Bool("force", false, "ignore minimum refresh intervals")
	sync := flag.Bool("sync", false, "run the pipeline in-process instead of via the server API")
	flag.Parse()

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var report refresh.Report
	if *sync {
		report = runInProcess(cfg, *source, *force)
	} else {
		report = runViaServer(cfg, *source, *force)
	}

	failed := 0
	for name, sr := range report.Sources {
		switch {
		case sr.Error != "":
			fmt.Printf("  %-18s FAILED: %s\n", name, sr.Error)
			failed++
		case sr.Skipped:
			fmt.Printf("  %-18s skipped\n", name)
		default:
			fmt.Printf("  %-18s %d entries\n", name, sr.Count)
		}
	}
	fmt.Printf("Total: %d entries\n", report.Total)

	if failed > 0 {
		os.Exit(1)
	}
}

func runInProcess(cfg *config.Config, source string, force bool) refresh.Report {
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("ping: %v", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("parse REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	store := refdata.NewStore(db, redisClient, refdata.DefaultCacheTTLs())
	pipeline := refresh.NewPipeline(db, store, redisClient, cfg.Refresh, cfg.Retention.StaleReferenceAge())

	ctx := context.Background()
	if source == "all" {
		return pipeline.RunAll(ctx, force)
	}
	report, err := pipeline.RunOne(ctx, source, force)
	if err != nil {
		log.Fatalf("refresh %s: %v", source, err)
	}
	return report
}

func runViaServer(cfg *config.Config, source string, force bool) refresh.Report {
	url := fmt.Sprintf("http://%s:%d/api/v1/refresh/%s", cfg.Server.GetHost(), cfg.Server.Port, source)
	if force {
		url += "?force=true"
	}

	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		log.Fatalf("build request: %v", err)
	}
	if key := os.Getenv("FRAUD_API_KEY"); key != "" {
		req.Header.Set("X-API-Key", key)
	}

	client := &http.Client{Timeout: 30 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("call server (use --sync to run without one): %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Fatalf("server returned %d: %s", resp.StatusCode, body)
	}

	var report refresh.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		log.Fatalf("decode report: %v", err)
	}
	return report
}
