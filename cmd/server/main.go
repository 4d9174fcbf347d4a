package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ignite/fraudguard/internal/api"
	"github.com/ignite/fraudguard/internal/checks"
	"github.com/ignite/fraudguard/internal/config"
	"github.com/ignite/fraudguard/internal/domaininfo"
	"github.com/ignite/fraudguard/internal/engine"
	"github.com/ignite/fraudguard/internal/geo"
	"github.com/ignite/fraudguard/internal/refdata"
	"github.com/ignite/fraudguard/internal/refresh"
	"github.com/ignite/fraudguard/internal/repository/postgres"
	"github.com/ignite/fraudguard/internal/scoring"
	"github.com/ignite/fraudguard/internal/vault"
	"github.com/ignite/fraudguard/internal/velocity"
	"github.com/ignite/fraudguard/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale/stub processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	slash := strings.Index(rest, "/")
	if slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", extractHost(cfg.URL), err)
	}
	return db, nil
}

func openRedis(cfg config.RedisConfig) *redis.Client {
	if !cfg.Enabled || cfg.URL == "" {
		log.Println("[redis] Disabled; running without reference cache and velocity counters")
		return nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		log.Printf("[redis] Invalid REDIS_URL (%v); continuing without Redis", err)
		return nil
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("[redis] Ping failed (%v); continuing without Redis", err)
		client.Close()
		return nil
	}
	return client
}

func cacheTTLs(cfg config.CacheConfig) refdata.CacheTTLs {
	return refdata.CacheTTLs{
		Blacklist:   time.Duration(cfg.BlacklistTTL) * time.Second,
		Disposable:  time.Duration(cfg.DisposableTTL) * time.Second,
		TorNode:     time.Duration(cfg.TorNodeTTL) * time.Second,
		ASN:         time.Duration(cfg.ASNTTL) * time.Second,
		Geolocation: time.Duration(cfg.GeolocationTTL) * time.Second,
	}
}

// buildRegistry assembles the enabled checks with their collaborators.
func buildRegistry(cfg *config.Config, store *refdata.Store, v *vault.Vault,
	counter checks.VelocityCounter, audits *postgres.FraudCheckRepo, redisClient *redis.Client) *checks.Registry {

	registry := checks.NewRegistry()

	var locator checks.GeoLocator
	if cfg.Geo.Enabled && cfg.Geo.BaseURL != "" {
		locator = geo.NewClient(cfg.Geo.BaseURL, cfg.Geo.APIKey, redisClient)
	}
	intel := domaininfo.NewClient()
	resolver := net.DefaultResolver

	var enabled []string
	if cfg.Checks.EmailEnabled {
		registry.Register(checks.NewEmailCheck(store, v.Hasher, audits, resolver))
		enabled = append(enabled, checks.NameEmail)
	}
	if cfg.Checks.DomainEnabled {
		registry.Register(checks.NewDomainCheck(audits, resolver, intel))
		enabled = append(enabled, checks.NameDomain)
	}
	if cfg.Checks.IPEnabled {
		registry.Register(checks.NewIPCheck(store, v.Hasher, counter, locator))
		enabled = append(enabled, checks.NameIP)
	}
	if cfg.Checks.CreditCardEnabled {
		registry.Register(checks.NewCreditCardCheck(store, v.Hasher, counter))
		enabled = append(enabled, checks.NameCreditCard)
	}
	if cfg.Checks.PhoneEnabled {
		registry.Register(checks.NewPhoneCheck(store, v.Hasher, counter, cfg.Checks.DisposablePhonePrefixes))
		enabled = append(enabled, checks.NamePhone)
	}
	if cfg.Checks.UserAgentEnabled {
		registry.Register(checks.NewUserAgentCheck(store, counter))
		enabled = append(enabled, checks.NameUserAgent)
	}
	log.Printf("[checks] Enabled: %s", strings.Join(enabled, ", "))
	return registry
}

func main() {
	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║  FraudGuard Evaluation Server (cmd/server/main.go)        ║")
	log.Println("║  Risk scoring API with reference data pipeline            ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")

	// Load configuration
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	// Pre-flight check: verify the target port is available
	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}
	log.Printf("Pre-flight check passed: port %d is available", port)

	db, err := openDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Printf("[db] Connected to %s (max_open=%d)", extractHost(cfg.Database.URL), cfg.Database.MaxOpenConns)

	redisClient := openRedis(cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
		log.Println("[redis] Connected")
	}

	// The vault refuses to start without both keys; fail fast here rather
	// than on the first evaluation.
	v, err := vault.New(cfg.Security.HashKey, cfg.Security.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize vault: %v", err)
	}

	store := refdata.NewStore(db, redisClient, cacheTTLs(cfg.Cache))
	// Velocity counters need Redis; without it the checks skip those
	// sub-rules rather than panic on a nil client.
	var counter checks.VelocityCounter
	if redisClient != nil {
		counter = velocity.NewCounter(redisClient)
	}
	audits := postgres.NewFraudCheckRepo(db)
	registry := buildRegistry(cfg, store, v, counter, audits, redisClient)

	var notifier engine.HighRiskNotifier
	if cfg.Alerting.Enabled && cfg.Alerting.WebhookURL != "" {
		notifier = engine.NewAlerter(cfg.Alerting.WebhookURL, cfg.Alerting.Timeout())
		log.Println("[alerting] High-risk webhook enabled")
	}

	mapper := scoring.NewMapper(cfg.Risk.ManualReviewBelow, cfg.Risk.AutoBlockAt)
	evaluator := engine.NewEvaluator(registry, scoring.NewScorer(), mapper,
		audits, v, notifier, cfg.Risk.Deadline())

	pipeline := refresh.NewPipeline(db, store, redisClient, cfg.Refresh, cfg.Retention.StaleReferenceAge())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background workers: reference refresh and retention cleanup.
	go worker.NewRefreshScheduler(pipeline, time.Hour).Start(ctx)
	cleanup := worker.NewDataCleanupWorker(db, cfg.Retention)
	log.Printf("[worker] %s", cleanup.String())
	go cleanup.Start(ctx)

	handlers := api.NewHandlers(evaluator, pipeline, audits, store, v, db, redisClient)
	server := api.NewServer(cfg.Server, handlers, os.Getenv("FRAUD_API_KEY"))

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[server] Listening on %s:%d", host, port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("Server error: %v", err)
	case sig := <-sigCh:
		log.Printf("Received %s, shutting down...", sig)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
