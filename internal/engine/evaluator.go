package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/fraudguard/internal/checks"
	"github.com/ignite/fraudguard/internal/domain"
	"github.com/ignite/fraudguard/internal/scoring"
	"github.com/ignite/fraudguard/internal/vault"
)

// ErrInternal is what callers see when persistence or reference data
// fails mid-evaluation. The cause stays in the logs, not the response.
var ErrInternal = errors.New("evaluation failed")

// AuditStore persists evaluation audit records inside one transaction.
// Implemented by *postgres.FraudCheckRepo.
type AuditStore interface {
	BeginTx(ctx context.Context) (*sql.Tx, error)
	InsertPending(ctx context.Context, tx *sql.Tx, fc *domain.FraudCheck) error
	Complete(ctx context.Context, tx *sql.Tx, fc *domain.FraudCheck) error
}

// HighRiskNotifier receives fire-and-forget events for evaluations at or
// above the block threshold. Implemented by *Alerter.
type HighRiskNotifier interface {
	NotifyHighRisk(ctx context.Context, event HighRiskEvent)
}

// Evaluation is the formatted result returned to the caller.
type Evaluation struct {
	CheckID          string                   `json:"check_id"`
	RiskScore        int                      `json:"risk_score"`
	Decision         scoring.Decision         `json:"decision"`
	CheckResults     map[string]checks.Result `json:"check_results"`
	PassedChecks     []string                 `json:"passed_checks"`
	FailedChecks     []string                 `json:"failed_checks"`
	ProcessingTimeMs int64                    `json:"processing_time_ms"`
	Timestamp        time.Time                `json:"timestamp"`
}

// Evaluator runs the full pipeline for one input: audit open, concurrent
// checks, scoring, decision, audit close, high-risk notification.
type Evaluator struct {
	registry *checks.Registry
	scorer   *scoring.Scorer
	mapper   scoring.Mapper
	audits   AuditStore
	vault    *vault.Vault
	notifier HighRiskNotifier
	deadline time.Duration
}

// NewEvaluator wires the pipeline. notifier may be nil; deadline <= 0
// falls back to five seconds.
func NewEvaluator(registry *checks.Registry, scorer *scoring.Scorer, mapper scoring.Mapper,
	audits AuditStore, v *vault.Vault, notifier HighRiskNotifier, deadline time.Duration) *Evaluator {
	if deadline <= 0 {
		deadline = 5 * time.Second
	}
	return &Evaluator{
		registry: registry,
		scorer:   scorer,
		mapper:   mapper,
		audits:   audits,
		vault:    v,
		notifier: notifier,
		deadline: deadline,
	}
}

// Evaluate runs every applicable check concurrently and returns the
// combined verdict. A *checks.ValidationError means the input was
// rejected; ErrInternal means persistence or reference data failed and
// no audit record was kept.
func (e *Evaluator) Evaluate(ctx context.Context, in *checks.Input) (*Evaluation, error) {
	start := time.Now()

	if err := in.Validate(); err != nil {
		return nil, err
	}

	record, err := e.buildRecord(in)
	if err != nil {
		log.Printf("[Evaluator] build audit record: %v", err)
		return nil, ErrInternal
	}

	tx, err := e.audits.BeginTx(ctx)
	if err != nil {
		log.Printf("[Evaluator] begin tx: %v", err)
		return nil, ErrInternal
	}
	defer tx.Rollback()

	if err := e.audits.InsertPending(ctx, tx, record); err != nil {
		log.Printf("[Evaluator] insert pending: %v", err)
		return nil, ErrInternal
	}

	results, err := e.runChecks(ctx, in)
	if err != nil {
		log.Printf("[Evaluator] reference data unavailable: %v", err)
		return nil, ErrInternal
	}

	score := e.scorer.Score(results)
	decision := e.mapper.Decide(score)
	passed, failed := partition(results)

	resultsJSON, err := json.Marshal(results)
	if err != nil {
		log.Printf("[Evaluator] marshal results: %v", err)
		return nil, ErrInternal
	}

	record.RiskScore = score
	record.Decision = string(decision)
	record.CheckResults = resultsJSON
	record.PassedChecks = passed
	record.FailedChecks = failed
	record.ProcessingTimeMs = time.Since(start).Milliseconds()

	if err := e.audits.Complete(ctx, tx, record); err != nil {
		log.Printf("[Evaluator] complete audit: %v", err)
		return nil, ErrInternal
	}
	if err := tx.Commit(); err != nil {
		log.Printf("[Evaluator] commit: %v", err)
		return nil, ErrInternal
	}

	if decision == scoring.DecisionBlock && e.notifier != nil {
		event := HighRiskEvent{
			CheckID:      record.ID,
			RiskScore:    score,
			Decision:     string(decision),
			FailedChecks: failed,
			OccurredAt:   time.Now().UTC(),
		}
		go func() {
			notifyCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			e.notifier.NotifyHighRisk(notifyCtx, event)
		}()
	}

	return &Evaluation{
		CheckID:          record.ID,
		RiskScore:        score,
		Decision:         decision,
		CheckResults:     results,
		PassedChecks:     passed,
		FailedChecks:     failed,
		ProcessingTimeMs: record.ProcessingTimeMs,
		Timestamp:        start.UTC(),
	}, nil
}

// runChecks fans the applicable checks out and collects their results.
// A reference-store failure cancels the remaining checks and aborts; a
// deadline or panic degrades into the individual result.
func (e *Evaluator) runChecks(ctx context.Context, in *checks.Input) (map[string]checks.Result, error) {
	applicable := e.registry.Applicable(in)

	execCtx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	g, gctx := errgroup.WithContext(execCtx)
	var mu sync.Mutex
	results := make(map[string]checks.Result, len(applicable))

	for _, check := range applicable {
		check := check
		g.Go(func() error {
			res, err := performSafely(gctx, check, in)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					res = checks.Result{
						Passed:  false,
						Score:   50,
						Details: map[string]any{"error": "timeout"},
					}
				} else {
					return fmt.Errorf("%s: %w", check.Name(), err)
				}
			}
			mu.Lock()
			results[check.Name()] = res
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// performSafely isolates one check: a panic inside it becomes a
// neutral-risk result rather than taking the evaluation down.
func performSafely(ctx context.Context, check checks.Check, in *checks.Input) (res checks.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Evaluator] check %s panicked: %v", check.Name(), r)
			res = checks.Result{
				Passed:  false,
				Score:   50,
				Details: map[string]any{"error": fmt.Sprintf("panic: %v", r)},
			}
			err = nil
		}
	}()
	return check.Perform(ctx, in)
}

// buildRecord hashes and encrypts the provided identity fields for the
// audit trail.
func (e *Evaluator) buildRecord(in *checks.Input) (*domain.FraudCheck, error) {
	fc := &domain.FraudCheck{
		Domain:  in.EmailDomain(),
		Country: in.Country,
		Status:  domain.FraudCheckPending,
	}

	set := func(value string, hash, enc *string) error {
		if value == "" {
			return nil
		}
		*hash = e.vault.Hash(value)
		ct, err := e.vault.Encrypt(value)
		if err != nil {
			return err
		}
		*enc = ct
		return nil
	}

	if err := set(in.Email, &fc.EmailHash, &fc.EmailEncrypted); err != nil {
		return nil, fmt.Errorf("encrypt email: %w", err)
	}
	if err := set(in.IP, &fc.IPHash, &fc.IPEncrypted); err != nil {
		return nil, fmt.Errorf("encrypt ip: %w", err)
	}
	if err := set(in.CreditCard, &fc.CreditCardHash, &fc.CreditCardEncrypted); err != nil {
		return nil, fmt.Errorf("encrypt credit card: %w", err)
	}
	if err := set(in.Phone, &fc.PhoneHash, &fc.PhoneEncrypted); err != nil {
		return nil, fmt.Errorf("encrypt phone: %w", err)
	}
	if in.UserAgent != "" {
		fc.UserAgentHash = e.vault.Hash(in.UserAgent)
	}
	fc.Headers = selectedHeaders(in.Headers)
	return fc, nil
}

// auditedHeaders is the allowlist of request headers kept on the audit
// record. Everything else may carry PII and is dropped.
var auditedHeaders = []string{
	"X-Forwarded-For", "X-Real-Ip", "Forwarded", "Via", "Client-Ip",
	"Cf-Connecting-Ip", "Accept-Language",
}

func selectedHeaders(headers map[string][]string) json.RawMessage {
	if len(headers) == 0 {
		return nil
	}
	keep := make(map[string][]string)
	for _, name := range auditedHeaders {
		if values := headerValues(headers, name); len(values) > 0 {
			keep[name] = values
		}
	}
	if len(keep) == 0 {
		return nil
	}
	raw, err := json.Marshal(keep)
	if err != nil {
		return nil
	}
	return raw
}

func headerValues(headers map[string][]string, name string) []string {
	for key, values := range headers {
		if strings.EqualFold(key, name) {
			return values
		}
	}
	return nil
}

// partition splits results into passed and failed name lists, sorted for
// deterministic storage and output.
func partition(results map[string]checks.Result) (passed, failed []string) {
	for name, res := range results {
		if res.Passed {
			passed = append(passed, name)
		} else {
			failed = append(failed, name)
		}
	}
	sort.Strings(passed)
	sort.Strings(failed)
	return passed, failed
}
