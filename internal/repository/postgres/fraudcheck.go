package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/fraudguard/internal/checks"
	"github.com/ignite/fraudguard/internal/domain"
)

// FraudCheckRepo persists evaluation audit records against PostgreSQL.
type FraudCheckRepo struct{ db *sql.DB }

// NewFraudCheckRepo creates a Postgres-backed audit repository.
func NewFraudCheckRepo(db *sql.DB) *FraudCheckRepo { return &FraudCheckRepo{db: db} }

// BeginTx opens the transaction that brackets one evaluation.
func (r *FraudCheckRepo) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return r.db.BeginTx(ctx, nil)
}

// InsertPending writes the opening audit record before any check runs, so
// an evaluation that dies mid-flight rolls the record back with it.
func (r *FraudCheckRepo) InsertPending(ctx context.Context, tx *sql.Tx, fc *domain.FraudCheck) error {
	if fc.ID == "" {
		fc.ID = uuid.New().String()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO fraud_checks (
			id, email_hash, email_encrypted, ip_hash, ip_encrypted,
			credit_card_hash, credit_card_encrypted, phone_hash, phone_encrypted,
			user_agent_hash, headers, domain, country, status, created_at, updated_at
		)
		VALUES ($1, NULLIF($2,''), NULLIF($3,''), NULLIF($4,''), NULLIF($5,''),
		        NULLIF($6,''), NULLIF($7,''), NULLIF($8,''), NULLIF($9,''),
		        NULLIF($10,''), $11, NULLIF($12,''), NULLIF($13,''), $14, NOW(), NOW())
	`, fc.ID, fc.EmailHash, fc.EmailEncrypted, fc.IPHash, fc.IPEncrypted,
		fc.CreditCardHash, fc.CreditCardEncrypted, fc.PhoneHash, fc.PhoneEncrypted,
		fc.UserAgentHash, nullableJSON(fc.Headers), fc.Domain, fc.Country, domain.FraudCheckPending)
	if err != nil {
		return fmt.Errorf("insert pending fraud check: %w", err)
	}
	return nil
}

// Complete fills in the outcome of the evaluation on the pending record.
func (r *FraudCheckRepo) Complete(ctx context.Context, tx *sql.Tx, fc *domain.FraudCheck) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE fraud_checks
		SET status = $2, risk_score = $3, decision = $4, check_results = $5,
		    passed_checks = $6, failed_checks = $7, processing_time_ms = $8,
		    updated_at = NOW()
		WHERE id = $1
	`, fc.ID, domain.FraudCheckCompleted, fc.RiskScore, fc.Decision,
		[]byte(fc.CheckResults), pq.Array(fc.PassedChecks), pq.Array(fc.FailedChecks),
		fc.ProcessingTimeMs)
	if err != nil {
		return fmt.Errorf("complete fraud check: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("complete fraud check: no pending record %s", fc.ID)
	}
	return nil
}

// GetByID loads one audit record.
func (r *FraudCheckRepo) GetByID(ctx context.Context, id string) (*domain.FraudCheck, error) {
	var fc domain.FraudCheck
	var emailHash, ipHash, cardHash, phoneHash, uaHash, dom, country, decision sql.NullString
	var checkResults, headers []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email_hash, ip_hash, credit_card_hash, phone_hash, user_agent_hash,
		       headers, domain, country, status, COALESCE(risk_score, 0), decision,
		       check_results, COALESCE(passed_checks, '{}'), COALESCE(failed_checks, '{}'),
		       COALESCE(processing_time_ms, 0), created_at, updated_at
		FROM fraud_checks WHERE id = $1
	`, id).Scan(&fc.ID, &emailHash, &ipHash, &cardHash, &phoneHash, &uaHash,
		&headers, &dom, &country, &fc.Status, &fc.RiskScore, &decision, &checkResults,
		pq.Array(&fc.PassedChecks), pq.Array(&fc.FailedChecks),
		&fc.ProcessingTimeMs, &fc.CreatedAt, &fc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get fraud check: %w", err)
	}
	fc.EmailHash = emailHash.String
	fc.IPHash = ipHash.String
	fc.CreditCardHash = cardHash.String
	fc.PhoneHash = phoneHash.String
	fc.UserAgentHash = uaHash.String
	fc.Domain = dom.String
	fc.Country = country.String
	fc.Decision = decision.String
	fc.CheckResults = checkResults
	fc.Headers = headers
	return &fc, nil
}

// nullableJSON maps empty JSON payloads onto SQL NULL.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// HistoryByHash aggregates completed evaluations that saw the given field
// hash in any identity position.
func (r *FraudCheckRepo) HistoryByHash(ctx context.Context, fieldHash string, since time.Time) (checks.ReputationSummary, error) {
	var s checks.ReputationSummary
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(risk_score), 0),
		       COUNT(*) FILTER (WHERE decision = 'block')
		FROM fraud_checks
		WHERE status = 'completed' AND created_at >= $2
		  AND (email_hash = $1 OR ip_hash = $1 OR credit_card_hash = $1 OR phone_hash = $1)
	`, fieldHash, since).Scan(&s.Evaluations, &s.AvgScore, &s.BlockCount)
	if err != nil {
		return checks.ReputationSummary{}, fmt.Errorf("history by hash: %w", err)
	}
	return s, nil
}

// DomainHistory aggregates completed evaluations of addresses under one
// email domain.
func (r *FraudCheckRepo) DomainHistory(ctx context.Context, dom string, since time.Time) (checks.ReputationSummary, error) {
	var s checks.ReputationSummary
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(risk_score), 0),
		       COUNT(*) FILTER (WHERE decision = 'block')
		FROM fraud_checks
		WHERE status = 'completed' AND created_at >= $2 AND domain = $1
	`, dom, since).Scan(&s.Evaluations, &s.AvgScore, &s.BlockCount)
	if err != nil {
		return checks.ReputationSummary{}, fmt.Errorf("domain history: %w", err)
	}
	return s, nil
}

// DeleteOlderThan removes audit records past the retention horizon in
// batches, so the delete never holds a long lock on a hot table.
func (r *FraudCheckRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	var total int64
	for {
		res, err := r.db.ExecContext(ctx, `
			DELETE FROM fraud_checks
			WHERE id IN (
				SELECT id FROM fraud_checks WHERE created_at < $1 LIMIT $2
			)
		`, cutoff, batchSize)
		if err != nil {
			return total, fmt.Errorf("delete old fraud checks: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
		if n < int64(batchSize) {
			return total, nil
		}
	}
}
