package refdata

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// disposableKeywords bump the default risk weight when a domain name itself
// advertises throwaway intent.
var disposableKeywords = []string{"temp", "trash", "fake", "disposable", "throwaway", "burner", "minute", "guerrilla"}

// DisposableRiskWeight computes the stored weight for a disposable domain:
// default 80, bumped to 90 when the name carries a throwaway keyword.
func DisposableRiskWeight(domain string) int {
	lower := strings.ToLower(domain)
	for _, kw := range disposableKeywords {
		if strings.Contains(lower, kw) {
			return 90
		}
	}
	return 80
}

// LookupDisposableDomain returns the active disposable-domain row, or nil.
func (s *Store) LookupDisposableDomain(ctx context.Context, domain string) (*DisposableEmailDomain, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	cacheKey := "refdata:disposable:" + domain

	var cached DisposableEmailDomain
	if found, negative := s.cache.get(ctx, cacheKey, &cached); found {
		return &cached, nil
	} else if negative {
		return nil, nil
	}

	var d DisposableEmailDomain
	err := s.db.QueryRowContext(ctx, `
		SELECT domain, source, risk_weight, is_active, last_seen_at
		FROM disposable_email_domains
		WHERE domain = $1 AND is_active = true
	`, domain).Scan(&d.Domain, &d.Source, &d.RiskWeight, &d.IsActive, &d.LastSeenAt)
	if err == sql.ErrNoRows {
		s.cache.setNegative(ctx, cacheKey, s.ttls.Disposable)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup disposable domain: %w", err)
	}

	s.cache.set(ctx, cacheKey, &d, s.ttls.Disposable)
	return &d, nil
}

// UpsertDisposableDomains merges a batch on the lowercased domain.
func (s *Store) UpsertDisposableDomains(ctx context.Context, tx *sql.Tx, domains []DisposableEmailDomain) error {
	if len(domains) == 0 {
		return ErrEmptyBatch
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO disposable_email_domains (domain, source, risk_weight, is_active, last_seen_at, updated_at)
		VALUES ($1, $2, $3, true, NOW(), NOW())
		ON CONFLICT (domain) DO UPDATE SET
			source = EXCLUDED.source,
			risk_weight = EXCLUDED.risk_weight,
			is_active = true,
			last_seen_at = NOW(),
			updated_at = NOW()
	`)
	if err != nil {
		return fmt.Errorf("prepare disposable upsert: %w", err)
	}
	defer stmt.Close()

	for _, d := range domains {
		domain := strings.ToLower(strings.TrimSpace(d.Domain))
		if domain == "" {
			continue
		}
		weight := d.RiskWeight
		if weight == 0 {
			weight = DisposableRiskWeight(domain)
		}
		if _, err := stmt.ExecContext(ctx, domain, d.Source, clampWeight(weight)); err != nil {
			return fmt.Errorf("upsert disposable domain %s: %w", domain, err)
		}
	}
	return nil
}
