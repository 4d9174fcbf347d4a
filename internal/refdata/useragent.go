package refdata

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
)

// UserAgentHash returns the unkeyed sha256 hex of a raw UA string. User
// agents are not PII, so the known-UA table keys on a plain digest that any
// node can recompute without the vault.
func UserAgentHash(ua string) string {
	sum := sha256.Sum256([]byte(ua))
	return hex.EncodeToString(sum[:])
}

// LookupKnownUserAgent returns the known-UA row for the given sha256 hex
// key, or nil.
func (s *Store) LookupKnownUserAgent(ctx context.Context, hash string) (*KnownUserAgent, error) {
	cacheKey := "refdata:ua:" + hash

	var cached KnownUserAgent
	if found, negative := s.cache.get(ctx, cacheKey, &cached); found {
		return &cached, nil
	} else if negative {
		return nil, nil
	}

	var u KnownUserAgent
	err := s.db.QueryRowContext(ctx, `
		SELECT user_agent_hash, type, COALESCE(name, ''), COALESCE(version, ''), risk_weight, is_outdated, eol_date, is_active
		FROM known_user_agents
		WHERE user_agent_hash = $1 AND is_active = true
	`, hash).Scan(&u.Hash, &u.Type, &u.Name, &u.Version, &u.RiskWeight, &u.IsOutdated, &u.EOLDate, &u.IsActive)
	if err == sql.ErrNoRows {
		s.cache.setNegative(ctx, cacheKey, s.ttls.ASN)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup known user agent: %w", err)
	}

	s.cache.set(ctx, cacheKey, &u, s.ttls.ASN)
	return &u, nil
}

// UpsertKnownUserAgents merges a batch on the UA hash.
func (s *Store) UpsertKnownUserAgents(ctx context.Context, tx *sql.Tx, agents []KnownUserAgent) error {
	if len(agents) == 0 {
		return ErrEmptyBatch
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO known_user_agents (user_agent_hash, type, name, version, risk_weight, is_outdated, eol_date, is_active, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, true, NOW())
		ON CONFLICT (user_agent_hash) DO UPDATE SET
			type = EXCLUDED.type,
			name = COALESCE(EXCLUDED.name, known_user_agents.name),
			version = COALESCE(EXCLUDED.version, known_user_agents.version),
			risk_weight = EXCLUDED.risk_weight,
			is_outdated = EXCLUDED.is_outdated,
			eol_date = COALESCE(EXCLUDED.eol_date, known_user_agents.eol_date),
			is_active = true,
			updated_at = NOW()
	`)
	if err != nil {
		return fmt.Errorf("prepare user agent upsert: %w", err)
	}
	defer stmt.Close()

	for _, u := range agents {
		if u.Type == "" {
			u.Type = UAUnknown
		}
		if _, err := stmt.ExecContext(ctx, u.Hash, u.Type, u.Name, u.Version,
			clampWeight(u.RiskWeight), u.IsOutdated, u.EOLDate); err != nil {
			return fmt.Errorf("upsert known user agent %s: %w", u.Hash, err)
		}
	}
	return nil
}
