package refdata

import (
	"context"
	"database/sql"
	"fmt"
)

// LookupBlacklist returns the blacklist entry for a keyed hash, or nil.
// The caller supplies the hash; this layer never sees plaintext values.
func (s *Store) LookupBlacklist(ctx context.Context, kind BlacklistKind, valueHash string) (*BlacklistEntry, error) {
	table, err := blacklistTable(kind)
	if err != nil {
		return nil, err
	}
	cacheKey := fmt.Sprintf("refdata:blacklist:%s:%s", kind, valueHash)

	var cached BlacklistEntry
	if found, negative := s.cache.get(ctx, cacheKey, &cached); found {
		return &cached, nil
	} else if negative {
		return nil, nil
	}

	var e BlacklistEntry
	err = s.db.QueryRowContext(ctx, `
		SELECT value_hash, reason, risk_weight, report_count, last_seen_at
		FROM `+table+`
		WHERE value_hash = $1
	`, valueHash).Scan(&e.ValueHash, &e.Reason, &e.RiskWeight, &e.ReportCount, &e.LastSeenAt)
	if err == sql.ErrNoRows {
		s.cache.setNegative(ctx, cacheKey, s.ttls.Blacklist)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s blacklist: %w", kind, err)
	}

	s.cache.set(ctx, cacheKey, &e, s.ttls.Blacklist)
	return &e, nil
}

// AddBlacklistEntry inserts or refreshes a single entry. Used by admin
// tooling; repeated reports of the same hash increment report_count, which
// raises the effective weight.
func (s *Store) AddBlacklistEntry(ctx context.Context, kind BlacklistKind, entry BlacklistEntry) error {
	table, err := blacklistTable(kind)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO `+table+` (value_hash, reason, risk_weight, report_count, last_seen_at, updated_at)
		VALUES ($1, $2, $3, 1, NOW(), NOW())
		ON CONFLICT (value_hash) DO UPDATE SET
			reason = EXCLUDED.reason,
			risk_weight = GREATEST(`+table+`.risk_weight, EXCLUDED.risk_weight),
			report_count = `+table+`.report_count + 1,
			last_seen_at = NOW(),
			updated_at = NOW()
	`, entry.ValueHash, entry.Reason, clampWeight(entry.RiskWeight))
	if err != nil {
		return fmt.Errorf("add %s blacklist entry: %w", kind, err)
	}
	s.cache.invalidatePrefix(ctx, fmt.Sprintf("refdata:blacklist:%s:%s", kind, entry.ValueHash))
	return nil
}

// RemoveBlacklistEntry deletes an entry by hash. Admin action only.
func (s *Store) RemoveBlacklistEntry(ctx context.Context, kind BlacklistKind, valueHash string) error {
	table, err := blacklistTable(kind)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE value_hash = $1`, valueHash); err != nil {
		return fmt.Errorf("remove %s blacklist entry: %w", kind, err)
	}
	s.cache.invalidatePrefix(ctx, fmt.Sprintf("refdata:blacklist:%s:%s", kind, valueHash))
	return nil
}
