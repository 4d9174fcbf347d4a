package refdata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEmptyBatch is returned by UpsertBatch helpers when called with no rows.
var ErrEmptyBatch = errors.New("refdata: empty batch")

// Store presents the reference tables to the rest of the service: hashed
// lookups for checks, transactional batch upserts for refresh jobs. Checks
// treat everything here as read-only; only refresh jobs and admin tools
// mutate.
type Store struct {
	db    *sql.DB
	cache *refCache
	ttls  CacheTTLs
}

// NewStore creates a reference data store. redisClient may be nil, which
// disables the read-through cache.
func NewStore(db *sql.DB, redisClient *redis.Client, ttls CacheTTLs) *Store {
	return &Store{
		db:    db,
		cache: &refCache{redis: redisClient},
		ttls:  ttls,
	}
}

// DeactivateAll flips is_active=false for every row of table inside tx.
// Refresh jobs call this before their first batch so a completed run leaves
// a snapshot-consistent active set without a tombstone column.
func (s *Store) DeactivateAll(ctx context.Context, tx *sql.Tx, table string) error {
	if !validRefTable(table) {
		return fmt.Errorf("refdata: unknown table %q", table)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE `+table+` SET is_active = false`); err != nil {
		return fmt.Errorf("deactivate %s: %w", table, err)
	}
	return nil
}

// DeleteStale removes rows that have stayed inactive longer than the
// retention window. Returns the number of rows removed.
func (s *Store) DeleteStale(ctx context.Context, table string, olderThan time.Duration) (int64, error) {
	if !validRefTable(table) {
		return 0, fmt.Errorf("refdata: unknown table %q", table)
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE is_active = false AND updated_at < NOW() - $1::interval`,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())),
	)
	if err != nil {
		return 0, fmt.Errorf("delete stale %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// BeginTx opens a transaction for a refresh batch.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// InvalidateCache drops the cached entries for one reference kind. Called
// at the end of a refresh run so checks see the new snapshot before TTLs
// lapse.
func (s *Store) InvalidateCache(ctx context.Context, kind string) {
	s.cache.invalidatePrefix(ctx, "refdata:"+kind+":")
}

func validRefTable(table string) bool {
	switch table {
	case "tor_exit_nodes", "disposable_email_domains", "asns", "known_user_agents",
		"blacklisted_emails", "blacklisted_ips", "blacklisted_credit_cards", "blacklisted_phones":
		return true
	}
	return false
}

// blacklistTable maps a kind to its table. Kinds are a closed set, so a
// miss is a programming error.
func blacklistTable(kind BlacklistKind) (string, error) {
	switch kind {
	case BlacklistEmail:
		return "blacklisted_emails", nil
	case BlacklistIP:
		return "blacklisted_ips", nil
	case BlacklistCreditCard:
		return "blacklisted_credit_cards", nil
	case BlacklistPhone:
		return "blacklisted_phones", nil
	}
	return "", fmt.Errorf("refdata: unknown blacklist kind %q", kind)
}
