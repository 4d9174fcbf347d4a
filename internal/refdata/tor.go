package refdata

import (
	"context"
	"database/sql"
	"fmt"
)

// LookupTorExitNode returns the active Tor exit node row for ip, or nil.
// Lookups go through the cache first; Postgres errors bubble up because a
// silently degraded answer would materially change the score.
func (s *Store) LookupTorExitNode(ctx context.Context, ip string) (*TorExitNode, error) {
	cacheKey := "refdata:tor:" + ip

	var cached TorExitNode
	if found, negative := s.cache.get(ctx, cacheKey, &cached); found {
		return &cached, nil
	} else if negative {
		return nil, nil
	}

	var node TorExitNode
	err := s.db.QueryRowContext(ctx, `
		SELECT ip_address, ip_version, COALESCE(node_id, ''), COALESCE(nickname, ''), risk_weight, is_active, last_seen_at
		FROM tor_exit_nodes
		WHERE ip_address = $1 AND is_active = true
	`, ip).Scan(&node.IPAddress, &node.IPVersion, &node.NodeID, &node.Nickname, &node.RiskWeight, &node.IsActive, &node.LastSeenAt)
	if err == sql.ErrNoRows {
		s.cache.setNegative(ctx, cacheKey, s.ttls.TorNode)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup tor exit node: %w", err)
	}

	s.cache.set(ctx, cacheKey, &node, s.ttls.TorNode)
	return &node, nil
}

// UpsertTorExitNodes merges a batch on the natural key (ip_address) inside
// tx. Every upserted row becomes active with a fresh last_seen_at, so a
// full refresh run reactivates exactly the nodes the feeds still list.
func (s *Store) UpsertTorExitNodes(ctx context.Context, tx *sql.Tx, nodes []TorExitNode) error {
	if len(nodes) == 0 {
		return ErrEmptyBatch
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tor_exit_nodes (ip_address, ip_version, node_id, nickname, risk_weight, is_active, last_seen_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, true, NOW(), NOW())
		ON CONFLICT (ip_address) DO UPDATE SET
			ip_version = EXCLUDED.ip_version,
			node_id = COALESCE(EXCLUDED.node_id, tor_exit_nodes.node_id),
			nickname = COALESCE(EXCLUDED.nickname, tor_exit_nodes.nickname),
			risk_weight = EXCLUDED.risk_weight,
			is_active = true,
			last_seen_at = NOW(),
			updated_at = NOW()
	`)
	if err != nil {
		return fmt.Errorf("prepare tor upsert: %w", err)
	}
	defer stmt.Close()

	for _, n := range nodes {
		weight := n.RiskWeight
		if weight == 0 {
			weight = 90
		}
		if _, err := stmt.ExecContext(ctx, n.IPAddress, n.IPVersion, n.NodeID, n.Nickname, clampWeight(weight)); err != nil {
			return fmt.Errorf("upsert tor node %s: %w", n.IPAddress, err)
		}
	}
	return nil
}

// CountActiveTorExitNodes reports the size of the active set.
func (s *Store) CountActiveTorExitNodes(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tor_exit_nodes WHERE is_active = true`).Scan(&n)
	return n, err
}
