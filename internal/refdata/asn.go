package refdata

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/netip"

	"github.com/ignite/fraudguard/internal/iputil"
)

// LookupASN returns the ASN row for the given number, or nil.
func (s *Store) LookupASN(ctx context.Context, number int64) (*ASN, error) {
	cacheKey := fmt.Sprintf("refdata:asn:%d", number)

	var cached ASN
	if found, negative := s.cache.get(ctx, cacheKey, &cached); found {
		return &cached, nil
	} else if negative {
		return nil, nil
	}

	var a ASN
	var ranges []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT asn, organization, country_code, type, is_hosting, is_vpn, is_proxy, COALESCE(ip_ranges, '[]'), risk_weight, is_active
		FROM asns
		WHERE asn = $1
	`, number).Scan(&a.Number, &a.Organization, &a.CountryCode, &a.Type, &a.IsHosting, &a.IsVPN, &a.IsProxy, &ranges, &a.RiskWeight, &a.IsActive)
	if err == sql.ErrNoRows {
		s.cache.setNegative(ctx, cacheKey, s.ttls.ASN)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup asn %d: %w", number, err)
	}
	if err := json.Unmarshal(ranges, &a.IPRanges); err != nil {
		return nil, fmt.Errorf("decode asn %d ip_ranges: %w", number, err)
	}

	s.cache.set(ctx, cacheKey, &a, s.ttls.ASN)
	return &a, nil
}

// LookupASNByIP finds the ASN whose stored ip_ranges contain addr. This is
// the pre-filter before any collaborator API call; only rows that carry
// ranges are candidates. Returns nil when no stored range matches. The
// per-IP resolution is cached: the range scan is the one lookup here that
// walks the whole table.
func (s *Store) LookupASNByIP(ctx context.Context, addr netip.Addr) (*ASN, error) {
	cacheKey := "refdata:asn:ip:" + addr.String()

	var cached ASN
	if found, negative := s.cache.get(ctx, cacheKey, &cached); found {
		return &cached, nil
	} else if negative {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT asn, organization, country_code, type, is_hosting, is_vpn, is_proxy, ip_ranges, risk_weight, is_active
		FROM asns
		WHERE is_active = true AND ip_ranges IS NOT NULL AND ip_ranges != '[]'
	`)
	if err != nil {
		return nil, fmt.Errorf("scan asn ranges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a ASN
		var ranges []byte
		if err := rows.Scan(&a.Number, &a.Organization, &a.CountryCode, &a.Type, &a.IsHosting, &a.IsVPN, &a.IsProxy, &ranges, &a.RiskWeight, &a.IsActive); err != nil {
			return nil, fmt.Errorf("scan asn row: %w", err)
		}
		if err := json.Unmarshal(ranges, &a.IPRanges); err != nil {
			continue // one malformed row must not poison the lookup
		}
		if iputil.InAnyRange(addr, a.IPRanges) {
			s.cache.set(ctx, cacheKey, &a, s.ttls.ASN)
			return &a, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.cache.setNegative(ctx, cacheKey, s.ttls.ASN)
	return nil, nil
}

// UpsertASNs merges a batch on the ASN number.
func (s *Store) UpsertASNs(ctx context.Context, tx *sql.Tx, asns []ASN) error {
	if len(asns) == 0 {
		return ErrEmptyBatch
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO asns (asn, organization, country_code, type, is_hosting, is_vpn, is_proxy, ip_ranges, risk_weight, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, true, NOW())
		ON CONFLICT (asn) DO UPDATE SET
			organization = EXCLUDED.organization,
			country_code = EXCLUDED.country_code,
			type = EXCLUDED.type,
			is_hosting = EXCLUDED.is_hosting,
			is_vpn = EXCLUDED.is_vpn,
			is_proxy = EXCLUDED.is_proxy,
			ip_ranges = CASE WHEN EXCLUDED.ip_ranges != '[]' THEN EXCLUDED.ip_ranges ELSE asns.ip_ranges END,
			risk_weight = EXCLUDED.risk_weight,
			is_active = true,
			updated_at = NOW()
	`)
	if err != nil {
		return fmt.Errorf("prepare asn upsert: %w", err)
	}
	defer stmt.Close()

	for _, a := range asns {
		if a.Type == "" {
			a.Type = ASNUnknown
		}
		ranges, err := json.Marshal(a.IPRanges)
		if err != nil {
			return fmt.Errorf("encode asn %d ip_ranges: %w", a.Number, err)
		}
		if a.IPRanges == nil {
			ranges = []byte("[]")
		}
		if _, err := stmt.ExecContext(ctx, a.Number, a.Organization, a.CountryCode, a.Type,
			a.IsHosting, a.IsVPN, a.IsProxy, ranges, clampWeight(a.RiskWeight)); err != nil {
			return fmt.Errorf("upsert asn %d: %w", a.Number, err)
		}
	}
	return nil
}
