package checks

import (
	"context"
	"fmt"
	"log"
	"net/netip"
	"regexp"
	"strings"
	"time"

	"github.com/ignite/fraudguard/internal/iputil"
	"github.com/ignite/fraudguard/internal/refdata"
	"github.com/ignite/fraudguard/internal/velocity"
)

// proxyHeaders are request headers that reveal an intermediary between the
// client and the service. Presence alone is a weak signal; a disagreeing
// address inside one is a stronger signal.
var proxyHeaders = []string{
	"X-Forwarded-For", "X-Real-IP", "X-Originating-IP", "X-Forwarded",
	"X-Cluster-Client-IP", "Forwarded-For", "Forwarded", "Via",
	"True-Client-IP", "CF-Connecting-IP",
}

var headerIPRe = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b|\b[0-9a-fA-F:]{2,}:[0-9a-fA-F:]+\b`)

// IPCheck scores the IP signal: blocklists, reserved ranges, Tor, ASN
// classification, geolocation consistency, velocity and proxy headers.
type IPCheck struct {
	store   ReferenceStore
	hasher  Hasher
	counter VelocityCounter
	geo     GeoLocator
}

// NewIPCheck creates the IP check. counter and geo may be nil.
func NewIPCheck(store ReferenceStore, hasher Hasher, counter VelocityCounter, geo GeoLocator) *IPCheck {
	return &IPCheck{store: store, hasher: hasher, counter: counter, geo: geo}
}

func (c *IPCheck) Name() string { return NameIP }

func (c *IPCheck) Applicable(in *Input) bool {
	return strings.TrimSpace(in.IP) != ""
}

func (c *IPCheck) Perform(ctx context.Context, in *Input) (Result, error) {
	raw := strings.TrimSpace(in.IP)
	details := map[string]any{}
	score := 0
	hardFail := false

	addr, version, err := iputil.Parse(raw)
	if err != nil {
		details["invalid_ip"] = true
		return finalize(100, true, details), nil
	}
	details["ip_version"] = int(version)

	entry, lookupErr := c.store.LookupBlacklist(ctx, refdata.BlacklistIP, c.hasher.Hash(addr.String()))
	if lookupErr != nil {
		return Result{}, fmt.Errorf("ip blacklist: %w", lookupErr)
	}
	if entry != nil {
		score += 100
		hardFail = true
		details["blacklisted"] = true
		details["blacklist_reason"] = entry.Reason
	}

	// Reserved addresses can never reach us from the public internet, so
	// nothing further is worth measuring.
	if iputil.IsReserved(addr) {
		details["reserved_range"] = true
		return finalize(100, true, details), nil
	}

	node, lookupErr := c.store.LookupTorExitNode(ctx, addr.String())
	if lookupErr != nil {
		return Result{}, fmt.Errorf("tor lookup: %w", lookupErr)
	}
	if node != nil {
		score += node.RiskWeight
		details["tor_exit_node"] = true
	}

	asnScore, asnErr := c.scoreASN(ctx, addr, details)
	if asnErr != nil {
		return Result{}, asnErr
	}
	score += asnScore

	score += c.scoreGeoConsistency(ctx, addr, in, details)

	if c.counter != nil {
		if count, err := c.counter.Bump(ctx, "ip", c.hasher.Hash(addr.String()), velocity.WindowHour); err == nil {
			signal := VelocitySignal{Count: count, Window: string(velocity.WindowHour)}
			switch {
			case count > 100:
				signal.RiskScore = 30
			case count > 50:
				signal.RiskScore = 20
			case count > 10:
				signal.RiskScore = 10
			}
			score += signal.RiskScore
			details["velocity"] = signal
		} else {
			log.Printf("[IPCheck] velocity bump failed: %v", err)
		}
	}

	score += scoreProxyHeaders(in.Headers, addr, details)

	return finalize(score, hardFail, details), nil
}

// scoreASN classifies the IP's network owner. Stored ip_ranges are
// consulted first; the collaborator API only fills the gap and its failure
// degrades silently.
func (c *IPCheck) scoreASN(ctx context.Context, addr netip.Addr, details map[string]any) (int, error) {
	asn, err := c.store.LookupASNByIP(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("asn lookup: %w", err)
	}
	if asn == nil && c.geo != nil {
		if info, ok := c.geo.Locate(ctx, addr.String()); ok && info.ASN != 0 {
			// A collaborator hit without a stored row yields classification
			// flags only, no stored weight.
			details["asn"] = info.ASN
			details["asn_org"] = info.ASNOrg
			return 0, nil
		}
		return 0, nil
	}
	if asn == nil {
		return 0, nil
	}

	details["asn"] = asn.Number
	details["asn_org"] = asn.Organization
	details["asn_type"] = string(asn.Type)

	score := asn.RiskWeight
	if asn.Type == refdata.ASNDatacenter {
		score += 30
		details["datacenter"] = true
	}
	if asn.IsVPN || asn.IsProxy {
		score += 40
		details["vpn_or_proxy"] = true
	}
	return score, nil
}

// scoreGeoConsistency compares the IP's location against the declared
// country and timezone. Collaborator failure contributes nothing.
func (c *IPCheck) scoreGeoConsistency(ctx context.Context, addr netip.Addr, in *Input, details map[string]any) int {
	if c.geo == nil || (in.Country == "" && in.Timezone == "") {
		return 0
	}
	info, ok := c.geo.Locate(ctx, addr.String())
	if !ok {
		log.Printf("[IPCheck] geolocation unavailable for request")
		return 0
	}

	score := 0
	if in.Country != "" && info.CountryCode != "" &&
		!strings.EqualFold(in.Country, info.CountryCode) {
		score += 30
		details["country_mismatch"] = true
		details["geo_country"] = info.CountryCode
	}
	if in.Timezone != "" {
		if declared, err := time.LoadLocation(in.Timezone); err == nil {
			_, offsetSec := time.Now().In(declared).Zone()
			diff := offsetSec/3600 - info.TimezoneOffset
			if diff < 0 {
				diff = -diff
			}
			if diff > 3 {
				score += 20
				details["timezone_mismatch"] = true
				details["timezone_offset_diff"] = diff
			}
		}
	}
	return score
}

// scoreProxyHeaders inspects forwarding headers for evidence the reported
// IP is not the true client.
func scoreProxyHeaders(headers map[string][]string, addr netip.Addr, details map[string]any) int {
	if len(headers) == 0 {
		return 0
	}
	normalized := make(map[string][]string, len(headers))
	for k, v := range headers {
		normalized[strings.ToLower(k)] = v
	}

	var present []string
	mismatch := false
	for _, h := range proxyHeaders {
		values, ok := normalized[strings.ToLower(h)]
		if !ok {
			continue
		}
		present = append(present, h)
		for _, v := range values {
			for _, candidate := range headerIPRe.FindAllString(v, -1) {
				parsed, _, err := iputil.Parse(candidate)
				if err != nil {
					continue
				}
				if parsed != addr {
					mismatch = true
				}
			}
		}
	}

	if len(present) == 0 {
		return 0
	}
	details["proxy_headers"] = present
	score := 10
	if mismatch {
		score += 20
		details["proxy_ip_mismatch"] = true
	}
	return score
}
