package checks

import (
	"context"
	"log"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

var (
	hostLabelRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
	tldRe       = regexp.MustCompile(`^(?:[a-z]{2,}|xn--[a-z0-9-]+)$`)
)

// DomainCheck scores the domain signal: hostname validity, mail
// infrastructure, registration age, parking and history.
type DomainCheck struct {
	reputation ReputationSource
	resolver   Resolver
	intel      DomainIntel
	dnsTimeout time.Duration
}

// NewDomainCheck creates the domain check. reputation and intel may be nil.
func NewDomainCheck(reputation ReputationSource, resolver Resolver, intel DomainIntel) *DomainCheck {
	return &DomainCheck{
		reputation: reputation,
		resolver:   resolver,
		intel:      intel,
		dnsTimeout: 5 * time.Second,
	}
}

func (c *DomainCheck) Name() string { return NameDomain }

func (c *DomainCheck) Applicable(in *Input) bool {
	return in.EmailDomain() != ""
}

func (c *DomainCheck) Perform(ctx context.Context, in *Input) (Result, error) {
	domain := in.EmailDomain()
	details := map[string]any{"domain": domain}
	score := 0
	hardFail := false

	if !ValidHostname(domain) {
		details["invalid_hostname"] = true
		return finalize(100, true, details), nil
	}

	dnsCtx, cancel := context.WithTimeout(ctx, c.dnsTimeout)
	defer cancel()

	mx, err := c.resolver.LookupMX(dnsCtx, domain)
	if err != nil || len(mx) == 0 {
		score += 50
		hardFail = true
		details["no_mx_records"] = true
	} else {
		details["mx_count"] = len(mx)
	}

	// Registration age and parking belong to the registrable domain, not
	// the subdomain the caller happened to send.
	registrable := domain
	if etld, err := publicsuffix.EffectiveTLDPlusOne(domain); err == nil && etld != domain {
		registrable = etld
		details["registrable_domain"] = etld
	}

	if c.intel != nil {
		if days, ok := c.intel.AgeDays(ctx, registrable); ok {
			details["domain_age_days"] = days
			switch {
			case days < 30:
				score += 40
				details["new_domain"] = true
			case days < 180:
				score += 20
				details["young_domain"] = true
			}
		}
		if c.intel.IsParked(ctx, registrable) {
			score += 60
			hardFail = true
			details["parked_domain"] = true
		}
	}

	if hosts, err := c.resolver.LookupHost(dnsCtx, domain); err != nil || len(hosts) == 0 {
		score += 20
		details["no_address_records"] = true
	}
	if !c.hasSPF(dnsCtx, domain) {
		score += 10
		details["no_spf"] = true
	}

	if c.reputation != nil {
		since := time.Now().AddDate(0, -6, 0)
		if summary, err := c.reputation.DomainHistory(ctx, domain, since); err == nil && summary.Evaluations > 0 {
			if summary.AvgScore > 70 {
				score += 30
				details["poor_reputation"] = true
			}
			if summary.BlockCount > 5 {
				score += 40
				details["prior_blocks"] = summary.BlockCount
			}
		} else if err != nil {
			log.Printf("[DomainCheck] reputation lookup failed: %v", err)
		}
	}

	return finalize(score, hardFail, details), nil
}

// ValidHostname applies the RFC 1035 shape: total length, per-label
// charset, and an alphabetic TLD of at least two characters.
// Internationalized names are checked in their punycode form.
func ValidHostname(domain string) bool {
	if domain == "" || len(domain) > 253 {
		return false
	}
	if ascii, err := idna.Lookup.ToASCII(domain); err == nil {
		domain = ascii
	}
	labels := strings.Split(strings.ToLower(domain), ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if !hostLabelRe.MatchString(label) {
			return false
		}
	}
	return tldRe.MatchString(labels[len(labels)-1])
}

func (c *DomainCheck) hasSPF(ctx context.Context, domain string) bool {
	records, err := c.resolver.LookupTXT(ctx, domain)
	if err != nil {
		return true // resolver failure is not evidence of missing SPF
	}
	for _, txt := range records {
		if strings.HasPrefix(strings.ToLower(txt), "v=spf1") {
			return true
		}
	}
	return false
}
