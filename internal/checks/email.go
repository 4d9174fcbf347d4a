package checks

import (
	"context"
	"fmt"
	"log"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/ignite/fraudguard/internal/refdata"
)

// roleLocalParts are local-parts that identify a mailbox role rather than a
// person. Role addresses correlate with list abuse and merchant fraud.
var roleLocalParts = []string{
	"admin", "support", "info", "contact", "sales", "help", "webmaster",
	"postmaster", "noreply", "no-reply", "donotreply", "abuse", "spam",
	"security", "billing", "legal", "privacy",
}

var (
	consecutiveSeparators = regexp.MustCompile(`[._-]{2,}`)
	allDigitsRe           = regexp.MustCompile(`^[0-9]+$`)
	alnumRandomRe         = regexp.MustCompile(`^[a-z0-9]{16,}$`)
	hexRandomRe           = regexp.MustCompile(`^[a-f0-9]{16,}$`)
)

// EmailCheck scores the email signal: syntax, blacklist, disposable
// domain, local-part composition, deliverability and history.
type EmailCheck struct {
	store      ReferenceStore
	hasher     Hasher
	reputation ReputationSource
	resolver   Resolver
	dnsTimeout time.Duration
}

// NewEmailCheck creates the email check. reputation may be nil.
func NewEmailCheck(store ReferenceStore, hasher Hasher, reputation ReputationSource, resolver Resolver) *EmailCheck {
	return &EmailCheck{
		store:      store,
		hasher:     hasher,
		reputation: reputation,
		resolver:   resolver,
		dnsTimeout: 5 * time.Second,
	}
}

func (c *EmailCheck) Name() string { return NameEmail }

func (c *EmailCheck) Applicable(in *Input) bool {
	return strings.TrimSpace(in.Email) != ""
}

func (c *EmailCheck) Perform(ctx context.Context, in *Input) (Result, error) {
	raw := strings.TrimSpace(in.Email)
	// Lowercased form for hashing and table lookups only. Composition
	// analysis needs the original casing: lowercasing first would erase
	// the mixed-case signal that marks generated local-parts.
	email := strings.ToLower(raw)
	details := map[string]any{}
	score := 0
	hardFail := false

	// Syntax gate: everything else assumes a well-formed address.
	if !validEmailSyntax(email) {
		details["invalid_syntax"] = true
		return finalize(100, true, details), nil
	}

	local, domain, _ := strings.Cut(email, "@")
	rawLocal, _, _ := strings.Cut(raw, "@")

	entry, err := c.store.LookupBlacklist(ctx, refdata.BlacklistEmail, c.hasher.Hash(email))
	if err != nil {
		return Result{}, fmt.Errorf("email blacklist: %w", err)
	}
	if entry != nil {
		score += 100
		hardFail = true
		details["blacklisted"] = true
		details["blacklist_reason"] = entry.Reason
	}

	disposable, err := c.store.LookupDisposableDomain(ctx, domain)
	if err != nil {
		return Result{}, fmt.Errorf("disposable domain: %w", err)
	}
	if disposable != nil {
		score += 80
		hardFail = true
		details["disposable_domain"] = true
		details["disposable_source"] = disposable.Source
	}

	if role := matchRoleAddress(local); role != "" {
		score += 30
		details["role_address"] = role
	}

	score += scoreSeparators(local, details)
	if strings.Contains(local, "+") {
		score += 20
		details["plus_tag"] = true
	}
	score += scoreComposition(rawLocal, details)

	// DNS is the slowest sub-rule; skip it once the score is already
	// saturated.
	if score < 100 {
		if resolvable := c.domainResolves(ctx, domain); !resolvable {
			score += 50
			hardFail = true
			details["dns_unresolvable"] = true
		}
	}

	if c.reputation != nil {
		since := time.Now().AddDate(0, -6, 0)
		if summary, err := c.reputation.HistoryByHash(ctx, c.hasher.Hash(email), since); err == nil && summary.Evaluations > 0 {
			if summary.AvgScore > 70 {
				score += 20
				details["poor_reputation"] = true
			}
			if summary.BlockCount > 2 {
				score += 30
				details["prior_blocks"] = summary.BlockCount
			}
		} else if err != nil {
			log.Printf("[EmailCheck] reputation lookup failed: %v", err)
		}
	}

	return finalize(score, hardFail, details), nil
}

// validEmailSyntax applies RFC 5322 parsing plus the practical constraints
// net/mail is too permissive about (a dotted domain, no display name).
func validEmailSyntax(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	_, domain, ok := strings.Cut(email, "@")
	if !ok || !strings.Contains(domain, ".") {
		return false
	}
	return true
}

func matchRoleAddress(local string) string {
	for _, role := range roleLocalParts {
		if local == role || strings.HasPrefix(local, role+".") ||
			strings.HasPrefix(local, role+"-") || strings.HasPrefix(local, role+"_") ||
			strings.HasPrefix(local, role+"+") {
			return role
		}
	}
	return ""
}

func scoreSeparators(local string, details map[string]any) int {
	separators := strings.Count(local, ".") + strings.Count(local, "-") + strings.Count(local, "_")
	score := 0
	switch {
	case separators > 5:
		score += 15
		details["excessive_separators"] = separators
	case separators > 3:
		score += 10
		details["excessive_separators"] = separators
	}
	if consecutiveSeparators.MatchString(local) {
		score += 20
		details["consecutive_separators"] = true
	}
	return score
}

func scoreComposition(local string, details map[string]any) int {
	score := 0
	if len(local) < 3 {
		score += 20
		details["short_local_part"] = true
	}
	if len(local) > 30 {
		score += 15
		details["long_local_part"] = true
	}
	if allDigitsRe.MatchString(local) {
		score += 30
		details["all_digit_local_part"] = true
	}
	if isRandomPattern(local) {
		score += 25
		details["random_pattern"] = true
	}
	return score
}

// isRandomPattern flags machine-generated local-parts: either high
// character entropy with mixed classes, or a long plain alnum/hex run.
func isRandomPattern(local string) bool {
	cleaned := strings.Map(func(r rune) rune {
		if r == '.' || r == '_' || r == '-' {
			return -1
		}
		return r
	}, local)

	if len(cleaned) >= 8 {
		unique := make(map[rune]struct{}, len(cleaned))
		var hasLower, hasUpper, hasDigit bool
		for _, r := range cleaned {
			unique[r] = struct{}{}
			switch {
			case r >= 'a' && r <= 'z':
				hasLower = true
			case r >= 'A' && r <= 'Z':
				hasUpper = true
			case r >= '0' && r <= '9':
				hasDigit = true
			}
		}
		ratio := float64(len(unique)) / float64(len(cleaned))
		if ratio > 0.8 && hasLower && hasUpper && hasDigit {
			return true
		}
	}

	folded := strings.ToLower(cleaned)
	return alnumRandomRe.MatchString(folded) || hexRandomRe.MatchString(folded)
}

// domainResolves reports whether the domain has MX or A records. DNS
// outages degrade to "resolvable" only when the context itself was
// cancelled; a clean NXDOMAIN counts against the address.
func (c *EmailCheck) domainResolves(ctx context.Context, domain string) bool {
	dnsCtx, cancel := context.WithTimeout(ctx, c.dnsTimeout)
	defer cancel()

	if mx, err := c.resolver.LookupMX(dnsCtx, domain); err == nil && len(mx) > 0 {
		return true
	}
	if ctx.Err() != nil {
		return true // cancelled, not unresolvable
	}
	hosts, err := c.resolver.LookupHost(dnsCtx, domain)
	return err == nil && len(hosts) > 0
}
