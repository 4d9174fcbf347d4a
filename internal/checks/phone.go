package checks

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"

	"github.com/ignite/fraudguard/internal/refdata"
	"github.com/ignite/fraudguard/internal/velocity"
)

var (
	phoneAllowedRe = regexp.MustCompile(`[^0-9+\-\s().]`)
	sequentialRuns = []string{"0123", "1234", "2345", "3456", "4567", "5678", "6789", "7890"}
)

// repeatedRun reports whether s contains n or more consecutive identical
// runes. RE2 has no backreferences, so this is a plain scan.
func repeatedRun(s string, n int) bool {
	run := 0
	prev := rune(-1)
	for _, r := range s {
		if r == prev {
			run++
		} else {
			prev = r
			run = 1
		}
		if run >= n {
			return true
		}
	}
	return false
}

// numberTypeScores weights phone line types by how often fraud rings use
// them. Virtual lines score high, personal mobiles score zero.
var numberTypeScores = map[phonenumbers.PhoneNumberType]int{
	phonenumbers.VOIP:           40,
	phonenumbers.TOLL_FREE:      50,
	phonenumbers.PREMIUM_RATE:   60,
	phonenumbers.SHARED_COST:    30,
	phonenumbers.FIXED_LINE:     10,
	phonenumbers.UNKNOWN:        20,
	phonenumbers.MOBILE:         0,
	phonenumbers.FIXED_LINE_OR_MOBILE: 0,
}

// PhoneCheck scores the phone signal: E.164 validity, blocklists, line
// type, country consistency, format anomalies and velocity.
type PhoneCheck struct {
	store              ReferenceStore
	hasher             Hasher
	counter            VelocityCounter
	disposablePrefixes []string
}

// NewPhoneCheck creates the phone check. counter may be nil;
// disposablePrefixes come from configuration and may be empty.
func NewPhoneCheck(store ReferenceStore, hasher Hasher, counter VelocityCounter, disposablePrefixes []string) *PhoneCheck {
	return &PhoneCheck{
		store:              store,
		hasher:             hasher,
		counter:            counter,
		disposablePrefixes: disposablePrefixes,
	}
}

func (c *PhoneCheck) Name() string { return NamePhone }

func (c *PhoneCheck) Applicable(in *Input) bool {
	return strings.TrimSpace(in.Phone) != ""
}

func (c *PhoneCheck) Perform(ctx context.Context, in *Input) (Result, error) {
	raw := strings.TrimSpace(in.Phone)
	details := map[string]any{}
	score := 0
	hardFail := false

	region := strings.ToUpper(strings.TrimSpace(in.Country))
	num, err := phonenumbers.Parse(raw, region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		details["invalid_number"] = true
		return finalize(100, true, details), nil
	}

	e164 := phonenumbers.Format(num, phonenumbers.E164)
	details["e164"] = e164

	entry, lookupErr := c.store.LookupBlacklist(ctx, refdata.BlacklistPhone, c.hasher.Hash(e164))
	if lookupErr != nil {
		return Result{}, fmt.Errorf("phone blacklist: %w", lookupErr)
	}
	if entry != nil {
		score += 100
		hardFail = true
		details["blacklisted"] = true
		details["blacklist_reason"] = entry.Reason
	}

	numberType := phonenumbers.GetNumberType(num)
	details["number_type"] = phoneTypeName(numberType)
	if s, ok := numberTypeScores[numberType]; ok {
		score += s
	} else {
		score += 20
	}

	if region != "" {
		numberRegion := phonenumbers.GetRegionCodeForNumber(num)
		if numberRegion != "" && numberRegion != region {
			score += 30
			details["country_mismatch"] = true
			details["number_region"] = numberRegion
		}
	}

	if hasFormatAnomalies(raw) {
		score += 15
		details["format_anomalies"] = true
	}

	national := phonenumbers.GetNationalSignificantNumber(num)
	for _, prefix := range c.disposablePrefixes {
		if strings.HasPrefix(national, prefix) || strings.HasPrefix(e164, prefix) {
			score += 50
			details["disposable_prefix"] = prefix
			break
		}
	}

	if c.counter != nil {
		hash := c.hasher.Hash(e164)
		signal := VelocitySignal{Window: string(velocity.WindowHour)}
		if hourCount, err := c.counter.Bump(ctx, "phone", hash, velocity.WindowHour); err == nil {
			signal.Count = hourCount
			switch {
			case hourCount > 5:
				signal.RiskScore = 25
			case hourCount > 2:
				signal.RiskScore = 15
			}
		} else {
			log.Printf("[PhoneCheck] velocity bump failed: %v", err)
		}
		if dayCount, err := c.counter.Bump(ctx, "phone", hash, velocity.WindowDay); err == nil && dayCount > 10 {
			signal.RiskScore += 20
		}
		score += signal.RiskScore
		details["velocity"] = signal
	}

	return finalize(score, hardFail, details), nil
}

// hasFormatAnomalies flags inputs whose raw shape suggests keyboard
// mashing or generated numbers, independent of E.164 validity.
func hasFormatAnomalies(raw string) bool {
	if len(phoneAllowedRe.FindAllString(raw, -1)) > 2 {
		return true
	}
	digits := nonDigitRe.ReplaceAllString(raw, "")
	if repeatedRun(digits, 7) {
		return true
	}
	for _, seq := range sequentialRuns {
		if strings.Contains(digits, seq) {
			return true
		}
	}
	return false
}

func phoneTypeName(t phonenumbers.PhoneNumberType) string {
	switch t {
	case phonenumbers.MOBILE:
		return "mobile"
	case phonenumbers.FIXED_LINE:
		return "fixed_line"
	case phonenumbers.FIXED_LINE_OR_MOBILE:
		return "fixed_line_or_mobile"
	case phonenumbers.VOIP:
		return "voip"
	case phonenumbers.TOLL_FREE:
		return "toll_free"
	case phonenumbers.PREMIUM_RATE:
		return "premium_rate"
	case phonenumbers.SHARED_COST:
		return "shared_cost"
	default:
		return "unknown"
	}
}
