package scoring

import (
	"math"

	"github.com/ignite/fraudguard/internal/checks"
)

// checkWeights fixes each signal's share of the combined score. IP and
// email carry the most evidence; the user agent the least.
var checkWeights = map[string]float64{
	checks.NameEmail:      0.25,
	checks.NameDomain:     0.15,
	checks.NameIP:         0.25,
	checks.NameCreditCard: 0.20,
	checks.NamePhone:      0.10,
	checks.NameUserAgent:  0.05,
}

// Scorer combines per-check results into one risk score. It is stateless;
// a single instance serves all evaluations.
type Scorer struct{}

func NewScorer() *Scorer { return &Scorer{} }

// Score computes the weighted mean over the executed checks and applies
// the multiplicative modifiers in their fixed order, then the critical
// floor, then clamps and rounds. An empty result set scores zero.
func (s *Scorer) Score(results map[string]checks.Result) int {
	if len(results) == 0 {
		return 0
	}

	var weighted, totalWeight float64
	for name, res := range results {
		w, ok := checkWeights[name]
		if !ok {
			continue
		}
		weighted += float64(res.Score) * w
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0
	}
	value := weighted / totalWeight

	value *= highScoreMultiplier(results)
	value *= patternMultiplier(results)
	value *= velocityMultiplier(results)

	if hasCriticalFailure(results) && value < 90 {
		value = 90
	}

	final := int(math.Round(value))
	if final > 100 {
		final = 100
	}
	if final < 0 {
		final = 0
	}
	return final
}

// highScoreMultiplier amplifies evaluations where several independent
// signals are individually alarming.
func highScoreMultiplier(results map[string]checks.Result) float64 {
	high := 0
	for _, res := range results {
		if res.Score >= 80 {
			high++
		}
	}
	switch {
	case high >= 3:
		return 1.30
	case high >= 2:
		return 1.15
	default:
		return 1.0
	}
}

// patternMultiplier detects known fraud-kit combinations across checks.
// The bumps stack: a session matching two patterns gets both.
func patternMultiplier(results map[string]checks.Result) float64 {
	m := 1.0

	if detail(results, checks.NameEmail, "disposable_domain") &&
		(detail(results, checks.NameIP, "tor_exit_node") || detail(results, checks.NameIP, "vpn_or_proxy")) {
		m *= 1.40
	}

	if detail(results, checks.NameDomain, "new_domain") {
		if ip, ok := results[checks.NameIP]; ok && ip.Score >= 80 {
			m *= 1.25
		}
	}

	if detail(results, checks.NameCreditCard, "test_card") {
		ua := results[checks.NameUserAgent].Details
		if _, bot := ua["bot_pattern"]; bot {
			m *= 1.50
		} else if _, auto := ua["automation_pattern"]; auto {
			m *= 1.50
		}
	}

	mismatches := 0
	if detail(results, checks.NameIP, "country_mismatch") {
		mismatches++
	}
	if detail(results, checks.NamePhone, "country_mismatch") {
		mismatches++
	}
	if detail(results, checks.NameIP, "timezone_mismatch") {
		mismatches++
	}
	if mismatches >= 2 {
		m *= 1.30
	}

	return m
}

// velocityMultiplier fires when bursty use shows up on at least two
// independent signals at once.
func velocityMultiplier(results map[string]checks.Result) float64 {
	concerned := 0
	for _, res := range results {
		if signal, ok := res.Details["velocity"].(checks.VelocitySignal); ok && signal.RiskScore > 20 {
			concerned++
		}
	}
	if concerned >= 2 {
		return 1.20
	}
	return 1.0
}

// hasCriticalFailure reports conditions that must never average away:
// a blocklist hit, a maximally bad card, or a known malicious agent.
func hasCriticalFailure(results map[string]checks.Result) bool {
	for _, res := range results {
		if blacklisted, ok := res.Details["blacklisted"].(bool); ok && blacklisted {
			return true
		}
	}
	if cc, ok := results[checks.NameCreditCard]; ok && cc.Score == 100 {
		return true
	}
	return detail(results, checks.NameUserAgent, "known_malicious")
}

func detail(results map[string]checks.Result, check, key string) bool {
	res, ok := results[check]
	if !ok {
		return false
	}
	v, ok := res.Details[key].(bool)
	return ok && v
}
