package checks

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/ignite/fraudguard/internal/refdata"
	"github.com/ignite/fraudguard/internal/velocity"
)

// Pattern sets matched as literal substrings, case-insensitive. Each set
// carries one score: the strongest tool class present wins nothing extra,
// every matching set contributes once.
var (
	botPatterns = []string{
		"bot", "crawler", "spider", "scraper", "slurp", "archiver",
		"fetcher", "monitor", "checker",
	}
	automationPatterns = []string{
		"headless", "phantomjs", "selenium", "webdriver", "puppeteer",
		"playwright", "cypress", "chromedriver",
	}
	maliciousPatterns = []string{
		"sqlmap", "nikto", "nmap", "masscan", "metasploit", "hydra",
		"dirbuster", "gobuster", "wfuzz", "acunetix",
	}
	progLangPatterns = []string{
		"python-requests", "python-urllib", "go-http-client", "java/",
		"okhttp", "curl/", "wget/", "libwww-perl", "ruby", "axios",
		"node-fetch", "aiohttp",
	}
	suspiciousKeywords = []string{"hack", "exploit", "inject", "bypass", "penetration"}
)

var (
	browserVersionRes = map[string]*regexp.Regexp{
		"msie":    regexp.MustCompile(`(?i)msie\s*(\d+)`),
		"edge":    regexp.MustCompile(`(?i)edge?/(\d+)`),
		"chrome":  regexp.MustCompile(`(?i)chrome/(\d+)`),
		"firefox": regexp.MustCompile(`(?i)firefox/(\d+)`),
		"safari":  regexp.MustCompile(`(?i)version/(\d+).*safari`),
	}
	uaCharsetRe = regexp.MustCompile(`[^a-zA-Z0-9\s()\[\]/.,;:_\-+]`)
)

// outdatedBrowserScores bumps versions old enough that no human runs
// them; a spoofed ancient UA is a fingerprint-evasion tell.
var outdatedBrowserScores = map[string]map[int]int{
	"msie":    {6: 90, 7: 80, 8: 70, 9: 60, 10: 50},
	"chrome":  {49: 40},
	"firefox": {52: 40},
}

// UserAgentCheck scores the user agent signal: known-UA table, tool
// pattern sets, browser age and structural anomalies.
type UserAgentCheck struct {
	store   ReferenceStore
	counter VelocityCounter
}

// NewUserAgentCheck creates the user agent check. counter may be nil.
func NewUserAgentCheck(store ReferenceStore, counter VelocityCounter) *UserAgentCheck {
	return &UserAgentCheck{store: store, counter: counter}
}

func (c *UserAgentCheck) Name() string { return NameUserAgent }

func (c *UserAgentCheck) Applicable(in *Input) bool {
	return strings.TrimSpace(in.UserAgent) != ""
}

func (c *UserAgentCheck) Perform(ctx context.Context, in *Input) (Result, error) {
	ua := strings.TrimSpace(in.UserAgent)
	details := map[string]any{}

	// Too short to classify; suspicious but not damning.
	if len(ua) < 10 {
		details["too_short"] = true
		return Result{Passed: false, Score: 50, Details: details}, nil
	}

	score := 0
	hardFail := false
	lower := strings.ToLower(ua)

	known, err := c.store.LookupKnownUserAgent(ctx, refdata.UserAgentHash(ua))
	if err != nil {
		return Result{}, fmt.Errorf("user agent lookup: %w", err)
	}
	if known != nil {
		score += known.RiskWeight
		details["known_agent_type"] = string(known.Type)
		if known.Type == refdata.UAMalicious {
			hardFail = true
			details["known_malicious"] = true
		}
	}

	if p := matchAny(lower, botPatterns); p != "" {
		score += 40
		details["bot_pattern"] = p
	}
	if p := matchAny(lower, automationPatterns); p != "" {
		score += 50
		details["automation_pattern"] = p
	}
	if p := matchAny(lower, maliciousPatterns); p != "" {
		score += 80
		hardFail = true
		details["malicious_pattern"] = p
	}
	if p := matchAny(lower, progLangPatterns); p != "" {
		score += 30
		details["programming_language"] = p
	}

	score += scoreBrowserVersion(ua, details)
	score += scoreUASuspicious(ua, lower, details)

	if c.counter != nil {
		if count, err := c.counter.Bump(ctx, "ua", refdata.UserAgentHash(ua), velocity.WindowDay); err == nil {
			signal := VelocitySignal{Count: count, Window: string(velocity.WindowDay)}
			switch {
			case count > 1000:
				signal.RiskScore = 20
			case count > 100:
				signal.RiskScore = 10
			}
			score += signal.RiskScore
			details["velocity"] = signal
		} else {
			log.Printf("[UserAgentCheck] velocity bump failed: %v", err)
		}
	}

	return finalize(score, hardFail, details), nil
}

func matchAny(lower string, patterns []string) string {
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return p
		}
	}
	return ""
}

// scoreBrowserVersion extracts the major version of the first recognized
// browser token and bumps versions past end-of-life. MSIE is checked
// before Chrome because IE UAs often embed compatibility tokens.
func scoreBrowserVersion(ua string, details map[string]any) int {
	for _, browser := range []string{"msie", "edge", "firefox", "safari", "chrome"} {
		m := browserVersionRes[browser].FindStringSubmatch(ua)
		if m == nil {
			continue
		}
		major, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		details["browser"] = browser
		details["browser_version"] = major
		if bumps, ok := outdatedBrowserScores[browser]; ok {
			if bump, ok := bumps[major]; ok {
				details["outdated_browser"] = true
				return bump
			}
			// Anything at or below the oldest tabled version is equally dead.
			if browser == "msie" && major < 6 {
				details["outdated_browser"] = true
				return 90
			}
		}
		return 0
	}
	return 0
}

func scoreUASuspicious(ua, lower string, details map[string]any) int {
	score := 0
	if len(ua) < 20 {
		score += 30
		details["very_short"] = true
	}
	if len(ua) > 500 {
		score += 20
		details["very_long"] = true
	}
	if !strings.Contains(lower, "mozilla") && !strings.Contains(lower, "webkit") &&
		!strings.Contains(lower, "gecko") {
		score += 25
		details["missing_engine_tokens"] = true
	}
	if kw := matchAny(lower, suspiciousKeywords); kw != "" {
		score += 60
		details["suspicious_keyword"] = kw
	}
	if repeatedRun(ua, 11) {
		score += 40
		details["repeated_characters"] = true
	}
	if uaCharsetRe.MatchString(ua) {
		score += 50
		details["unusual_characters"] = true
	}
	return score
}
