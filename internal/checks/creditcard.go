package checks

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/ignite/fraudguard/internal/refdata"
	"github.com/ignite/fraudguard/internal/velocity"
)

// cardBrands maps brand names to their IIN patterns, checked in order.
var cardBrands = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"visa", regexp.MustCompile(`^4[0-9]{12}(?:[0-9]{3}){0,2}$`)},
	{"mastercard", regexp.MustCompile(`^(5[1-5][0-9]{14}|2(2[2-9][0-9]{13}|[3-6][0-9]{14}|7[0-1][0-9]{13}|720[0-9]{12}))$`)},
	{"amex", regexp.MustCompile(`^3[47][0-9]{13}$`)},
	{"discover", regexp.MustCompile(`^6(?:011|5[0-9]{2})[0-9]{12}$`)},
	{"jcb", regexp.MustCompile(`^(?:2131|1800|35\d{3})\d{11}$`)},
	{"diners", regexp.MustCompile(`^3(?:0[0-5]|[68][0-9])[0-9]{11}$`)},
	{"maestro", regexp.MustCompile(`^(5018|5020|5038|6304|6759|676[1-3])[0-9]{8,15}$`)},
}

// testCardNumbers are the well-known integration-test PANs that payment
// processors publish. A live transaction carrying one is fraud tooling.
var testCardNumbers = map[string]bool{
	"4111111111111111": true,
	"4012888888881881": true,
	"4242424242424242": true,
	"4000000000000002": true,
	"5555555555554444": true,
	"5105105105105100": true,
	"378282246310005":  true,
	"371449635398431":  true,
	"6011111111111117": true,
	"6011000990139424": true,
	"30569309025904":   true,
	"38520000023237":   true,
	"3530111333300000": true,
	"3566002020360505": true,
}

// prepaidBINPrefixes and virtualBINPrefixes classify the first six digits.
// Curated from processor BIN tables; prepaid and virtual cards are the
// preferred instruments for card-testing fraud.
var prepaidBINPrefixes = []string{
	"400022", "404038", "406742", "411810", "420767", "428220",
	"438857", "440393", "472776", "511332", "514616", "517805",
	"524364", "528197", "530691", "531262", "537811", "589297",
}

var virtualBINPrefixes = []string{
	"404907", "414720", "428485", "441112", "453926", "485953",
	"516730", "521729", "531993", "543603", "555426",
}

var nonDigitRe = regexp.MustCompile(`[^0-9]`)

// CreditCardCheck scores the card signal: structure, Luhn, brand,
// blocklists, test cards, BIN class and velocity.
type CreditCardCheck struct {
	store   ReferenceStore
	hasher  Hasher
	counter VelocityCounter
}

// NewCreditCardCheck creates the credit card check. counter may be nil.
func NewCreditCardCheck(store ReferenceStore, hasher Hasher, counter VelocityCounter) *CreditCardCheck {
	return &CreditCardCheck{store: store, hasher: hasher, counter: counter}
}

func (c *CreditCardCheck) Name() string { return NameCreditCard }

func (c *CreditCardCheck) Applicable(in *Input) bool {
	return strings.TrimSpace(in.CreditCard) != ""
}

func (c *CreditCardCheck) Perform(ctx context.Context, in *Input) (Result, error) {
	pan := nonDigitRe.ReplaceAllString(in.CreditCard, "")
	details := map[string]any{}

	if len(pan) < 13 || len(pan) > 19 {
		details["invalid_length"] = len(pan)
		return finalize(100, true, details), nil
	}
	if !luhnValid(pan) {
		details["luhn_failed"] = true
		return finalize(100, true, details), nil
	}

	score := 0
	hardFail := false

	brand := cardBrand(pan)
	details["brand"] = brand
	if brand == "unknown" {
		score += 30
	}

	entry, err := c.store.LookupBlacklist(ctx, refdata.BlacklistCreditCard, c.hasher.Hash(pan))
	if err != nil {
		return Result{}, fmt.Errorf("card blacklist: %w", err)
	}
	if entry != nil {
		score += 100
		hardFail = true
		details["blacklisted"] = true
		details["blacklist_reason"] = entry.Reason
	}

	if testCardNumbers[pan] {
		score += 80
		hardFail = true
		details["test_card"] = true
	}

	if len(pan) >= 6 {
		bin := pan[:6]
		details["bin"] = bin
		if hasPrefix(bin, prepaidBINPrefixes) {
			score += 30
			details["prepaid_bin"] = true
		}
		if hasPrefix(bin, virtualBINPrefixes) {
			score += 20
			details["virtual_bin"] = true
		}
	}

	if c.counter != nil {
		hash := c.hasher.Hash(pan)
		signal := VelocitySignal{Window: string(velocity.WindowHour)}
		if hourCount, err := c.counter.Bump(ctx, "card", hash, velocity.WindowHour); err == nil {
			signal.Count = hourCount
			switch {
			case hourCount > 10:
				signal.RiskScore = 30
			case hourCount > 3:
				signal.RiskScore = 20
			}
		} else {
			log.Printf("[CreditCardCheck] velocity bump failed: %v", err)
		}
		if dayCount, err := c.counter.Bump(ctx, "card", hash, velocity.WindowDay); err == nil && dayCount > 20 {
			signal.RiskScore += 25
		}
		score += signal.RiskScore
		details["velocity"] = signal
	}

	return finalize(score, hardFail, details), nil
}

// luhnValid runs the standard mod-10 checksum.
func luhnValid(pan string) bool {
	sum := 0
	double := false
	for i := len(pan) - 1; i >= 0; i-- {
		d := int(pan[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func cardBrand(pan string) string {
	for _, b := range cardBrands {
		if b.pattern.MatchString(pan) {
			return b.name
		}
	}
	return "unknown"
}

func hasPrefix(bin string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(bin, p) || strings.HasPrefix(p, bin) {
			return true
		}
	}
	return false
}
