package checks

import (
	"context"
	"fmt"
	"strings"
)

// Check names. The scorer keys its aggregation on these, so they are part
// of the wire format of the evaluate response.
const (
	NameEmail      = "email"
	NameDomain     = "domain"
	NameIP         = "ip"
	NameCreditCard = "credit_card"
	NamePhone      = "phone"
	NameUserAgent  = "user_agent"
)

// Input is the identity bundle under evaluation. Every field is optional;
// Validate enforces the one-identity-field minimum.
type Input struct {
	Email      string              `json:"email,omitempty"`
	IP         string              `json:"ip,omitempty"`
	CreditCard string              `json:"credit_card,omitempty"`
	Phone      string              `json:"phone,omitempty"`
	UserAgent  string              `json:"user_agent,omitempty"`
	Domain     string              `json:"domain,omitempty"`
	Country    string              `json:"country,omitempty"`
	Timezone   string              `json:"timezone,omitempty"`
	DeviceType string              `json:"device_type,omitempty"`
	Headers    map[string][]string `json:"headers,omitempty"`
	Metadata   map[string]any      `json:"metadata,omitempty"`
}

// FieldError reports a single invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Message) }

// ValidationError carries all field-level problems of one request.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return "invalid input: " + strings.Join(msgs, "; ")
}

// Validate enforces the input invariant: at least one of email, ip,
// credit_card or phone must be present. Structural validation of each
// field is the job of its check, not of input validation.
func (in *Input) Validate() error {
	var fields []FieldError
	if strings.TrimSpace(in.Email) == "" &&
		strings.TrimSpace(in.IP) == "" &&
		strings.TrimSpace(in.CreditCard) == "" &&
		strings.TrimSpace(in.Phone) == "" {
		fields = append(fields, FieldError{
			Field:   "input",
			Message: "at least one of email, ip, credit_card or phone is required",
		})
	}
	if in.Country != "" && len(in.Country) != 2 {
		fields = append(fields, FieldError{Field: "country", Message: "must be an ISO-3166 alpha-2 code"})
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// EmailDomain returns the explicit domain or the one derivable from the
// email address, lowercased. Empty when neither is available.
func (in *Input) EmailDomain() string {
	if d := strings.ToLower(strings.TrimSpace(in.Domain)); d != "" {
		return d
	}
	at := strings.LastIndex(in.Email, "@")
	if at < 0 || at == len(in.Email)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(in.Email[at+1:]))
}

// Result is the outcome of one check.
type Result struct {
	Passed  bool           `json:"passed"`
	Score   int            `json:"score"`
	Details map[string]any `json:"details,omitempty"`
}

// VelocitySignal is the structured velocity detail a check attaches under
// Details["velocity"]. The scorer reads RiskScore to detect bursty use
// across multiple signals.
type VelocitySignal struct {
	Count     int64  `json:"count"`
	Window    string `json:"window"`
	RiskScore int    `json:"risk_score"`
}

// Check inspects one identity signal. Perform returns a non-nil error only
// for reference-store failures, which must abort the whole evaluation (a
// score computed without ground truth would be materially wrong). Any other
// internal failure degrades into the result itself and never aborts peers.
type Check interface {
	Name() string
	Applicable(in *Input) bool
	Perform(ctx context.Context, in *Input) (Result, error)
}

// Registry is the tagged collection of checks, indexed by name. Order is
// stable (registration order) so fan-out and logs are deterministic.
type Registry struct {
	checks []Check
	byName map[string]Check
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Check)}
}

// Register adds a check. Duplicate names are a programming error.
func (r *Registry) Register(c Check) {
	if _, dup := r.byName[c.Name()]; dup {
		panic(fmt.Sprintf("checks: duplicate registration of %q", c.Name()))
	}
	r.checks = append(r.checks, c)
	r.byName[c.Name()] = c
}

// Applicable returns the checks that apply to the given input, in
// registration order.
func (r *Registry) Applicable(in *Input) []Check {
	var out []Check
	for _, c := range r.checks {
		if c.Applicable(in) {
			out = append(out, c)
		}
	}
	return out
}

// Get returns a check by name.
func (r *Registry) Get(name string) (Check, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// errorResult is the uniform shape for a check that failed internally: the
// evaluation must continue, so the failure becomes a neutral-risk result.
func errorResult(err error) Result {
	return Result{
		Passed:  false,
		Score:   50,
		Details: map[string]any{"error": err.Error()},
	}
}

// capScore clamps an additive sub-rule total to [0, 100].
func capScore(score int) int {
	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return score
}

// finalize applies the shared pass/fail rule: a check fails outright at
// score >= 80 even when no hard-fail sub-rule fired.
func finalize(score int, hardFail bool, details map[string]any) Result {
	score = capScore(score)
	return Result{
		Passed:  !hardFail && score < 80,
		Score:   score,
		Details: details,
	}
}
