package domain

import (
	"encoding/json"
	"time"
)

// FraudCheck statuses. A record is pending between the opening insert and
// the completing update of one evaluation.
const (
	FraudCheckPending   = "pending"
	FraudCheckCompleted = "completed"
)

// FraudCheck is one audit record of an evaluation. Identity fields are
// stored twice: a keyed hash for joins and lookups, and a ciphertext for
// operator review. Plaintext never reaches the table.
type FraudCheck struct {
	ID                  string          `json:"id"`
	EmailHash           string          `json:"email_hash,omitempty"`
	EmailEncrypted      string          `json:"-"`
	IPHash              string          `json:"ip_hash,omitempty"`
	IPEncrypted         string          `json:"-"`
	CreditCardHash      string          `json:"credit_card_hash,omitempty"`
	CreditCardEncrypted string          `json:"-"`
	PhoneHash           string          `json:"phone_hash,omitempty"`
	PhoneEncrypted      string          `json:"-"`
	UserAgentHash       string          `json:"user_agent_hash,omitempty"`
	Headers             json.RawMessage `json:"headers,omitempty"`
	Domain              string          `json:"domain,omitempty"`
	Country             string          `json:"country,omitempty"`
	Status              string          `json:"status"`
	RiskScore           int             `json:"risk_score"`
	Decision            string          `json:"decision,omitempty"`
	CheckResults        json.RawMessage `json:"check_results,omitempty"`
	PassedChecks        []string        `json:"passed_checks,omitempty"`
	FailedChecks        []string        `json:"failed_checks,omitempty"`
	ProcessingTimeMs    int64           `json:"processing_time_ms"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}
