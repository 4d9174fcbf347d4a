package refdata

import "time"

// ASNType classifies the owner of an autonomous system.
type ASNType string

const (
	ASNDatacenter  ASNType = "datacenter"
	ASNResidential ASNType = "residential"
	ASNMobile      ASNType = "mobile"
	ASNEducation   ASNType = "education"
	ASNGovernment  ASNType = "government"
	ASNUnknown     ASNType = "unknown"
)

// UserAgentType classifies a known user agent.
type UserAgentType string

const (
	UABot       UserAgentType = "bot"
	UAScraper   UserAgentType = "scraper"
	UABrowser   UserAgentType = "browser"
	UAMalicious UserAgentType = "malicious"
	UAUnknown   UserAgentType = "unknown"
)

// BlacklistKind selects one of the four blacklist tables. Values double as
// cache-key segments and velocity kinds.
type BlacklistKind string

const (
	BlacklistEmail      BlacklistKind = "email"
	BlacklistIP         BlacklistKind = "ip"
	BlacklistCreditCard BlacklistKind = "credit_card"
	BlacklistPhone      BlacklistKind = "phone"
)

// TorExitNode is one row of the Tor exit node reference table, keyed by IP.
type TorExitNode struct {
	IPAddress  string    `json:"ip_address"`
	IPVersion  int       `json:"ip_version"`
	NodeID     string    `json:"node_id,omitempty"`
	Nickname   string    `json:"nickname,omitempty"`
	RiskWeight int       `json:"risk_weight"`
	IsActive   bool      `json:"is_active"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// DisposableEmailDomain is one row of the disposable-domain table, keyed by
// lowercased domain.
type DisposableEmailDomain struct {
	Domain     string    `json:"domain"`
	Source     string    `json:"source"`
	RiskWeight int       `json:"risk_weight"`
	IsActive   bool      `json:"is_active"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// ASN is one row of the ASN classification table, keyed by ASN number.
type ASN struct {
	Number       int64    `json:"asn"`
	Organization string   `json:"organization"`
	CountryCode  string   `json:"country_code"`
	Type         ASNType  `json:"type"`
	IsHosting    bool     `json:"is_hosting"`
	IsVPN        bool     `json:"is_vpn"`
	IsProxy      bool     `json:"is_proxy"`
	IPRanges     []string `json:"ip_ranges,omitempty"`
	RiskWeight   int      `json:"risk_weight"`
	IsActive     bool     `json:"is_active"`
}

// KnownUserAgent is one row of the known user agent table, keyed by the
// sha256 of the UA string.
type KnownUserAgent struct {
	Hash       string        `json:"user_agent_hash"`
	Type       UserAgentType `json:"type"`
	Name       string        `json:"name,omitempty"`
	Version    string        `json:"version,omitempty"`
	RiskWeight int           `json:"risk_weight"`
	IsOutdated bool          `json:"is_outdated"`
	EOLDate    *time.Time    `json:"eol_date,omitempty"`
	IsActive   bool          `json:"is_active"`
}

// BlacklistEntry is one row of a blacklist table, keyed by the keyed hash
// of the normalized value. A hit hard-fails the check regardless of the
// stored weight; ReportCount is bookkeeping for operators.
type BlacklistEntry struct {
	ValueHash   string    `json:"value_hash"`
	Reason      string    `json:"reason"`
	RiskWeight  int       `json:"risk_weight"`
	ReportCount int       `json:"report_count"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

func clampWeight(w int) int {
	if w < 0 {
		return 0
	}
	if w > 100 {
		return 100
	}
	return w
}
