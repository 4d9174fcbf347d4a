package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Security  SecurityConfig  `yaml:"security"`
	Risk      RiskConfig      `yaml:"risk"`
	Checks    ChecksConfig    `yaml:"checks"`
	Cache     CacheConfig     `yaml:"cache"`
	Refresh   RefreshConfig   `yaml:"refresh"`
	Retention RetentionConfig `yaml:"retention"`
	Alerting  AlertingConfig  `yaml:"alerting"`
	Geo       GeoConfig       `yaml:"geo"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// In a container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// SecurityConfig holds the keyed-hash and encryption secrets.
// Both keys are required at boot; the vault refuses to start without them.
type SecurityConfig struct {
	HashKey       string `yaml:"hash_key"`
	HashAlgorithm string `yaml:"hash_algorithm"`
	EncryptionKey string `yaml:"encryption_key"`
}

// RiskConfig holds scoring thresholds and the evaluation deadline
type RiskConfig struct {
	ThresholdLow       int `yaml:"threshold_low"`
	ThresholdMedium    int `yaml:"threshold_medium"`
	ThresholdHigh      int `yaml:"threshold_high"`
	ThresholdCritical  int `yaml:"threshold_critical"`
	AutoAllowBelow     int `yaml:"auto_allow_below"`
	ManualReviewBelow  int `yaml:"manual_review_below"`
	AutoBlockAt        int `yaml:"auto_block_at"`
	EvaluationDeadline int `yaml:"evaluation_deadline_ms"`
}

// Deadline returns the per-evaluation deadline as a duration
func (c RiskConfig) Deadline() time.Duration {
	return time.Duration(c.EvaluationDeadline) * time.Millisecond
}

// ChecksConfig holds per-check feature toggles
type ChecksConfig struct {
	EmailEnabled      bool `yaml:"email_enabled"`
	DomainEnabled     bool `yaml:"domain_enabled"`
	IPEnabled         bool `yaml:"ip_enabled"`
	CreditCardEnabled bool `yaml:"credit_card_enabled"`
	PhoneEnabled      bool `yaml:"phone_enabled"`
	UserAgentEnabled  bool `yaml:"user_agent_enabled"`

	// DisposablePhonePrefixes flags burner/virtual number ranges
	// (e.g. "+1500") in the phone check.
	DisposablePhonePrefixes []string `yaml:"disposable_phone_prefixes"`
}

// CacheConfig holds per-kind reference cache TTLs in seconds
type CacheConfig struct {
	BlacklistTTL   int `yaml:"blacklist_ttl"`
	DisposableTTL  int `yaml:"disposable_ttl"`
	TorNodeTTL     int `yaml:"tor_node_ttl"`
	ASNTTL         int `yaml:"asn_ttl"`
	GeolocationTTL int `yaml:"geolocation_ttl"`
}

// RefreshConfig holds per-source refresh schedules and limits
type RefreshConfig struct {
	TorMinIntervalHours        int      `yaml:"tor_min_interval_hours"`
	DisposableMinIntervalHours int      `yaml:"disposable_min_interval_hours"`
	ASNMinIntervalHours        int      `yaml:"asn_min_interval_hours"`
	JobTimeoutSeconds          int      `yaml:"job_timeout_seconds"`
	MemoryLimitPercent         int      `yaml:"memory_limit_percent"`
	TorSources                 []string `yaml:"tor_sources"`
	TorDetailsURL              string   `yaml:"tor_details_url"`
	DisposableSources          []string `yaml:"disposable_sources"`
	ASNSource                  string   `yaml:"asn_source"`
	UserAgentSources           []string `yaml:"user_agent_sources"`
}

// JobTimeout returns the refresh job deadline as a duration
func (c RefreshConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

// RetentionConfig holds per-table retention in days
type RetentionConfig struct {
	FraudCheckDays    int `yaml:"fraud_check_days"`
	StaleReferenceDay int `yaml:"stale_reference_days"`
}

// StaleReferenceAge returns the stale reference retention as a duration
func (c RetentionConfig) StaleReferenceAge() time.Duration {
	return time.Duration(c.StaleReferenceDay) * 24 * time.Hour
}

// AlertingConfig holds the high-risk event webhook settings
type AlertingConfig struct {
	WebhookURL     string `yaml:"webhook_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"`
}

// Timeout returns the webhook timeout as a duration
func (c AlertingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GeoConfig holds the geolocation/ASN collaborator API settings
type GeoConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"`
}

// Timeout returns the configured timeout as a duration
func (c GeoConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30
	}
	if cfg.Security.HashAlgorithm == "" {
		cfg.Security.HashAlgorithm = "sha256"
	}
	if cfg.Risk.ThresholdLow == 0 {
		cfg.Risk.ThresholdLow = 30
	}
	if cfg.Risk.ThresholdMedium == 0 {
		cfg.Risk.ThresholdMedium = 50
	}
	if cfg.Risk.ThresholdHigh == 0 {
		cfg.Risk.ThresholdHigh = 80
	}
	if cfg.Risk.ThresholdCritical == 0 {
		cfg.Risk.ThresholdCritical = 100
	}
	if cfg.Risk.AutoAllowBelow == 0 {
		cfg.Risk.AutoAllowBelow = 30
	}
	if cfg.Risk.ManualReviewBelow == 0 {
		cfg.Risk.ManualReviewBelow = 50
	}
	if cfg.Risk.AutoBlockAt == 0 {
		cfg.Risk.AutoBlockAt = 80
	}
	if cfg.Risk.EvaluationDeadline == 0 {
		cfg.Risk.EvaluationDeadline = 5000
	}
	if cfg.Cache.BlacklistTTL == 0 {
		cfg.Cache.BlacklistTTL = 300
	}
	if cfg.Cache.DisposableTTL == 0 {
		cfg.Cache.DisposableTTL = 3600
	}
	if cfg.Cache.TorNodeTTL == 0 {
		cfg.Cache.TorNodeTTL = 3600
	}
	if cfg.Cache.ASNTTL == 0 {
		cfg.Cache.ASNTTL = 3600
	}
	if cfg.Cache.GeolocationTTL == 0 {
		cfg.Cache.GeolocationTTL = 86400
	}
	if cfg.Refresh.TorMinIntervalHours == 0 {
		cfg.Refresh.TorMinIntervalHours = 6
	}
	if cfg.Refresh.DisposableMinIntervalHours == 0 {
		cfg.Refresh.DisposableMinIntervalHours = 24
	}
	if cfg.Refresh.ASNMinIntervalHours == 0 {
		cfg.Refresh.ASNMinIntervalHours = 168 // 7 days
	}
	if cfg.Refresh.JobTimeoutSeconds == 0 {
		cfg.Refresh.JobTimeoutSeconds = 1200
	}
	if cfg.Refresh.MemoryLimitPercent == 0 {
		cfg.Refresh.MemoryLimitPercent = 80
	}
	if cfg.Retention.FraudCheckDays == 0 {
		cfg.Retention.FraudCheckDays = 365
	}
	if cfg.Retention.StaleReferenceDay == 0 {
		cfg.Retention.StaleReferenceDay = 7
	}
	if cfg.Alerting.TimeoutSeconds == 0 {
		cfg.Alerting.TimeoutSeconds = 10
	}
	if cfg.Geo.TimeoutSeconds == 0 {
		cfg.Geo.TimeoutSeconds = 5
	}
	if !cfg.Checks.EmailEnabled && !cfg.Checks.DomainEnabled && !cfg.Checks.IPEnabled &&
		!cfg.Checks.CreditCardEnabled && !cfg.Checks.PhoneEnabled && !cfg.Checks.UserAgentEnabled {
		// All toggles unset means everything on, not everything off
		cfg.Checks = ChecksConfig{
			EmailEnabled:      true,
			DomainEnabled:     true,
			IPEnabled:         true,
			CreditCardEnabled: true,
			PhoneEnabled:      true,
			UserAgentEnabled:  true,
		}
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Redis.URL = redisURL
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("FRAUD_HASH_KEY"); v != "" {
		cfg.Security.HashKey = v
	}
	if v := os.Getenv("FRAUD_ENCRYPTION_KEY"); v != "" {
		cfg.Security.EncryptionKey = v
	}
	if v := os.Getenv("GEO_API_KEY"); v != "" {
		cfg.Geo.APIKey = v
	}
	if v := os.Getenv("ALERT_WEBHOOK_URL"); v != "" {
		cfg.Alerting.WebhookURL = v
		cfg.Alerting.Enabled = true
	}

	return cfg, nil
}
