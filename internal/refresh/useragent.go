package refresh

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ignite/fraudguard/internal/config"
	"github.com/ignite/fraudguard/internal/refdata"
)

const uaBatchSize = 100

// curatedAgents are literal user agent strings of attack tooling that the
// community bot lists do not carry. They ship with the binary, so the
// table has teeth even before the first feed run succeeds.
var curatedAgents = []refdata.KnownUserAgent{
	{Name: "sqlmap", Type: refdata.UAMalicious, RiskWeight: 95},
	{Name: "nikto", Type: refdata.UAMalicious, RiskWeight: 95},
	{Name: "masscan", Type: refdata.UAMalicious, RiskWeight: 90},
	{Name: "zgrab", Type: refdata.UAMalicious, RiskWeight: 85},
}

var curatedAgentStrings = map[string]string{
	"sqlmap":  "sqlmap/1.7 (https://sqlmap.org)",
	"nikto":   "Mozilla/5.00 (Nikto/2.1.6) (Evasions:None) (Test:Port Check)",
	"masscan": "masscan/1.3 (https://github.com/robertdavidgraham/masscan)",
	"zgrab":   "Mozilla/5.0 zgrab/0.x",
}

// UserAgentSource refreshes the known user agent table from JSON bot
// lists plus the curated built-ins.
type UserAgentSource struct {
	store  *refdata.Store
	client *http.Client
	urls   []string
}

// NewUserAgentSource builds the user agent refresh job.
func NewUserAgentSource(store *refdata.Store, client *http.Client, cfg config.RefreshConfig) *UserAgentSource {
	return &UserAgentSource{store: store, client: client, urls: cfg.UserAgentSources}
}

func (s *UserAgentSource) Name() string { return "user_agents" }

// MinInterval matches the disposable list cadence; bot lists move slowly.
func (s *UserAgentSource) MinInterval() time.Duration { return 24 * time.Hour }

// feedEntry tolerates the two field spellings the public lists use.
type feedEntry struct {
	Pattern   string `json:"pattern"`
	UserAgent string `json:"userAgent"`
	Name      string `json:"name"`
	Browser   string `json:"browser"`
	Version   string `json:"version"`
}

func (e feedEntry) agent() string {
	if e.UserAgent != "" {
		return e.UserAgent
	}
	return e.Pattern
}

func (e feedEntry) label() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Browser
}

func (s *UserAgentSource) Refresh(ctx context.Context, run *Run) (int, error) {
	run.Touch("known_user_agents")

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin user agent refresh: %w", err)
	}
	defer tx.Rollback()

	if err := s.store.DeactivateAll(ctx, tx, "known_user_agents"); err != nil {
		return 0, fmt.Errorf("deactivate user agents: %w", err)
	}

	total := 0
	seen := make(map[string]bool)
	batch := make([]refdata.KnownUserAgent, 0, uaBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.store.UpsertKnownUserAgents(ctx, tx, batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		run.AfterBatch()
		return nil
	}

	add := func(agent refdata.KnownUserAgent) error {
		if agent.Hash == "" || seen[agent.Hash] {
			return nil
		}
		seen[agent.Hash] = true
		batch = append(batch, agent)
		if len(batch) >= uaBatchSize {
			return flush()
		}
		return nil
	}

	for _, curated := range curatedAgents {
		ua := curatedAgentStrings[curated.Name]
		curated.Hash = refdata.UserAgentHash(ua)
		if err := add(curated); err != nil {
			return total, fmt.Errorf("upsert user agents: %w", err)
		}
	}

	for _, url := range s.urls {
		path, cleanup, err := fetchToTemp(ctx, s.client, url)
		if err != nil {
			return total, fmt.Errorf("user agent source %s: %w", url, err)
		}
		err = s.parseFeed(path, add)
		cleanup()
		if err != nil {
			return total, err
		}
	}
	if err := flush(); err != nil {
		return total, fmt.Errorf("upsert user agents: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return total, fmt.Errorf("commit user agent refresh: %w", err)
	}
	return total, nil
}

// parseFeed streams the JSON array element by element, flushing batches
// through add as it goes.
func (s *UserAgentSource) parseFeed(path string, add func(refdata.KnownUserAgent) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("read user agent feed: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(bufio.NewReader(f))
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decode user agent feed: %w", err)
	}
	for dec.More() {
		var entry feedEntry
		if err := dec.Decode(&entry); err != nil {
			return fmt.Errorf("decode user agent feed: %w", err)
		}
		ua := strings.TrimSpace(entry.agent())
		if ua == "" {
			continue
		}
		agent := refdata.KnownUserAgent{
			Hash:       refdata.UserAgentHash(ua),
			Name:       entry.label(),
			Version:    entry.Version,
			Type:       classifyFeedAgent(ua),
			RiskWeight: 40,
		}
		if agent.Type == refdata.UAScraper {
			agent.RiskWeight = 50
		}
		if err := add(agent); err != nil {
			return fmt.Errorf("upsert user agents: %w", err)
		}
	}
	return nil
}

func classifyFeedAgent(ua string) refdata.UserAgentType {
	lower := strings.ToLower(ua)
	switch {
	case strings.Contains(lower, "scraper") || strings.Contains(lower, "scrapy"):
		return refdata.UAScraper
	case strings.Contains(lower, "bot") || strings.Contains(lower, "crawler") ||
		strings.Contains(lower, "spider"):
		return refdata.UABot
	default:
		return refdata.UAUnknown
	}
}
