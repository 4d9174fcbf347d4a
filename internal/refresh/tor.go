package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/fraudguard/internal/config"
	"github.com/ignite/fraudguard/internal/iputil"
	"github.com/ignite/fraudguard/internal/refdata"
)

const (
	torBatchSize   = 500
	torDetailsPage = 2000
)

// defaultTorSources are the plain one-IP-per-line exit lists used when
// configuration supplies none.
var defaultTorSources = []string{
	"https://check.torproject.org/torbulkexitlist",
	"https://www.dan.me.uk/torlist/?exit",
}

// TorSource refreshes the Tor exit node table from the public exit lists
// plus the relay-details API for nicknames and fingerprints.
type TorSource struct {
	store      *refdata.Store
	client     *http.Client
	urls       []string
	detailsURL string
	interval   time.Duration
}

// NewTorSource builds the Tor refresh job from configuration.
func NewTorSource(store *refdata.Store, client *http.Client, cfg config.RefreshConfig) *TorSource {
	urls := cfg.TorSources
	if len(urls) == 0 {
		urls = defaultTorSources
	}
	interval := time.Duration(cfg.TorMinIntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &TorSource{
		store:      store,
		client:     client,
		urls:       urls,
		detailsURL: cfg.TorDetailsURL,
		interval:   interval,
	}
}

func (s *TorSource) Name() string               { return "tor" }
func (s *TorSource) MinInterval() time.Duration { return s.interval }

func (s *TorSource) Refresh(ctx context.Context, run *Run) (int, error) {
	run.Touch("tor_exit_nodes")

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tor refresh: %w", err)
	}
	defer tx.Rollback()

	if err := s.store.DeactivateAll(ctx, tx, "tor_exit_nodes"); err != nil {
		return 0, fmt.Errorf("deactivate tor nodes: %w", err)
	}

	details := s.fetchDetails(ctx)

	total := 0
	batch := make([]refdata.TorExitNode, 0, torBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.store.UpsertTorExitNodes(ctx, tx, batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		run.AfterBatch()
		return nil
	}

	seen := make(map[string]bool)
	var flushErr error
	for _, url := range s.urls {
		path, cleanup, err := fetchToTemp(ctx, s.client, url)
		if err != nil {
			return total, fmt.Errorf("tor source %s: %w", url, err)
		}

		scanErr := eachLine(path, func(line string) {
			if flushErr != nil {
				return
			}
			node, ok := parseTorLine(line)
			if !ok || seen[node.IPAddress] {
				return
			}
			seen[node.IPAddress] = true
			if d, found := details[node.IPAddress]; found {
				node.NodeID = d.fingerprint
				node.Nickname = d.nickname
			}
			batch = append(batch, node)
			if len(batch) >= torBatchSize {
				flushErr = flush()
			}
		})
		cleanup()
		if scanErr != nil {
			return total, scanErr
		}
		if flushErr != nil {
			return total, fmt.Errorf("upsert tor nodes: %w", flushErr)
		}
	}
	if err := flush(); err != nil {
		return total, fmt.Errorf("upsert tor nodes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return total, fmt.Errorf("commit tor refresh: %w", err)
	}
	return total, nil
}

// parseTorLine accepts one address per line; blank lines and comments
// are skipped, anything unparseable is dropped silently.
func parseTorLine(line string) (refdata.TorExitNode, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return refdata.TorExitNode{}, false
	}
	addr, version, err := iputil.Parse(line)
	if err != nil {
		return refdata.TorExitNode{}, false
	}
	return refdata.TorExitNode{
		IPAddress: addr.String(),
		IPVersion: int(version),
	}, true
}

type torDetail struct {
	fingerprint string
	nickname    string
}

// relayPage matches the relay-details API response. Exit addresses come
// back as bare IPs; or_addresses carry ports.
type relayPage struct {
	Relays []struct {
		Nickname      string   `json:"nickname"`
		Fingerprint   string   `json:"fingerprint"`
		ExitAddresses []string `json:"exit_addresses"`
		LastSeen      string   `json:"last_seen"`
	} `json:"relays"`
}

// fetchDetails pages through the relay metadata API. It is decoration on
// top of the authoritative exit lists, so every failure degrades to an
// empty map.
func (s *TorSource) fetchDetails(ctx context.Context) map[string]torDetail {
	out := make(map[string]torDetail)
	if s.detailsURL == "" {
		return out
	}

	for offset := 0; ; offset += torDetailsPage {
		url := fmt.Sprintf("%s?type=relay&flag=exit&limit=%d&offset=%d",
			s.detailsURL, torDetailsPage, offset)
		page, ok := s.fetchDetailsPage(ctx, url)
		if !ok {
			return out
		}
		for _, relay := range page.Relays {
			for _, ip := range relay.ExitAddresses {
				addr, _, err := iputil.Parse(ip)
				if err != nil {
					continue
				}
				out[addr.String()] = torDetail{
					fingerprint: relay.Fingerprint,
					nickname:    relay.Nickname,
				}
			}
		}
		if len(page.Relays) < torDetailsPage {
			return out
		}
	}
}

func (s *TorSource) fetchDetailsPage(ctx context.Context, url string) (*relayPage, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("[Refresh] tor details fetch failed: %v", err)
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("[Refresh] tor details returned HTTP %d", resp.StatusCode)
		return nil, false
	}

	var page relayPage
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<20)).Decode(&page); err != nil {
		log.Printf("[Refresh] tor details decode: %v", err)
		return nil, false
	}
	return &page, true
}
