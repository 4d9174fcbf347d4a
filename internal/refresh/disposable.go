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

	"github.com/ignite/fraudguard/internal/checks"
	"github.com/ignite/fraudguard/internal/config"
	"github.com/ignite/fraudguard/internal/refdata"
)

const disposableBatchSize = 1000

// defaultDisposableSources are the community disposable-domain lists used
// when configuration supplies none.
var defaultDisposableSources = []string{
	"https://raw.githubusercontent.com/disposable-email-domains/disposable-email-domains/master/disposable_email_blocklist.conf",
	"https://raw.githubusercontent.com/disposable/disposable-email-domains/master/domains.json",
}

// DisposableSource refreshes the disposable email domain table from a
// mix of plain-text and JSON-array lists.
type DisposableSource struct {
	store    *refdata.Store
	client   *http.Client
	urls     []string
	interval time.Duration
}

// NewDisposableSource builds the disposable-domain refresh job.
func NewDisposableSource(store *refdata.Store, client *http.Client, cfg config.RefreshConfig) *DisposableSource {
	urls := cfg.DisposableSources
	if len(urls) == 0 {
		urls = defaultDisposableSources
	}
	interval := time.Duration(cfg.DisposableMinIntervalHours) * time.Hour
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &DisposableSource{store: store, client: client, urls: urls, interval: interval}
}

func (s *DisposableSource) Name() string               { return "disposable_emails" }
func (s *DisposableSource) MinInterval() time.Duration { return s.interval }

func (s *DisposableSource) Refresh(ctx context.Context, run *Run) (int, error) {
	run.Touch("disposable_email_domains")

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin disposable refresh: %w", err)
	}
	defer tx.Rollback()

	if err := s.store.DeactivateAll(ctx, tx, "disposable_email_domains"); err != nil {
		return 0, fmt.Errorf("deactivate disposable domains: %w", err)
	}

	total := 0
	seen := make(map[string]bool)
	batch := make([]refdata.DisposableEmailDomain, 0, disposableBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.store.UpsertDisposableDomains(ctx, tx, batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		run.AfterBatch()
		return nil
	}

	add := func(raw, sourceURL string) error {
		domain, ok := normalizeDisposableDomain(raw)
		if !ok || seen[domain] {
			return nil
		}
		seen[domain] = true
		batch = append(batch, refdata.DisposableEmailDomain{
			Domain:     domain,
			Source:     sourceURL,
			RiskWeight: refdata.DisposableRiskWeight(domain),
		})
		if len(batch) >= disposableBatchSize {
			return flush()
		}
		return nil
	}

	for _, url := range s.urls {
		path, cleanup, err := fetchToTemp(ctx, s.client, url)
		if err != nil {
			return total, fmt.Errorf("disposable source %s: %w", url, err)
		}
		err = s.parseFile(path, url, add)
		cleanup()
		if err != nil {
			return total, err
		}
	}
	if err := flush(); err != nil {
		return total, fmt.Errorf("upsert disposable domains: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return total, fmt.Errorf("commit disposable refresh: %w", err)
	}
	return total, nil
}

// parseFile handles both feed shapes: a JSON array of domain strings, or
// one domain per line with comments. The JSON path decodes one element at
// a time so a multi-hundred-thousand-entry list never sits in memory
// whole.
func (s *DisposableSource) parseFile(path, sourceURL string, add func(raw, source string) error) error {
	if isJSONArrayFile(path) {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("read feed: %w", err)
		}
		defer f.Close()

		dec := json.NewDecoder(bufio.NewReader(f))
		if _, err := dec.Token(); err != nil {
			return fmt.Errorf("decode %s: %w", sourceURL, err)
		}
		for dec.More() {
			var d string
			if err := dec.Decode(&d); err != nil {
				return fmt.Errorf("decode %s: %w", sourceURL, err)
			}
			if err := add(d, sourceURL); err != nil {
				return fmt.Errorf("upsert disposable domains: %w", err)
			}
		}
		return nil
	}

	var addErr error
	err := eachLine(path, func(line string) {
		if addErr != nil {
			return
		}
		addErr = add(line, sourceURL)
	})
	if err != nil {
		return err
	}
	if addErr != nil {
		return fmt.Errorf("upsert disposable domains: %w", addErr)
	}
	return nil
}

// isJSONArrayFile sniffs the first non-whitespace byte.
func isJSONArrayFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, 64)
	n, _ := f.Read(buf)
	head := strings.TrimSpace(string(buf[:n]))
	return strings.HasPrefix(head, "[")
}

// normalizeDisposableDomain strips comments and wildcards and validates
// the remainder as a hostname.
func normalizeDisposableDomain(raw string) (string, bool) {
	line := strings.TrimSpace(strings.ToLower(raw))
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
		return "", false
	}
	// Inline comments after the domain.
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimPrefix(line, "*.")
	line = strings.TrimPrefix(line, ".")
	if !checks.ValidHostname(line) {
		return "", false
	}
	return line, true
}
