package refresh

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/fraudguard/internal/config"
	"github.com/ignite/fraudguard/internal/refdata"
)

const asnBatchSize = 500

const defaultASNSource = "https://ftp.ripe.net/ripe/asnames/asn.txt"

// asnLineRe matches the master list format: number, country code, name.
var asnLineRe = regexp.MustCompile(`^(\d+)\s+([A-Z]{2})\s+(.+)$`)

// Organization-name keywords that classify the network and its risk.
var (
	datacenterKeywords = []string{
		"hosting", "cloud", "datacenter", "data center", "server",
		"colo", "vps", "dedicated", "digitalocean", "linode", "vultr",
		"hetzner", "ovh", "amazon", "google cloud", "microsoft azure",
	}
	vpnKeywords = []string{
		"vpn", "proxy", "private network", "anonymizer", "mullvad",
		"nordvpn", "expressvpn",
	}
	educationKeywords  = []string{"university", "college", "school", "academic", "education"}
	governmentKeywords = []string{"government", "ministry", "federal", "military"}
	mobileKeywords     = []string{"mobile", "wireless", "cellular", "gsm", "lte"}
)

// ASNSource refreshes the ASN classification table from the plain-text
// master list.
type ASNSource struct {
	store    *refdata.Store
	client   *http.Client
	url      string
	interval time.Duration
}

// NewASNSource builds the ASN refresh job.
func NewASNSource(store *refdata.Store, client *http.Client, cfg config.RefreshConfig) *ASNSource {
	url := cfg.ASNSource
	if url == "" {
		url = defaultASNSource
	}
	interval := time.Duration(cfg.ASNMinIntervalHours) * time.Hour
	if interval <= 0 {
		interval = 7 * 24 * time.Hour
	}
	return &ASNSource{store: store, client: client, url: url, interval: interval}
}

func (s *ASNSource) Name() string               { return "asn" }
func (s *ASNSource) MinInterval() time.Duration { return s.interval }

func (s *ASNSource) Refresh(ctx context.Context, run *Run) (int, error) {
	run.Touch("asns")

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin asn refresh: %w", err)
	}
	defer tx.Rollback()

	if err := s.store.DeactivateAll(ctx, tx, "asns"); err != nil {
		return 0, fmt.Errorf("deactivate asns: %w", err)
	}

	path, cleanup, err := fetchToTemp(ctx, s.client, s.url)
	if err != nil {
		return 0, fmt.Errorf("asn source: %w", err)
	}
	defer cleanup()

	total := 0
	malformed := 0
	batch := make([]refdata.ASN, 0, asnBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.store.UpsertASNs(ctx, tx, batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		run.AfterBatch()
		return nil
	}

	var flushErr error
	err = eachLine(path, func(line string) {
		if flushErr != nil {
			return
		}
		asn, ok := parseASNLine(line)
		if !ok {
			if strings.TrimSpace(line) != "" {
				malformed++
			}
			return
		}
		batch = append(batch, asn)
		if len(batch) >= asnBatchSize {
			flushErr = flush()
		}
	})
	if err != nil {
		return total, err
	}
	if flushErr != nil {
		return total, fmt.Errorf("upsert asns: %w", flushErr)
	}
	if err := flush(); err != nil {
		return total, fmt.Errorf("upsert asns: %w", err)
	}
	if malformed > 0 {
		log.Printf("[Refresh] asn: skipped %d malformed lines", malformed)
	}

	if err := tx.Commit(); err != nil {
		return total, fmt.Errorf("commit asn refresh: %w", err)
	}
	return total, nil
}

// parseASNLine parses one master-list line and classifies the owner by
// name. Malformed lines report ok=false and are skipped.
func parseASNLine(line string) (refdata.ASN, bool) {
	m := asnLineRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return refdata.ASN{}, false
	}
	number, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return refdata.ASN{}, false
	}

	org := strings.TrimSpace(m[3])
	asn := refdata.ASN{
		Number:       number,
		CountryCode:  m[2],
		Organization: org,
		Type:         refdata.ASNUnknown,
	}

	lower := strings.ToLower(org)
	switch {
	case containsAny(lower, vpnKeywords):
		asn.Type = refdata.ASNDatacenter
		asn.IsVPN = true
		asn.IsHosting = true
		asn.RiskWeight = 40
	case containsAny(lower, datacenterKeywords):
		asn.Type = refdata.ASNDatacenter
		asn.IsHosting = true
		asn.RiskWeight = 20
	case containsAny(lower, mobileKeywords):
		asn.Type = refdata.ASNMobile
	case containsAny(lower, educationKeywords):
		asn.Type = refdata.ASNEducation
	case containsAny(lower, governmentKeywords):
		asn.Type = refdata.ASNGovernment
	}
	return asn, true
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
