package domaininfo

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

const rdapBase = "https://rdap.org/domain/"

// parkedIndicators are phrases that parking-lot landing pages reliably
// contain.
var parkedIndicators = []string{
	"this domain is for sale",
	"buy this domain",
	"domain parking",
	"parked free",
	"is parked",
	"domain may be for sale",
	"sedoparking",
	"parkingcrew",
}

// Client answers domain age and parked-page questions from public
// sources: RDAP for registration dates, the site itself for parking.
// Both are collaborators; every failure degrades to "no answer".
type Client struct {
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string]cachedIntel
}

type cachedIntel struct {
	ageDays   int
	ageOK     bool
	parked    bool
	fetchedAt time.Time
}

const cacheTTL = 12 * time.Hour

// NewClient creates a domain intelligence client.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		cache:      make(map[string]cachedIntel),
	}
}

// AgeDays implements checks.DomainIntel.
func (c *Client) AgeDays(ctx context.Context, domain string) (int, bool) {
	intel := c.lookup(ctx, domain)
	return intel.ageDays, intel.ageOK
}

// IsParked implements checks.DomainIntel.
func (c *Client) IsParked(ctx context.Context, domain string) bool {
	return c.lookup(ctx, domain).parked
}

func (c *Client) lookup(ctx context.Context, domain string) cachedIntel {
	domain = strings.ToLower(domain)

	c.mu.Lock()
	if cached, ok := c.cache[domain]; ok && time.Since(cached.fetchedAt) < cacheTTL {
		c.mu.Unlock()
		return cached
	}
	c.mu.Unlock()

	intel := cachedIntel{fetchedAt: time.Now()}
	if days, ok := c.registrationAge(ctx, domain); ok {
		intel.ageDays = days
		intel.ageOK = true
	}
	intel.parked = c.looksParked(ctx, domain)

	c.mu.Lock()
	c.cache[domain] = intel
	c.mu.Unlock()
	return intel
}

// rdapResponse is the slice of the RDAP document we read.
type rdapResponse struct {
	Events []struct {
		Action string `json:"eventAction"`
		Date   string `json:"eventDate"`
	} `json:"events"`
}

func (c *Client) registrationAge(ctx context.Context, domain string) (int, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rdapBase+domain, nil)
	if err != nil {
		return 0, false
	}
	req.Header.Set("Accept", "application/rdap+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[DomainInfo] rdap lookup failed: %v", err)
		return 0, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<18))
	if err != nil {
		return 0, false
	}
	var parsed rdapResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, false
	}

	for _, event := range parsed.Events {
		if event.Action != "registration" {
			continue
		}
		when, err := time.Parse(time.RFC3339, event.Date)
		if err != nil {
			continue
		}
		return int(time.Since(when).Hours() / 24), true
	}
	return 0, false
}

func (c *Client) looksParked(ctx context.Context, domain string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+domain, nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<17))
	if err != nil {
		return false
	}
	page := strings.ToLower(string(body))
	for _, indicator := range parkedIndicators {
		if strings.Contains(page, indicator) {
			return true
		}
	}
	return false
}
