package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/fraudguard/internal/checks"
)

// Client resolves IP geolocation and ASN data from an external lookup
// API. Responses are cached in Redis; the API is a collaborator whose
// failure must never fail an evaluation, so Locate reports ok=false
// instead of returning errors.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	redis      *redis.Client
	cacheTTL   time.Duration
}

// NewClient creates a geolocation client. redisClient may be nil to
// disable caching.
func NewClient(baseURL, apiKey string, redisClient *redis.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		redis:      redisClient,
		cacheTTL:   24 * time.Hour,
	}
}

// IsConfigured returns true if the client has an endpoint to call.
func (c *Client) IsConfigured() bool { return c.baseURL != "" }

// apiResponse matches the lookup API's JSON shape.
type apiResponse struct {
	CountryCode string `json:"country_code"`
	UTCOffset   int    `json:"utc_offset"`
	ASN         int64  `json:"asn"`
	ASNOrg      string `json:"asn_org"`
}

// Locate implements checks.GeoLocator.
func (c *Client) Locate(ctx context.Context, ip string) (*checks.GeoInfo, bool) {
	if !c.IsConfigured() {
		return nil, false
	}

	cacheKey := "geo:" + ip
	if c.redis != nil {
		if cached, err := c.redis.Get(ctx, cacheKey).Result(); err == nil {
			var info checks.GeoInfo
			if json.Unmarshal([]byte(cached), &info) == nil {
				return &info, true
			}
		}
	}

	url := fmt.Sprintf("%s/%s", c.baseURL, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Geo] lookup failed for request: %v", err)
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[Geo] lookup returned %s", resp.Status)
		return nil, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, false
	}
	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		log.Printf("[Geo] malformed response: %v", err)
		return nil, false
	}

	info := &checks.GeoInfo{
		CountryCode:    parsed.CountryCode,
		TimezoneOffset: parsed.UTCOffset,
		ASN:            parsed.ASN,
		ASNOrg:         parsed.ASNOrg,
	}

	if c.redis != nil {
		if data, err := json.Marshal(info); err == nil {
			c.redis.Set(ctx, cacheKey, data, c.cacheTTL)
		}
	}
	return info, true
}
