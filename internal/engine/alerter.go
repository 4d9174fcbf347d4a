package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Alerter delivers high-risk evaluation events to a downstream webhook.
// Delivery is best-effort; the evaluation result never waits on it.
type Alerter struct {
	webhookURL string
	client     *http.Client
}

// NewAlerter creates a webhook alerter. An empty URL turns delivery into
// a log line, which is the right default for development. timeout <= 0
// falls back to ten seconds.
func NewAlerter(webhookURL string, timeout time.Duration) *Alerter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Alerter{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
	}
}

// HighRiskEvent is the webhook payload for an evaluation at or above the
// block threshold.
type HighRiskEvent struct {
	CheckID      string    `json:"check_id"`
	RiskScore    int       `json:"risk_score"`
	Decision     string    `json:"decision"`
	FailedChecks []string  `json:"failed_checks"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// NotifyHighRisk posts the event. Failures are logged and dropped.
func (a *Alerter) NotifyHighRisk(ctx context.Context, event HighRiskEvent) {
	if a.webhookURL == "" {
		log.Printf("[Alerter] high-risk evaluation %s (score %d, %s)",
			event.CheckID, event.RiskScore, event.Decision)
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		log.Printf("[Alerter] marshal event: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(body))
	if err != nil {
		log.Printf("[Alerter] build request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		log.Printf("[Alerter] webhook delivery failed: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("[Alerter] webhook returned %s for %s", resp.Status, event.CheckID)
	}
}

func (e HighRiskEvent) String() string {
	return fmt.Sprintf("high-risk %s score=%d decision=%s", e.CheckID, e.RiskScore, e.Decision)
}
