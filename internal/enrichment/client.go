// Package enrichment is the contract for the external wallet-enrichment
// HTTP service: given a wallet, resolve the wallet that funded its first
// inbound native transfer. The service itself is an external collaborator;
// only the client contract lives here.
package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// FundedByResolver is consumed by the wallet clusterer's union step.
type FundedByResolver interface {
	ResolveFundedBy(ctx context.Context, wallet string) (funder string, ok bool, err error)
}

// Client calls the external enrichment service's funded_by lookup,
// rate-limited against a daily credit budget that resets at UTC midnight.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	dailyBudget int64
	budgetDay   atomic.Int64 // UTC day number the counter below belongs to
	spentToday  atomic.Int64
}

// NewClient builds a client against baseURL, authenticating with apiKey.
// dailyBudget <= 0 means unlimited.
func NewClient(baseURL, apiKey string, dailyBudget int) *Client {
	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		dailyBudget: int64(dailyBudget),
	}
}

type fundedByResponse struct {
	Funder string `json:"funder"`
	Found  bool   `json:"found"`
}

// ResolveFundedBy spends one credit from today's budget and looks up
// wallet's funder. Once the daily budget is exhausted, every subsequent
// call reports ok=false without making a request.
func (c *Client) ResolveFundedBy(ctx context.Context, wallet string) (string, bool, error) {
	if !c.takeCredit() {
		return "", false, nil
	}

	url := fmt.Sprintf("%s/v1/wallets/%s/funded_by", c.baseURL, wallet)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("enrichment service returned status %d", resp.StatusCode)
	}

	var out fundedByResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", false, fmt.Errorf("decode funded_by response: %w", err)
	}
	if !out.Found || out.Funder == "" {
		return "", false, nil
	}
	return out.Funder, true, nil
}

// takeCredit resets the counter on a UTC day rollover before spending one
// credit, reporting whether the budget still had room.
func (c *Client) takeCredit() bool {
	today := time.Now().UTC().Truncate(24 * time.Hour).Unix()
	if c.budgetDay.Swap(today) != today {
		c.spentToday.Store(0)
	}
	if c.dailyBudget <= 0 {
		return true
	}
	return c.spentToday.Add(1) <= c.dailyBudget
}
