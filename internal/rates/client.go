// Package rates quotes currency conversions through the settlement
// marketplace's rate service. Quotes are best-effort: group deposits fall
// back to the offer currency alone when no USD rate is available.
package rates

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/winstay/settlement/internal/config"
)

type Client struct {
	cfg  config.RatesConfig
	http *http.Client
}

func NewClient(cfg config.RatesConfig) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

type quoteRequest struct {
	SourceAmount   string `json:"sourceAmount"`
	SourceCurrency string `json:"sourceCurrency"`
	TargetCurrency string `json:"targetCurrency"`
}

type quoteResponse struct {
	TargetAmount string `json:"targetAmount"`
}

// Quote converts amount from one currency to another, returning the target
// amount as a decimal string.
func (c *Client) Quote(ctx context.Context, amount, from, to string) (string, error) {
	body, err := json.Marshal(quoteRequest{
		SourceAmount:   amount,
		SourceCurrency: from,
		TargetCurrency: to,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/quotes", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.JWT)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("rates: quote %s->%s: %w", from, to, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("rates: quote %s->%s: status %d", from, to, resp.StatusCode)
	}

	var out quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("rates: decode quote: %w", err)
	}
	if out.TargetAmount == "" {
		return "", fmt.Errorf("rates: empty quote for %s->%s", from, to)
	}
	return out.TargetAmount, nil
}
