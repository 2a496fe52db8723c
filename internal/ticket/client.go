// Package ticket opens tracking tickets in the external ticketing system.
// Today it is only used to log group booking requests for the operations team.
package ticket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/winstay/settlement/internal/config"
)

// Issue is the structured payload of one tracking ticket.
type Issue struct {
	Summary     string
	Description string
	// Fields carries system-specific custom fields (service id, network
	// name, check-in dates and the like), keyed by field id.
	Fields map[string]any
}

// Ref identifies a created ticket.
type Ref struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

type Client struct {
	cfg  config.TicketConfig
	http *http.Client
}

func NewClient(cfg config.TicketConfig) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateTicket opens one issue and returns its reference. With ticketing
// disabled in config it returns a sentinel ref so pipelines can proceed.
func (c *Client) CreateTicket(ctx context.Context, issue Issue) (Ref, error) {
	if c.cfg.Disabled {
		return Ref{ID: "disabled", Key: "disabled"}, nil
	}

	fields := map[string]any{
		"summary":     issue.Summary,
		"description": issue.Description,
		"project":     map[string]string{"id": c.cfg.ProjectID},
		"issuetype":   map[string]string{"id": c.cfg.IssueTypeID},
	}
	for k, v := range issue.Fields {
		fields[k] = v
	}

	body, err := json.Marshal(map[string]any{"fields": fields})
	if err != nil {
		return Ref{}, fmt.Errorf("ticket: encode issue: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/rest/api/3/issue", bytes.NewReader(body))
	if err != nil {
		return Ref{}, err
	}
	req.SetBasicAuth(c.cfg.Email, c.cfg.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Ref{}, fmt.Errorf("ticket: create issue: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Ref{}, fmt.Errorf("ticket: create issue: status %d: %s", resp.StatusCode, msg)
	}

	var ref Ref
	if err := json.NewDecoder(resp.Body).Decode(&ref); err != nil {
		return Ref{}, fmt.Errorf("ticket: decode response: %w", err)
	}
	return ref, nil
}
