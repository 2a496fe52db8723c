// Package mail sends templated transactional email.
package mail

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

const defaultSendURL = "https://api.sendgrid.com/v3/mail/send"

type Client struct {
	cfg     config.MailConfig
	sendURL string
	http    *http.Client
}

func NewClient(cfg config.MailConfig) *Client {
	return &Client{
		cfg:     cfg,
		sendURL: defaultSendURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Send delivers one templated message. An override recipient in config
// redirects all mail (staging environments).
func (c *Client) Send(ctx context.Context, templateID, recipient, recipientName string, data map[string]any) error {
	if c.cfg.OverrideRecipient != "" {
		recipient = c.cfg.OverrideRecipient
	}

	payload := map[string]any{
		"from": map[string]string{"email": c.cfg.From},
		"personalizations": []map[string]any{
			{
				"to":                    []map[string]string{{"email": recipient, "name": recipientName}},
				"dynamic_template_data": data,
			},
		},
		"template_id": templateID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("mail: encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sendURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mail: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("mail: send: status %d: %s", resp.StatusCode, msg)
	}
	return nil
}
