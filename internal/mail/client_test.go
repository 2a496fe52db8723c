package mail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/winstay/settlement/internal/config"
)

type sendPayload struct {
	From struct {
		Email string `json:"email"`
	} `json:"from"`
	Personalizations []struct {
		To []struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		} `json:"to"`
		Data map[string]any `json:"dynamic_template_data"`
	} `json:"personalizations"`
	TemplateID string `json:"template_id"`
}

func testClient(cfg config.MailConfig, url string) *Client {
	c := NewClient(cfg)
	c.sendURL = url
	return c
}

func TestSend(t *testing.T) {
	var got sendPayload
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got) //nolint:errcheck
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := testClient(config.MailConfig{APIKey: "key", From: "noreply@example.com"}, srv.URL)
	err := c.Send(context.Background(), "tmpl-1", "guest@example.com", "Guest", map[string]any{"orderId": "order-1"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if gotAuth != "Bearer key" {
		t.Errorf("auth = %q", gotAuth)
	}
	if got.TemplateID != "tmpl-1" {
		t.Errorf("template = %q", got.TemplateID)
	}
	if got.From.Email != "noreply@example.com" {
		t.Errorf("from = %q", got.From.Email)
	}
	to := got.Personalizations[0].To[0]
	if to.Email != "guest@example.com" || to.Name != "Guest" {
		t.Errorf("to = %+v", to)
	}
	if got.Personalizations[0].Data["orderId"] != "order-1" {
		t.Errorf("template data = %v", got.Personalizations[0].Data)
	}
}

func TestSend_OverrideRecipient(t *testing.T) {
	var got sendPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got) //nolint:errcheck
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := testClient(config.MailConfig{OverrideRecipient: "staging@example.com"}, srv.URL)
	if err := c.Send(context.Background(), "tmpl-1", "guest@example.com", "Guest", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.Personalizations[0].To[0].Email != "staging@example.com" {
		t.Errorf("recipient = %q, want the override", got.Personalizations[0].To[0].Email)
	}
}

func TestSend_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := testClient(config.MailConfig{}, srv.URL)
	if err := c.Send(context.Background(), "tmpl-1", "guest@example.com", "", nil); err == nil {
		t.Error("expected error on 401 response")
	}
}
