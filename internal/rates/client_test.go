package rates

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/winstay/settlement/internal/config"
)

func TestQuote(t *testing.T) {
	var got quoteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quotes" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got) //nolint:errcheck
		json.NewEncoder(w).Encode(quoteResponse{TargetAmount: "108.50"}) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient(config.RatesConfig{BaseURL: srv.URL, JWT: "jwt"})
	amount, err := c.Quote(context.Background(), "100.00", "EUR", "USD")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if amount != "108.50" {
		t.Errorf("amount = %q, want 108.50", amount)
	}
	if got.SourceAmount != "100.00" || got.SourceCurrency != "EUR" || got.TargetCurrency != "USD" {
		t.Errorf("request = %+v", got)
	}
}

func TestQuote_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no rate", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(config.RatesConfig{BaseURL: srv.URL})
	if _, err := c.Quote(context.Background(), "100.00", "XXX", "USD"); err == nil {
		t.Error("expected error on 503 response")
	}
}

func TestQuote_EmptyAmountRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(quoteResponse{}) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient(config.RatesConfig{BaseURL: srv.URL})
	if _, err := c.Quote(context.Background(), "100.00", "EUR", "USD"); err == nil {
		t.Error("expected error on an empty quote")
	}
}
