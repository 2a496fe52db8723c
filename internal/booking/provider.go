package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/winstay/settlement/internal/config"
	"github.com/winstay/settlement/internal/models"
)

// Provider-reported reservation statuses.
const (
	ReservationConfirmed      = "CONFIRMED"
	ReservationCreationFailed = "CREATION_FAILED"
	ReservationCancelled      = "CANCELLED"
)

// ErrOrderNotFound reports that the provider has no order for the offer yet.
var ErrOrderNotFound = errors.New("provider: order not found")

// Reservation is the provider's view of one order.
type Reservation struct {
	Status                string `json:"status"`
	OrderID               string `json:"orderId"`
	SupplierReservationID string `json:"supplierReservationId"`
}

// ProviderClient drives the hotel provider proxy and the payment guarantee
// service that backs each reservation.
type ProviderClient struct {
	cfg  config.ProviderConfig
	http *http.Client
}

func NewProviderClient(cfg config.ProviderConfig) *ProviderClient {
	return &ProviderClient{
		cfg:  cfg,
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

// CreateGuarantee opens a travel-account guarantee for the amount the escrow
// payment covers and returns its id.
func (c *ProviderClient) CreateGuarantee(ctx context.Context, amount, currency string) (string, error) {
	payload := map[string]any{
		"currency":      currency,
		"amount":        amount,
		"receiverOrgId": c.cfg.ReceiverOrg,
		"customerReferences": map[string]string{
			"travellerFirstName": "-",
			"travellerLastName":  "-",
		},
	}
	var out struct {
		ID string `json:"id"`
	}
	err := c.post(ctx, c.cfg.GuaranteeURL+"/tokens/travel-account", c.cfg.GuaranteeJWT, payload, &out)
	if err != nil {
		return "", fmt.Errorf("provider: create guarantee: %w", err)
	}
	return out.ID, nil
}

type orderResponse struct {
	OrderID               string `json:"orderId"`
	SupplierReservationID string `json:"supplierReservationId"`
	Order                 struct {
		Status string `json:"status"`
	} `json:"order"`
}

func (r *orderResponse) reservation() *Reservation {
	return &Reservation{
		Status:                r.Order.Status,
		OrderID:               r.OrderID,
		SupplierReservationID: r.SupplierReservationID,
	}
}

// CreateReservation places the actual order with the hotel provider.
func (c *ProviderClient) CreateReservation(ctx context.Context, offerID, guaranteeID string, passengers map[string]models.Passenger) (*Reservation, error) {
	payload := map[string]any{
		"offerId":     offerID,
		"guaranteeId": guaranteeID,
		"passengers":  passengers,
	}
	var out orderResponse
	if err := c.post(ctx, c.cfg.ProxyURL+"/orders/createWithOffer", c.cfg.ClientJWT, payload, &out); err != nil {
		return nil, fmt.Errorf("provider: create reservation: %w", err)
	}
	return out.reservation(), nil
}

// GetReservationStatus looks up an existing order for the offer. Used before
// re-creating so a crashed retry never double-books.
func (c *ProviderClient) GetReservationStatus(ctx context.Context, offerID string) (*Reservation, error) {
	u := c.cfg.ProxyURL + "/orders?" + url.Values{"offerId": {offerID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.ClientJWT)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider: get reservation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest {
		return nil, ErrOrderNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider: get reservation: status %d", resp.StatusCode)
	}

	var out orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("provider: decode reservation: %w", err)
	}
	return out.reservation(), nil
}

func (c *ProviderClient) post(ctx context.Context, u, jwt string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+jwt)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
