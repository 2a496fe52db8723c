package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/winstay/settlement/internal/models"
)

type DealRepo struct {
	pool *pgxpool.Pool
}

func NewDealRepo(pool *pgxpool.Pool) *DealRepo {
	return &DealRepo{pool: pool}
}

// CreateDeal persists a new deal. A second create for the same offer id
// returns ErrAlreadyExists; the stored record stays untouched.
func (r *DealRepo) CreateDeal(ctx context.Context, deal *models.Deal) error {
	if deal.CreatedAt.IsZero() {
		deal.CreatedAt = time.Now()
	}
	doc, err := json.Marshal(deal)
	if err != nil {
		return fmt.Errorf("encode deal %s: %w", deal.OfferID, err)
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO deals (offer_id, doc, status, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (offer_id) DO NOTHING
	`, deal.OfferID, doc, string(deal.Status), deal.CreatedAt)
	if err != nil {
		return fmt.Errorf("create deal %s: %w", deal.OfferID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (r *DealRepo) GetDeal(ctx context.Context, offerID string) (*models.Deal, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, `SELECT doc FROM deals WHERE offer_id = $1`, offerID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get deal %s: %w", offerID, err)
	}
	var deal models.Deal
	if err := json.Unmarshal(doc, &deal); err != nil {
		return nil, fmt.Errorf("decode deal %s: %w", offerID, err)
	}
	return &deal, nil
}

// UpdateDealStatus changes status and message only; the escrow snapshot and
// offer snapshot are left as created.
func (r *DealRepo) UpdateDealStatus(ctx context.Context, offerID string, status models.DealStatus, message string) error {
	patch, _ := json.Marshal(map[string]any{"status": status, "message": message})
	return r.patch(ctx, offerID, status, patch)
}

// UpdateDealBooking records a confirmed reservation.
func (r *DealRepo) UpdateDealBooking(ctx context.Context, offerID, orderID, supplierReservationID, contactEmail string) error {
	patch, _ := json.Marshal(map[string]any{
		"status":                models.DealBooked,
		"message":               "",
		"orderId":               orderID,
		"supplierReservationId": supplierReservationID,
		"contactEmail":          contactEmail,
	})
	return r.patch(ctx, offerID, models.DealBooked, patch)
}

func (r *DealRepo) UpdateDealReward(ctx context.Context, offerID, rewardOption string) error {
	patch, _ := json.Marshal(map[string]any{"rewardOption": rewardOption})
	tag, err := r.pool.Exec(ctx, `
		UPDATE deals SET doc = doc || $2::jsonb WHERE offer_id = $1
	`, offerID, patch)
	if err != nil {
		return fmt.Errorf("update deal reward %s: %w", offerID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *DealRepo) patch(ctx context.Context, offerID string, status models.DealStatus, patch []byte) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE deals SET doc = doc || $2::jsonb, status = $3 WHERE offer_id = $1
	`, offerID, patch, string(status))
	if err != nil {
		return fmt.Errorf("update deal %s: %w", offerID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
