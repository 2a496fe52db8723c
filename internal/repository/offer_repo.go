package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/winstay/settlement/internal/models"
)

type OfferRepo struct {
	pool *pgxpool.Pool
}

func NewOfferRepo(pool *pgxpool.Pool) *OfferRepo {
	return &OfferRepo{pool: pool}
}

func (r *OfferRepo) GetOffer(ctx context.Context, id string) (*models.Offer, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, `SELECT doc FROM offers WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get offer %s: %w", id, err)
	}
	var offer models.Offer
	if err := json.Unmarshal(doc, &offer); err != nil {
		return nil, fmt.Errorf("decode offer %s: %w", id, err)
	}
	return &offer, nil
}

// UpsertOffer stores a priced offer. Offers are immutable once priced, but
// the search layer may re-submit the same snapshot.
func (r *OfferRepo) UpsertOffer(ctx context.Context, offer *models.Offer) error {
	doc, err := json.Marshal(offer)
	if err != nil {
		return fmt.Errorf("encode offer %s: %w", offer.ID, err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO offers (id, doc, expiration) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, offer.ID, doc, offer.Expiration)
	if err != nil {
		return fmt.Errorf("upsert offer %s: %w", offer.ID, err)
	}
	return nil
}
