package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/winstay/settlement/internal/config"
	"github.com/winstay/settlement/internal/escrow"
	"github.com/winstay/settlement/internal/models"
)

type GroupRepo struct {
	pool *pgxpool.Pool
}

func NewGroupRepo(pool *pgxpool.Pool) *GroupRepo {
	return &GroupRepo{pool: pool}
}

// CreateGroupRequest persists a request record; re-creating an existing id is
// ErrAlreadyExists so a re-entered pipeline stage stays a no-op.
func (r *GroupRepo) CreateGroupRequest(ctx context.Context, req *models.GroupRequest) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	doc, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode group request %s: %w", req.RequestID, err)
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO group_requests (request_id, doc, status, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (request_id) DO NOTHING
	`, req.RequestID, doc, string(req.Status), req.CreatedAt)
	if err != nil {
		return fmt.Errorf("create group request %s: %w", req.RequestID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (r *GroupRepo) GetGroupRequest(ctx context.Context, requestID string) (*models.GroupRequest, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, `SELECT doc FROM group_requests WHERE request_id = $1`, requestID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group request %s: %w", requestID, err)
	}
	var req models.GroupRequest
	if err := json.Unmarshal(doc, &req); err != nil {
		return nil, fmt.Errorf("decode group request %s: %w", requestID, err)
	}
	return &req, nil
}

func (r *GroupRepo) UpdateGroupStatus(ctx context.Context, requestID string, status models.GroupStatus) error {
	patch, _ := json.Marshal(map[string]any{"status": status})
	return r.patch(ctx, requestID, string(status), patch)
}

// UpdateGroupBlockchainInfo replaces the payment-related fields after a
// successful re-validation of a previously failed deposit.
func (r *GroupRepo) UpdateGroupBlockchainInfo(
	ctx context.Context,
	requestID string,
	status models.GroupStatus,
	network *config.Network,
	rec *escrow.Record,
	userAddresses []string,
	paymentCurrency string,
	errorMessage string,
) error {
	patch, _ := json.Marshal(map[string]any{
		"status":          status,
		"network":         network,
		"escrow":          rec,
		"userAddresses":   userAddresses,
		"paymentCurrency": paymentCurrency,
		"errorMessage":    errorMessage,
	})
	return r.patch(ctx, requestID, string(status), patch)
}

func (r *GroupRepo) UpdateGroupTicket(ctx context.Context, requestID string, status models.GroupStatus, ticketRef string) error {
	patch, _ := json.Marshal(map[string]any{"status": status, "ticketRef": ticketRef})
	return r.patch(ctx, requestID, string(status), patch)
}

func (r *GroupRepo) UpdateGroupReward(ctx context.Context, requestID, rewardOption string) error {
	patch, _ := json.Marshal(map[string]any{"rewardOption": rewardOption})
	tag, err := r.pool.Exec(ctx, `
		UPDATE group_requests SET doc = doc || $2::jsonb WHERE request_id = $1
	`, requestID, patch)
	if err != nil {
		return fmt.Errorf("update group reward %s: %w", requestID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GroupRepo) patch(ctx context.Context, requestID, status string, patch []byte) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE group_requests SET doc = doc || $2::jsonb, status = $3 WHERE request_id = $1
	`, requestID, patch, status)
	if err != nil {
		return fmt.Errorf("update group request %s: %w", requestID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
