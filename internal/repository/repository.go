// Package repository persists offers, deals and group booking requests in
// Postgres. Records are stored as jsonb documents keyed by their subject id;
// mutations go through partial document merges so the escrow snapshot written
// at creation time is never rewritten.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var (
	// ErrNotFound distinguishes a missing record from a transport failure.
	ErrNotFound = errors.New("repository: not found")
	// ErrAlreadyExists reports a create against an id that already has a
	// record. Creates never silently overwrite.
	ErrAlreadyExists = errors.New("repository: already exists")
)

const schema = `
CREATE TABLE IF NOT EXISTS offers (
	id         text PRIMARY KEY,
	doc        jsonb NOT NULL,
	expiration timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS deals (
	offer_id   text PRIMARY KEY,
	doc        jsonb NOT NULL,
	status     text NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS group_requests (
	request_id text PRIMARY KEY,
	doc        jsonb NOT NULL,
	status     text NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS deals_status_idx ON deals (status);
CREATE INDEX IF NOT EXISTS group_requests_status_idx ON group_requests (status);
`

// NewPool connects to Postgres and applies the schema.
func NewPool(ctx context.Context, dsn string, log *zap.Logger) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	log.Info("postgres ready")
	return pool, nil
}
