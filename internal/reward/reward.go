// Package reward records the customer's chosen reward option against a
// settled booking. Updates are queued because the choice can arrive before
// the booking record exists; the worker retries until the record shows up.
package reward

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/winstay/settlement/internal/queue"
	"github.com/winstay/settlement/internal/repository"
)

// QueueReward carries one update job per booking id.
const QueueReward = "reward"

// DealType selects which record the reward attaches to.
type DealType string

const (
	DealStandard DealType = "standard"
	DealGroup    DealType = "group"
)

const (
	defaultBackoff     = 30 * time.Second
	defaultMaxAttempts = 100
)

type DealStore interface {
	UpdateDealReward(ctx context.Context, offerID, rewardOption string) error
}

type GroupStore interface {
	UpdateGroupReward(ctx context.Context, requestID, rewardOption string) error
}

type Service struct {
	deals  DealStore
	groups GroupStore
	jobs   *queue.Client
	log    *zap.Logger
}

func NewService(deals DealStore, groups GroupStore, jobs *queue.Client, log *zap.Logger) *Service {
	return &Service{deals: deals, groups: groups, jobs: jobs, log: log.Named("reward")}
}

type updateData struct {
	DealType DealType `json:"dealType"`
	ID       string   `json:"id"`
	Choice   string   `json:"choice"`
}

// Enqueue queues a reward update keyed by the booking id. A second enqueue
// for the same id while one is pending is a no-op.
func (s *Service) Enqueue(ctx context.Context, dealType DealType, id, choice string) error {
	switch dealType {
	case DealStandard, DealGroup:
	default:
		return fmt.Errorf("reward: unknown deal type %q", dealType)
	}
	return s.jobs.Enqueue(ctx, QueueReward, id, updateData{
		DealType: dealType,
		ID:       id,
		Choice:   choice,
	}, queue.Options{
		Backoff:     defaultBackoff,
		MaxAttempts: defaultMaxAttempts,
	})
}

// HandleUpdate applies one queued reward choice. A missing record fails the
// attempt so the job retries; payment settlement may still be in flight.
func (s *Service) HandleUpdate(ctx context.Context, job *queue.Job) error {
	var data updateData
	if err := job.Bind(&data); err != nil {
		return fmt.Errorf("decode reward job: %w", err)
	}

	var err error
	switch data.DealType {
	case DealGroup:
		err = s.groups.UpdateGroupReward(ctx, data.ID, data.Choice)
	default:
		err = s.deals.UpdateDealReward(ctx, data.ID, data.Choice)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("reward: record %s not found yet: %w", data.ID, err)
		}
		return fmt.Errorf("apply reward for %s: %w", data.ID, err)
	}
	s.log.Info("reward option recorded",
		zap.String("id", data.ID),
		zap.String("deal_type", string(data.DealType)),
		zap.String("choice", data.Choice),
	)
	return nil
}

// HandleExhausted logs a reward choice that never found its record.
func (s *Service) HandleExhausted(_ context.Context, job *queue.Job) {
	var data updateData
	if err := job.Bind(&data); err != nil {
		s.log.Error("exhausted reward job with undecodable payload", zap.Error(err))
		return
	}
	s.log.Error("reward update abandoned, record never appeared",
		zap.String("id", data.ID),
		zap.String("deal_type", string(data.DealType)),
	)
}
