package reward

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/winstay/settlement/internal/queue"
	"github.com/winstay/settlement/internal/repository"
)

type fakeDeals struct {
	mu      sync.Mutex
	rewards map[string]string
	known   map[string]bool
}

func (f *fakeDeals) UpdateDealReward(_ context.Context, offerID, rewardOption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known[offerID] {
		return repository.ErrNotFound
	}
	f.rewards[offerID] = rewardOption
	return nil
}

type fakeGroups struct {
	mu      sync.Mutex
	rewards map[string]string
	known   map[string]bool
}

func (f *fakeGroups) UpdateGroupReward(_ context.Context, requestID, rewardOption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known[requestID] {
		return repository.ErrNotFound
	}
	f.rewards[requestID] = rewardOption
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeDeals, *fakeGroups, *queue.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	jobs := queue.NewClient(rdb, zap.NewNop())
	deals := &fakeDeals{rewards: map[string]string{}, known: map[string]bool{}}
	groups := &fakeGroups{rewards: map[string]string{}, known: map[string]bool{}}
	return NewService(deals, groups, jobs, zap.NewNop()), deals, groups, jobs
}

func rewardJob(t *testing.T, jobs *queue.Client, id string) *queue.Job {
	t.Helper()
	job, err := jobs.GetJob(context.Background(), QueueReward, id)
	if err != nil {
		t.Fatalf("get reward job: %v", err)
	}
	return job
}

func TestHandleUpdate_RetriesUntilRecordExists(t *testing.T) {
	svc, deals, _, jobs := newTestService(t)
	ctx := context.Background()

	if err := svc.Enqueue(ctx, DealStandard, "offer-1", "points"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job := rewardJob(t, jobs, "offer-1")

	// The booking record has not landed yet; the attempt must fail so the
	// queue retries it.
	if err := svc.HandleUpdate(ctx, job); err == nil {
		t.Fatal("expected error while the record is missing")
	}

	deals.mu.Lock()
	deals.known["offer-1"] = true
	deals.mu.Unlock()

	if err := svc.HandleUpdate(ctx, job); err != nil {
		t.Fatalf("retry after record exists: %v", err)
	}
	deals.mu.Lock()
	got := deals.rewards["offer-1"]
	deals.mu.Unlock()
	if got != "points" {
		t.Errorf("reward = %q, want points", got)
	}
}

func TestHandleUpdate_GroupReward(t *testing.T) {
	svc, _, groups, jobs := newTestService(t)
	ctx := context.Background()

	groups.mu.Lock()
	groups.known["req-1"] = true
	groups.mu.Unlock()

	if err := svc.Enqueue(ctx, DealGroup, "req-1", "airmiles"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := svc.HandleUpdate(ctx, rewardJob(t, jobs, "req-1")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	groups.mu.Lock()
	got := groups.rewards["req-1"]
	groups.mu.Unlock()
	if got != "airmiles" {
		t.Errorf("reward = %q, want airmiles", got)
	}
}

func TestEnqueue_RejectsUnknownDealType(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	if err := svc.Enqueue(context.Background(), DealType("bogus"), "id", "x"); err == nil {
		t.Error("expected error for unknown deal type")
	}
}

func TestEnqueue_IdempotentPerID(t *testing.T) {
	svc, _, _, jobs := newTestService(t)
	ctx := context.Background()

	if err := svc.Enqueue(ctx, DealStandard, "offer-1", "points"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// A second choice while one is queued must not replace the first.
	if err := svc.Enqueue(ctx, DealStandard, "offer-1", "cashback"); err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}

	var data struct {
		Choice string `json:"choice"`
	}
	if err := rewardJob(t, jobs, "offer-1").Bind(&data); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if data.Choice != "points" {
		t.Errorf("choice = %q, want the first enqueue to win", data.Choice)
	}
}
