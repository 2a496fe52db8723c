package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func testLogger() *zap.Logger { return zap.NewNop() }

func newTestClient(t *testing.T) (*Client, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewClient(rdb, zap.NewNop()), rdb
}

type testPayload struct {
	Value string `json:"value"`
}

func TestEnqueue_Idempotent(t *testing.T) {
	c, rdb := newTestClient(t)
	ctx := context.Background()

	if err := c.Enqueue(ctx, "q", "job-1", testPayload{Value: "first"}, Options{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// Second enqueue for the same key must not replace the payload.
	if err := c.Enqueue(ctx, "q", "job-1", testPayload{Value: "second"}, Options{}); err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}

	job, err := c.GetJob(ctx, "q", "job-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	var p testPayload
	if err := job.Bind(&p); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if p.Value != "first" {
		t.Errorf("payload = %q, want the original %q", p.Value, "first")
	}

	n, err := rdb.ZCard(ctx, delayedKey("q")).Result()
	if err != nil {
		t.Fatalf("zcard: %v", err)
	}
	if n != 1 {
		t.Errorf("delayed set holds %d entries, want 1", n)
	}
}

func TestEnqueue_DelayScheduling(t *testing.T) {
	c, rdb := newTestClient(t)
	ctx := context.Background()

	before := time.Now().Add(time.Minute).UnixMilli()
	if err := c.Enqueue(ctx, "q", "job-1", testPayload{}, Options{Delay: time.Minute}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	after := time.Now().Add(time.Minute).UnixMilli()

	score, err := rdb.ZScore(ctx, delayedKey("q"), "job-1").Result()
	if err != nil {
		t.Fatalf("zscore: %v", err)
	}
	if int64(score) < before || int64(score) > after {
		t.Errorf("run-at score %d outside [%d, %d]", int64(score), before, after)
	}
}

func TestEnqueue_CreatesHashAndScheduleTogether(t *testing.T) {
	c, rdb := newTestClient(t)
	ctx := context.Background()

	if err := c.Enqueue(ctx, "q", "job-1", testPayload{Value: "v"}, Options{Delay: time.Second}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// A job hash without a delayed-set entry would be a no-op forever:
	// never promoted, yet blocking every future enqueue of its key.
	exists, err := rdb.Exists(ctx, jobKey("q", "job-1")).Result()
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists != 1 {
		t.Error("job hash missing after enqueue")
	}
	if _, err := rdb.ZScore(ctx, delayedKey("q"), "job-1").Result(); err != nil {
		t.Errorf("job not in the delayed set after enqueue: %v", err)
	}
}

func TestEnqueue_DuplicateKeepsAttemptCount(t *testing.T) {
	c, rdb := newTestClient(t)
	ctx := context.Background()

	if err := c.Enqueue(ctx, "q", "job-1", testPayload{Value: "v"}, Options{MaxAttempts: 5}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// Job mid-flight: two attempts already burned.
	if err := rdb.HSet(ctx, jobKey("q", "job-1"), "attempts", 2).Err(); err != nil {
		t.Fatalf("hset: %v", err)
	}

	if err := c.Enqueue(ctx, "q", "job-1", testPayload{Value: "other"}, Options{MaxAttempts: 9}); err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}

	vals, err := rdb.HGetAll(ctx, jobKey("q", "job-1")).Result()
	if err != nil {
		t.Fatalf("hgetall: %v", err)
	}
	if vals["attempts"] != "2" {
		t.Errorf("attempts = %s, want untouched 2", vals["attempts"])
	}
	if vals["max_attempts"] != "5" {
		t.Errorf("max_attempts = %s, want original 5", vals["max_attempts"])
	}
}

func TestGetJob_NotFound(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.GetJob(context.Background(), "q", "absent")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("err = %v, want ErrJobNotFound", err)
	}
}

func TestRemove_DropsEverywhere(t *testing.T) {
	c, rdb := newTestClient(t)
	ctx := context.Background()

	if err := c.Enqueue(ctx, "q", "job-1", testPayload{}, Options{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// Simulate the job already promoted to the ready list as well.
	if err := rdb.RPush(ctx, readyKey("q"), "job-1").Err(); err != nil {
		t.Fatalf("rpush: %v", err)
	}

	if err := c.Remove(ctx, "q", "job-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if _, err := c.GetJob(ctx, "q", "job-1"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("job hash survived remove: %v", err)
	}
	if n, _ := rdb.ZCard(ctx, delayedKey("q")).Result(); n != 0 {
		t.Errorf("delayed set holds %d entries after remove", n)
	}
	if n, _ := rdb.LLen(ctx, readyKey("q")).Result(); n != 0 {
		t.Errorf("ready list holds %d entries after remove", n)
	}
}

func TestJobUpdate_PersistsPayload(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	if err := c.Enqueue(ctx, "q", "job-1", testPayload{Value: "v1"}, Options{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := c.GetJob(ctx, "q", "job-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if err := job.Update(ctx, testPayload{Value: "v2"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	reloaded, err := c.GetJob(ctx, "q", "job-1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	var p testPayload
	if err := reloaded.Bind(&p); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if p.Value != "v2" {
		t.Errorf("payload = %q, want v2", p.Value)
	}
}

func TestKeys_ListsPendingJobs(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if err := c.Enqueue(ctx, "q", key, testPayload{}, Options{}); err != nil {
			t.Fatalf("enqueue %s: %v", key, err)
		}
	}
	// Jobs in other queues must not leak into the listing.
	if err := c.Enqueue(ctx, "other", "d", testPayload{}, Options{}); err != nil {
		t.Fatalf("enqueue other: %v", err)
	}

	keys, err := c.Keys(ctx, "q")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("got %d keys, want 3: %v", len(keys), keys)
	}
	seen := map[string]bool{}
	for _, k := range keys {
		seen[k] = true
	}
	for _, want := range []string{"a", "b", "c"} {
		if !seen[want] {
			t.Errorf("missing key %q in %v", want, keys)
		}
	}
}
