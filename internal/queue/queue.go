// Package queue implements a small durable job queue on Redis: delayed
// delivery, fixed-backoff retries, and idempotent enqueue per job key.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrJobNotFound = errors.New("queue: job not found")

// Options control scheduling for a single enqueue.
type Options struct {
	// Delay postpones the first run.
	Delay time.Duration
	// MaxAttempts caps handler retries; 0 means unlimited.
	MaxAttempts int
	// Backoff is the fixed delay between failed attempts.
	Backoff time.Duration
}

// Job is one unit of work handed to a handler. Payload is the JSON blob
// stored at enqueue (or last Update) time.
type Job struct {
	Queue      string
	Key        string
	Payload    []byte
	Attempt    int
	EnqueuedAt time.Time

	client       *Client
	rescheduleIn time.Duration
}

// Bind unmarshals the payload into v.
func (j *Job) Bind(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// Update persists a new payload for the job, so the next attempt resumes
// from the progressed state instead of the original one.
func (j *Job) Update(ctx context.Context, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("queue: marshal payload: %w", err)
	}
	j.Payload = raw
	return j.client.rdb.HSet(ctx, jobKey(j.Queue, j.Key), "payload", string(raw)).Err()
}

// Reschedule asks the worker to run the job again after d, without counting
// the current run as a failure. Used for adaptive retry cadences.
func (j *Job) Reschedule(d time.Duration) {
	j.rescheduleIn = d
}

// Client enqueues and inspects jobs. One Client may serve many queues.
type Client struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewClient(rdb *redis.Client, log *zap.Logger) *Client {
	return &Client{rdb: rdb, log: log}
}

func jobKey(queue, key string) string     { return "queue:" + queue + ":job:" + key }
func delayedKey(queue string) string      { return "queue:" + queue + ":delayed" }
func readyKey(queue string) string        { return "queue:" + queue + ":ready" }
func jobKeyPattern(queue string) string   { return "queue:" + queue + ":job:*" }
func jobKeyPrefixLen(queue string) int    { return len("queue:" + queue + ":job:") }

// enqueueScript creates the job hash and its delayed-set entry in one atomic
// step, so a job can never exist without being scheduled. Returns 0 when the
// key already has a pending job.
var enqueueScript = redis.NewScript(`
if redis.call("HSETNX", KEYS[1], "key", ARGV[1]) == 0 then
	return 0
end
redis.call("HSET", KEYS[1],
	"payload", ARGV[2],
	"attempts", 0,
	"max_attempts", ARGV[3],
	"backoff_ms", ARGV[4],
	"enqueued_at", ARGV[5])
redis.call("ZADD", KEYS[2], ARGV[6], ARGV[1])
return 1
`)

// Enqueue schedules a job. Enqueueing a key that already has a pending job is
// a no-op, so callers can enqueue blindly without creating duplicates.
func (c *Client) Enqueue(ctx context.Context, queue, key string, payload any, opts Options) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("queue: marshal payload: %w", err)
	}

	now := time.Now()
	runAt := now.Add(opts.Delay)
	err = enqueueScript.Run(ctx, c.rdb,
		[]string{jobKey(queue, key), delayedKey(queue)},
		key, string(raw),
		opts.MaxAttempts,
		opts.Backoff.Milliseconds(),
		now.UnixMilli(),
		runAt.UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("queue: enqueue %s/%s: %w", queue, key, err)
	}
	return nil
}

// GetJob loads a pending job by key.
func (c *Client) GetJob(ctx context.Context, queue, key string) (*Job, error) {
	vals, err := c.rdb.HGetAll(ctx, jobKey(queue, key)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: get %s/%s: %w", queue, key, err)
	}
	if len(vals) == 0 {
		return nil, ErrJobNotFound
	}
	return c.jobFromMap(queue, key, vals), nil
}

// Remove drops a job entirely, wherever it currently sits.
func (c *Client) Remove(ctx context.Context, queue, key string) error {
	pipe := c.rdb.Pipeline()
	pipe.Del(ctx, jobKey(queue, key))
	pipe.ZRem(ctx, delayedKey(queue), key)
	pipe.LRem(ctx, readyKey(queue), 0, key)
	_, err := pipe.Exec(ctx)
	return err
}

// Keys lists the keys of all pending jobs in a queue (startup recovery).
func (c *Client) Keys(ctx context.Context, queue string) ([]string, error) {
	var keys []string
	var cursor uint64
	prefixLen := jobKeyPrefixLen(queue)
	for {
		batch, next, err := c.rdb.Scan(ctx, cursor, jobKeyPattern(queue), 100).Result()
		if err != nil {
			return nil, fmt.Errorf("queue: scan %s: %w", queue, err)
		}
		for _, k := range batch {
			keys = append(keys, k[prefixLen:])
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return keys, nil
}

func (c *Client) jobFromMap(queue, key string, m map[string]string) *Job {
	attempts, _ := strconv.Atoi(m["attempts"])
	enqueuedAt, _ := strconv.ParseInt(m["enqueued_at"], 10, 64)
	return &Job{
		Queue:      queue,
		Key:        key,
		Payload:    []byte(m["payload"]),
		Attempt:    attempts,
		EnqueuedAt: time.UnixMilli(enqueuedAt),
		client:     c,
	}
}
