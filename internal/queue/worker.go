package queue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Handler processes one job attempt. Returning an error schedules a retry at
// the job's fixed backoff until its attempt budget runs out.
type Handler func(ctx context.Context, job *Job) error

// WorkerOptions tune one queue's worker pool.
type WorkerOptions struct {
	// Concurrency is the number of parallel handler goroutines.
	Concurrency int
	// PromoteInterval is how often due delayed jobs move to the ready list.
	PromoteInterval time.Duration
	// OnExhausted runs once when a job burns its whole attempt budget.
	OnExhausted func(ctx context.Context, job *Job)
}

// Worker drains one queue. Per-key serialization holds because a key is
// claimed atomically out of the delayed set and carried by exactly one
// ready-list entry at a time.
type Worker struct {
	client  *Client
	queue   string
	handler Handler
	opts    WorkerOptions
	log     *zap.Logger
}

func NewWorker(client *Client, queue string, handler Handler, opts WorkerOptions, log *zap.Logger) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PromoteInterval <= 0 {
		opts.PromoteInterval = 250 * time.Millisecond
	}
	return &Worker{client: client, queue: queue, handler: handler, opts: opts, log: log}
}

// Run blocks until ctx is cancelled, then waits for in-flight handlers.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.promoteLoop(ctx)
	}()

	for i := 0; i < w.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.consumeLoop(ctx)
		}()
	}

	wg.Wait()
	w.log.Info("queue worker stopped", zap.String("queue", w.queue))
}

// promoteLoop moves jobs whose run_at has passed from the delayed set to the
// ready list. ZRem is the claim: only the caller that actually removed the
// member pushes it, so a job is never promoted twice.
func (w *Worker) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(w.opts.PromoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := strconv.FormatInt(time.Now().UnixMilli(), 10)
		due, err := w.client.rdb.ZRangeByScore(ctx, delayedKey(w.queue), &redis.ZRangeBy{
			Min: "-inf", Max: now, Count: 100,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				w.log.Error("queue: promote scan", zap.String("queue", w.queue), zap.Error(err))
			}
			continue
		}

		for _, key := range due {
			removed, err := w.client.rdb.ZRem(ctx, delayedKey(w.queue), key).Result()
			if err != nil || removed == 0 {
				continue
			}
			if err := w.client.rdb.RPush(ctx, readyKey(w.queue), key).Err(); err != nil {
				w.log.Error("queue: promote push", zap.String("key", key), zap.Error(err))
			}
		}
	}
}

func (w *Worker) consumeLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		res, err := w.client.rdb.BLPop(ctx, time.Second, readyKey(w.queue)).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			w.log.Error("queue: blpop", zap.String("queue", w.queue), zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		// res[0] = list key, res[1] = job key
		w.runJob(ctx, res[1])
	}
}

func (w *Worker) runJob(ctx context.Context, key string) {
	jk := jobKey(w.queue, key)
	vals, err := w.client.rdb.HGetAll(ctx, jk).Result()
	if err != nil {
		w.log.Error("queue: load job", zap.String("key", key), zap.Error(err))
		return
	}
	if len(vals) == 0 {
		// Removed while waiting in the ready list; nothing to do.
		return
	}

	attempt, err := w.client.rdb.HIncrBy(ctx, jk, "attempts", 1).Result()
	if err != nil {
		w.log.Error("queue: incr attempts", zap.String("key", key), zap.Error(err))
		return
	}

	job := w.client.jobFromMap(w.queue, key, vals)
	job.Attempt = int(attempt)

	handlerErr := w.handler(ctx, job)

	if handlerErr == nil {
		if job.rescheduleIn > 0 {
			runAt := time.Now().Add(job.rescheduleIn)
			if err := w.client.rdb.ZAdd(ctx, delayedKey(w.queue), redis.Z{
				Score:  float64(runAt.UnixMilli()),
				Member: key,
			}).Err(); err != nil {
				w.log.Error("queue: reschedule", zap.String("key", key), zap.Error(err))
			}
			return
		}
		if err := w.client.rdb.Del(ctx, jk).Err(); err != nil {
			w.log.Error("queue: complete", zap.String("key", key), zap.Error(err))
		}
		return
	}

	maxAttempts, _ := strconv.Atoi(vals["max_attempts"])
	if maxAttempts > 0 && job.Attempt >= maxAttempts {
		w.log.Error("queue: retry budget exhausted",
			zap.String("queue", w.queue),
			zap.String("key", key),
			zap.Int("attempts", job.Attempt),
			zap.Error(handlerErr),
		)
		if w.opts.OnExhausted != nil {
			w.opts.OnExhausted(ctx, job)
		}
		if err := w.client.rdb.Del(ctx, jk).Err(); err != nil {
			w.log.Error("queue: drop exhausted job", zap.String("key", key), zap.Error(err))
		}
		return
	}

	backoffMs, _ := strconv.ParseInt(vals["backoff_ms"], 10, 64)
	runAt := time.Now().Add(time.Duration(backoffMs) * time.Millisecond)
	if err := w.client.rdb.ZAdd(ctx, delayedKey(w.queue), redis.Z{
		Score:  float64(runAt.UnixMilli()),
		Member: key,
	}).Err(); err != nil {
		w.log.Error("queue: schedule retry", zap.String("key", key), zap.Error(err))
	}
}
