package redisbroker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Benrobo/queueflow"
)

// claimScript reclaims expired leases, then atomically moves the next due job
// id from the waiting zset to the active zset under the new lease deadline.
// Returns the claimed id, or false when nothing is due.
var claimScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local lease = tonumber(ARGV[2])
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now)
for _, id in ipairs(expired) do
	redis.call('ZREM', KEYS[2], id)
	redis.call('ZADD', KEYS[1], now, id)
end
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', now, 'LIMIT', 0, 1)
if #due == 0 then
	return false
end
redis.call('ZREM', KEYS[1], due[1])
redis.call('ZADD', KEYS[2], now + lease, due[1])
return due[1]
`)

// rescheduleScript advances a due repeatable entry to its next fire time.
// Exactly one concurrent claimer wins a given fire; losers see 0.
var rescheduleScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not score then
	return 0
end
if tonumber(score) > tonumber(ARGV[2]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
return 1
`)

// Broker implements queueflow.Broker on Redis.
type Broker struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    *slog.Logger
}

// New wraps an already-connected Redis client as a queueflow broker.
func New(client redis.UniversalClient, opts ...Option) *Broker {
	b := &Broker{
		client:    client,
		keyPrefix: "queueflow",
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broker) jobKey(queue, id string) string {
	return fmt.Sprintf("%s:%s:job:%s", b.keyPrefix, queue, id)
}

func (b *Broker) queueKey(queue, suffix string) string {
	return fmt.Sprintf("%s:%s:%s", b.keyPrefix, queue, suffix)
}

// Enqueue persists the job body and adds its id to the waiting zset, scored
// by the time it becomes eligible. A job id already present on the queue is
// treated as an idempotency key and dropped.
func (b *Broker) Enqueue(ctx context.Context, job *queueflow.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %q: %w", job.ID, err)
	}

	created, err := b.client.SetNX(ctx, b.jobKey(job.Queue, job.ID), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store job %q: %w", job.ID, err)
	}
	if !created {
		return nil
	}

	score := float64(job.AvailableAt.UnixMilli())
	if err := b.client.ZAdd(ctx, b.queueKey(job.Queue, "waiting"),
		redis.Z{Score: score, Member: job.ID}).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job %q: %w", job.ID, err)
	}
	return nil
}

// Claim materializes due repeatable entries, then runs the claim script and
// loads the claimed job body. Returns queueflow.ErrNoJob when nothing is due.
func (b *Broker) Claim(ctx context.Context, queue, owner string, lease time.Duration) (*queueflow.Job, error) {
	if err := b.materializeDue(ctx, queue); err != nil {
		// Materialization failures must not starve regular deliveries.
		b.logger.Error("failed to materialize repeatable jobs",
			slog.String("queue", queue),
			slog.String("error", err.Error()))
	}

	now := time.Now()
	id, err := claimScript.Run(ctx, b.client,
		[]string{b.queueKey(queue, "waiting"), b.queueKey(queue, "active")},
		now.UnixMilli(), lease.Milliseconds(),
	).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, queueflow.ErrNoJob
		}
		return nil, fmt.Errorf("failed to claim on queue %q: %w", queue, err)
	}

	job, err := b.loadJob(ctx, queue, id)
	if err != nil {
		return nil, err
	}

	// The claimer owns the job while it is leased, so this write cannot race
	// with another consumer.
	job.Attempts++
	if err := b.storeJob(ctx, job); err != nil {
		return nil, err
	}

	return job, nil
}

// materializeDue turns due repeatable entries into one-shot jobs. The fire is
// won via rescheduleScript, so only one concurrent claimer enqueues a job for
// a given fire time.
func (b *Broker) materializeDue(ctx context.Context, queue string) error {
	nextKey := b.queueKey(queue, "repeat:next")
	now := time.Now()

	due, err := b.client.ZRangeByScoreWithScores(ctx, nextKey, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now.UnixMilli()), Count: 16,
	}).Result()
	if err != nil {
		return err
	}

	for _, z := range due {
		key, ok := z.Member.(string)
		if !ok {
			continue
		}

		raw, err := b.client.HGet(ctx, b.queueKey(queue, "repeat"), key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Registration was removed; drop the orphaned schedule.
				_ = b.client.ZRem(ctx, nextKey, key).Err()
				continue
			}
			return err
		}

		var entry queueflow.RepeatableJob
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return fmt.Errorf("corrupt repeatable entry %q on queue %q: %w", key, queue, err)
		}

		fireAt := time.UnixMilli(int64(z.Score))
		next, err := queueflow.NextCronRun(entry.Cron, entry.Timezone, now)
		if err != nil {
			return err
		}

		won, err := rescheduleScript.Run(ctx, b.client, []string{nextKey},
			key, now.UnixMilli(), next.UnixMilli()).Int()
		if err != nil {
			return err
		}
		if won == 0 {
			continue
		}

		job := &queueflow.Job{
			ID:          fmt.Sprintf("%s:repeat:%d", entry.Key, fireAt.UnixMilli()),
			TaskID:      entry.Name,
			Queue:       queue,
			MaxAttempts: 1,
			Backoff:     queueflow.Backoff{Kind: queueflow.BackoffFixed, Delay: time.Second},
			EnqueuedAt:  now,
			AvailableAt: now,
		}
		if err := b.Enqueue(ctx, job); err != nil {
			return err
		}
	}

	return nil
}

// Complete drops the job from the active zset and deletes its body.
func (b *Broker) Complete(ctx context.Context, queue, jobID string) error {
	pipe := b.client.TxPipeline()
	pipe.ZRem(ctx, b.queueKey(queue, "active"), jobID)
	pipe.Del(ctx, b.jobKey(queue, jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to complete job %q: %w", jobID, err)
	}
	return nil
}

// Fail records the failure on the job body, then either reschedules it with
// its own backoff or parks it in the dead zset once attempts are exhausted.
func (b *Broker) Fail(ctx context.Context, queue, jobID, reason string) error {
	job, err := b.loadJob(ctx, queue, jobID)
	if err != nil {
		return err
	}

	job.LastError = reason

	pipe := b.client.TxPipeline()
	pipe.ZRem(ctx, b.queueKey(queue, "active"), jobID)

	if job.Attempts >= job.MaxAttempts {
		pipe.ZAdd(ctx, b.queueKey(queue, "dead"),
			redis.Z{Score: float64(time.Now().UnixMilli()), Member: jobID})
	} else {
		job.AvailableAt = time.Now().Add(job.Backoff.NextDelay(job.Attempts))
		pipe.ZAdd(ctx, b.queueKey(queue, "waiting"),
			redis.Z{Score: float64(job.AvailableAt.UnixMilli()), Member: jobID})
	}

	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %q: %w", jobID, err)
	}
	pipe.Set(ctx, b.jobKey(queue, jobID), raw, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record failure of job %q: %w", jobID, err)
	}
	return nil
}

// ListRepeatables returns every recurring registration on the queue.
func (b *Broker) ListRepeatables(ctx context.Context, queue string) ([]queueflow.RepeatableJob, error) {
	entries, err := b.client.HGetAll(ctx, b.queueKey(queue, "repeat")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list repeatables on queue %q: %w", queue, err)
	}

	out := make([]queueflow.RepeatableJob, 0, len(entries))
	for key, raw := range entries {
		var entry queueflow.RepeatableJob
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("corrupt repeatable entry %q on queue %q: %w", key, queue, err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// RemoveRepeatable deletes a registration and its pending schedule.
func (b *Broker) RemoveRepeatable(ctx context.Context, queue, key string) error {
	pipe := b.client.TxPipeline()
	pipe.HDel(ctx, b.queueKey(queue, "repeat"), key)
	pipe.ZRem(ctx, b.queueKey(queue, "repeat:next"), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove repeatable %q: %w", key, err)
	}
	return nil
}

// AddRepeatable installs a recurring registration, computing the first fire
// time when the caller left it unset.
func (b *Broker) AddRepeatable(ctx context.Context, queue string, job queueflow.RepeatableJob) error {
	if job.NextRunAt.IsZero() {
		next, err := queueflow.NextCronRun(job.Cron, job.Timezone, time.Now())
		if err != nil {
			return err
		}
		job.NextRunAt = next
	} else if _, err := queueflow.ParseCron(job.Cron); err != nil {
		return err
	}

	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal repeatable %q: %w", job.Key, err)
	}

	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, b.queueKey(queue, "repeat"), job.Key, raw)
	pipe.ZAdd(ctx, b.queueKey(queue, "repeat:next"),
		redis.Z{Score: float64(job.NextRunAt.UnixMilli()), Member: job.Key})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add repeatable %q: %w", job.Key, err)
	}
	return nil
}

// DeadJobs returns the jobs parked on the queue's dead set.
func (b *Broker) DeadJobs(ctx context.Context, queue string) ([]queueflow.Job, error) {
	ids, err := b.client.ZRange(ctx, b.queueKey(queue, "dead"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead jobs on queue %q: %w", queue, err)
	}

	out := make([]queueflow.Job, 0, len(ids))
	for _, id := range ids {
		job, err := b.loadJob(ctx, queue, id)
		if err != nil {
			if errors.Is(err, ErrJobNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *job)
	}
	return out, nil
}

// Close releases the underlying client.
func (b *Broker) Close() error {
	return b.client.Close()
}

func (b *Broker) loadJob(ctx context.Context, queue, id string) (*queueflow.Job, error) {
	raw, err := b.client.Get(ctx, b.jobKey(queue, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s on queue %s", ErrJobNotFound, id, queue)
		}
		return nil, fmt.Errorf("failed to load job %q: %w", id, err)
	}

	var job queueflow.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("corrupt job body %q on queue %q: %w", id, queue, err)
	}
	return &job, nil
}

func (b *Broker) storeJob(ctx context.Context, job *queueflow.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %q: %w", job.ID, err)
	}
	if err := b.client.Set(ctx, b.jobKey(job.Queue, job.ID), raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to store job %q: %w", job.ID, err)
	}
	return nil
}
