package pgbroker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Benrobo/queueflow"
)

// Broker implements queueflow.Broker on PostgreSQL.
type Broker struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New wraps an already-connected pool as a queueflow broker. Run Migrate
// first to ensure the tables exist.
func New(pool *pgxpool.Pool, opts ...Option) *Broker {
	b := &Broker{
		pool:   pool,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Enqueue inserts the job. A job id already present is treated as an
// idempotency key and dropped.
func (b *Broker) Enqueue(ctx context.Context, job *queueflow.Job) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO queueflow_jobs
			(id, queue, task_id, payload, status, attempts, max_attempts,
			 backoff_kind, backoff_delay_ms, enqueued_at, available_at)
		VALUES ($1, $2, $3, $4, 'waiting', $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		job.ID, job.Queue, job.TaskID, job.Payload, job.Attempts, job.MaxAttempts,
		string(job.Backoff.Kind), job.Backoff.Delay.Milliseconds(),
		job.EnqueuedAt, job.AvailableAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue job %q on queue %q: %w", job.ID, job.Queue, err)
	}
	return nil
}

// Claim materializes due repeatable entries, then leases the next available
// job with FOR UPDATE SKIP LOCKED. Rows whose lease expired are claimable
// again by the same query. Returns queueflow.ErrNoJob when nothing is due.
func (b *Broker) Claim(ctx context.Context, queue, owner string, lease time.Duration) (*queueflow.Job, error) {
	if err := b.materializeDue(ctx, queue); err != nil {
		// Materialization failures must not starve regular deliveries.
		b.logger.Error("failed to materialize repeatable jobs",
			slog.String("queue", queue),
			slog.String("error", err.Error()))
	}

	row := b.pool.QueryRow(ctx, `
		UPDATE queueflow_jobs
		SET status = 'active', attempts = attempts + 1,
		    locked_by = $2, locked_until = now() + ($3 * interval '1 millisecond')
		WHERE id = (
			SELECT id FROM queueflow_jobs
			WHERE queue = $1 AND (
				(status = 'waiting' AND available_at <= now())
				OR (status = 'active' AND locked_until < now())
			)
			ORDER BY available_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, task_id, payload, attempts, max_attempts,
		          backoff_kind, backoff_delay_ms, last_error,
		          enqueued_at, available_at`,
		queue, owner, lease.Milliseconds(),
	)

	job := queueflow.Job{Queue: queue}
	var backoffKind string
	var backoffDelayMs int64
	err := row.Scan(&job.ID, &job.TaskID, &job.Payload, &job.Attempts, &job.MaxAttempts,
		&backoffKind, &backoffDelayMs, &job.LastError,
		&job.EnqueuedAt, &job.AvailableAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queueflow.ErrNoJob
		}
		return nil, fmt.Errorf("failed to claim on queue %q: %w", queue, err)
	}

	job.Backoff = queueflow.Backoff{
		Kind:  queueflow.BackoffKind(backoffKind),
		Delay: time.Duration(backoffDelayMs) * time.Millisecond,
	}
	return &job, nil
}

// materializeDue turns due repeatable entries into one-shot jobs inside a
// transaction; SKIP LOCKED makes each fire won by exactly one claimer.
func (b *Broker) materializeDue(ctx context.Context, queue string) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT key, name, cron, timezone, next_run_at
		FROM queueflow_repeatables
		WHERE queue = $1 AND next_run_at <= now()
		FOR UPDATE SKIP LOCKED`,
		queue,
	)
	if err != nil {
		return err
	}

	type dueEntry struct {
		key, name, cron, timezone string
		fireAt                    time.Time
	}
	var due []dueEntry
	for rows.Next() {
		var e dueEntry
		if err := rows.Scan(&e.key, &e.name, &e.cron, &e.timezone, &e.fireAt); err != nil {
			rows.Close()
			return err
		}
		due = append(due, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	now := time.Now()
	for _, e := range due {
		next, err := queueflow.NextCronRun(e.cron, e.timezone, now)
		if err != nil {
			return fmt.Errorf("corrupt repeatable entry %q on queue %q: %w", e.key, queue, err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO queueflow_jobs
				(id, queue, task_id, status, max_attempts, backoff_kind,
				 backoff_delay_ms, enqueued_at, available_at)
			VALUES ($1, $2, $3, 'waiting', 1, 'fixed', 1000, $4, $4)
			ON CONFLICT (id) DO NOTHING`,
			fmt.Sprintf("%s:repeat:%d", e.key, e.fireAt.UnixMilli()), queue, e.name, now,
		); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE queueflow_repeatables
			SET next_run_at = $3
			WHERE queue = $1 AND key = $2`,
			queue, e.key, next,
		); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// Complete deletes the processed job row.
func (b *Broker) Complete(ctx context.Context, queue, jobID string) error {
	if _, err := b.pool.Exec(ctx,
		`DELETE FROM queueflow_jobs WHERE queue = $1 AND id = $2`,
		queue, jobID,
	); err != nil {
		return fmt.Errorf("failed to complete job %q: %w", jobID, err)
	}
	return nil
}

// Fail records the failure and either reschedules the job with its own
// backoff or parks it as dead once attempts are exhausted.
func (b *Broker) Fail(ctx context.Context, queue, jobID, reason string) error {
	row := b.pool.QueryRow(ctx, `
		SELECT attempts, max_attempts, backoff_kind, backoff_delay_ms
		FROM queueflow_jobs WHERE queue = $1 AND id = $2`,
		queue, jobID,
	)

	var attempts, maxAttempts int
	var backoffKind string
	var backoffDelayMs int64
	if err := row.Scan(&attempts, &maxAttempts, &backoffKind, &backoffDelayMs); err != nil {
		return fmt.Errorf("failed to load job %q: %w", jobID, err)
	}

	if attempts >= maxAttempts {
		if _, err := b.pool.Exec(ctx, `
			UPDATE queueflow_jobs
			SET status = 'dead', last_error = $3, locked_by = NULL, locked_until = NULL
			WHERE queue = $1 AND id = $2`,
			queue, jobID, reason,
		); err != nil {
			return fmt.Errorf("failed to park job %q as dead: %w", jobID, err)
		}
		return nil
	}

	backoff := queueflow.Backoff{
		Kind:  queueflow.BackoffKind(backoffKind),
		Delay: time.Duration(backoffDelayMs) * time.Millisecond,
	}
	if _, err := b.pool.Exec(ctx, `
		UPDATE queueflow_jobs
		SET status = 'waiting', last_error = $3,
		    available_at = now() + ($4 * interval '1 millisecond'),
		    locked_by = NULL, locked_until = NULL
		WHERE queue = $1 AND id = $2`,
		queue, jobID, reason, backoff.NextDelay(attempts).Milliseconds(),
	); err != nil {
		return fmt.Errorf("failed to reschedule job %q: %w", jobID, err)
	}
	return nil
}

// ListRepeatables returns every recurring registration on the queue.
func (b *Broker) ListRepeatables(ctx context.Context, queue string) ([]queueflow.RepeatableJob, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT key, name, cron, timezone, next_run_at
		FROM queueflow_repeatables WHERE queue = $1`,
		queue,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list repeatables on queue %q: %w", queue, err)
	}
	defer rows.Close()

	var out []queueflow.RepeatableJob
	for rows.Next() {
		entry := queueflow.RepeatableJob{Queue: queue}
		if err := rows.Scan(&entry.Key, &entry.Name, &entry.Cron, &entry.Timezone, &entry.NextRunAt); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// RemoveRepeatable deletes a registration; unknown keys are a no-op.
func (b *Broker) RemoveRepeatable(ctx context.Context, queue, key string) error {
	if _, err := b.pool.Exec(ctx,
		`DELETE FROM queueflow_repeatables WHERE queue = $1 AND key = $2`,
		queue, key,
	); err != nil {
		return fmt.Errorf("failed to remove repeatable %q: %w", key, err)
	}
	return nil
}

// AddRepeatable installs a recurring registration, computing the first fire
// time when the caller left it unset. Re-adding an existing key replaces it.
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

	if _, err := b.pool.Exec(ctx, `
		INSERT INTO queueflow_repeatables (key, queue, name, cron, timezone, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (queue, key) DO UPDATE
		SET name = EXCLUDED.name, cron = EXCLUDED.cron,
		    timezone = EXCLUDED.timezone, next_run_at = EXCLUDED.next_run_at`,
		job.Key, queue, job.Name, job.Cron, job.Timezone, job.NextRunAt,
	); err != nil {
		return fmt.Errorf("failed to add repeatable %q: %w", job.Key, err)
	}
	return nil
}

// DeadJobs returns the jobs parked as dead on the queue.
func (b *Broker) DeadJobs(ctx context.Context, queue string) ([]queueflow.Job, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT id, task_id, payload, attempts, max_attempts,
		       backoff_kind, backoff_delay_ms, last_error, enqueued_at, available_at
		FROM queueflow_jobs WHERE queue = $1 AND status = 'dead'`,
		queue,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead jobs on queue %q: %w", queue, err)
	}
	defer rows.Close()

	var out []queueflow.Job
	for rows.Next() {
		job := queueflow.Job{Queue: queue}
		var backoffKind string
		var backoffDelayMs int64
		if err := rows.Scan(&job.ID, &job.TaskID, &job.Payload, &job.Attempts, &job.MaxAttempts,
			&backoffKind, &backoffDelayMs, &job.LastError, &job.EnqueuedAt, &job.AvailableAt); err != nil {
			return nil, err
		}
		job.Backoff = queueflow.Backoff{
			Kind:  queueflow.BackoffKind(backoffKind),
			Delay: time.Duration(backoffDelayMs) * time.Millisecond,
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// Close releases the underlying pool.
func (b *Broker) Close() error {
	b.pool.Close()
	return nil
}
