package queueflow

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryBroker implements the full Broker contract in process memory. It is
// meant for tests and local development; it honors delays, per-job retry
// policies, lease expiry recovery, and repeatable materialization the same
// way the durable brokers do.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]*memQueue
}

type memQueue struct {
	waiting map[string]*Job
	active  map[string]*memLease
	dead    map[string]*Job
	repeat  map[string]*RepeatableJob
}

type memLease struct {
	job   *Job
	owner string
	until time.Time
}

// NewMemoryBroker creates an empty in-memory broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{queues: make(map[string]*memQueue)}
}

func (mb *MemoryBroker) queue(name string) *memQueue {
	q, ok := mb.queues[name]
	if !ok {
		q = &memQueue{
			waiting: make(map[string]*Job),
			active:  make(map[string]*memLease),
			dead:    make(map[string]*Job),
			repeat:  make(map[string]*RepeatableJob),
		}
		mb.queues[name] = q
	}
	return q
}

// Enqueue accepts a job. A job id already present on the queue is treated as
// an idempotency key: the duplicate is silently dropped.
func (mb *MemoryBroker) Enqueue(ctx context.Context, job *Job) error {
	if job == nil {
		return fmt.Errorf("job cannot be nil")
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	q := mb.queue(job.Queue)
	if _, ok := q.waiting[job.ID]; ok {
		return nil
	}
	if _, ok := q.active[job.ID]; ok {
		return nil
	}

	jobCopy := *job
	q.waiting[job.ID] = &jobCopy
	return nil
}

// Claim leases the next due job. Before selecting, it materializes due
// repeatable entries into one-shot jobs and reclaims expired leases so jobs
// from crashed consumers become claimable again.
func (mb *MemoryBroker) Claim(ctx context.Context, queue, owner string, lease time.Duration) (*Job, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	now := time.Now()
	q := mb.queue(queue)

	mb.materializeDueLocked(q, queue, now)

	for id, l := range q.active {
		if l.until.Before(now) {
			q.waiting[id] = l.job
			delete(q.active, id)
		}
	}

	var best *Job
	for _, job := range q.waiting {
		if job.AvailableAt.After(now) {
			continue
		}
		if best == nil || job.AvailableAt.Before(best.AvailableAt) ||
			(job.AvailableAt.Equal(best.AvailableAt) && job.EnqueuedAt.Before(best.EnqueuedAt)) {
			best = job
		}
	}
	if best == nil {
		return nil, ErrNoJob
	}

	best.Attempts++
	delete(q.waiting, best.ID)
	q.active[best.ID] = &memLease{job: best, owner: owner, until: now.Add(lease)}

	jobCopy := *best
	return &jobCopy, nil
}

// materializeDueLocked turns every due repeatable entry into a one-shot job
// and advances its next fire time. The job id is derived from the key and the
// fire instant, so concurrent claimers cannot double-materialize a fire.
func (mb *MemoryBroker) materializeDueLocked(q *memQueue, queue string, now time.Time) {
	for _, r := range q.repeat {
		if r.NextRunAt.IsZero() || r.NextRunAt.After(now) {
			continue
		}

		id := fmt.Sprintf("%s:repeat:%d", r.Key, r.NextRunAt.UnixMilli())
		if _, ok := q.waiting[id]; !ok {
			if _, ok := q.active[id]; !ok {
				q.waiting[id] = &Job{
					ID:          id,
					TaskID:      r.Name,
					Queue:       queue,
					MaxAttempts: 1,
					Backoff:     Backoff{Kind: BackoffFixed, Delay: time.Second},
					EnqueuedAt:  now,
					AvailableAt: now,
				}
			}
		}

		next, err := NextCronRun(r.Cron, r.Timezone, now)
		if err != nil {
			// Entry was validated on install; a parse failure here means
			// corrupted state, so disable the entry instead of spinning.
			r.NextRunAt = time.Time{}
			continue
		}
		r.NextRunAt = next
	}
}

// Complete acknowledges an active job and drops it.
func (mb *MemoryBroker) Complete(ctx context.Context, queue, jobID string) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	q := mb.queue(queue)
	if _, ok := q.active[jobID]; !ok {
		return fmt.Errorf("job %s is not active on queue %s", jobID, queue)
	}
	delete(q.active, jobID)
	return nil
}

// Fail records a failed attempt. Jobs with attempts left go back to waiting
// with the job's own backoff applied; exhausted jobs are parked in the dead
// set for inspection.
func (mb *MemoryBroker) Fail(ctx context.Context, queue, jobID, reason string) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	q := mb.queue(queue)
	l, ok := q.active[jobID]
	if !ok {
		return fmt.Errorf("job %s is not active on queue %s", jobID, queue)
	}

	job := l.job
	job.LastError = reason
	delete(q.active, jobID)

	if job.Attempts >= job.MaxAttempts {
		q.dead[jobID] = job
		return nil
	}

	job.AvailableAt = time.Now().Add(job.Backoff.NextDelay(job.Attempts))
	q.waiting[jobID] = job
	return nil
}

// ListRepeatables returns copies of every recurring registration on a queue.
func (mb *MemoryBroker) ListRepeatables(ctx context.Context, queue string) ([]RepeatableJob, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	q := mb.queue(queue)
	out := make([]RepeatableJob, 0, len(q.repeat))
	for _, r := range q.repeat {
		out = append(out, *r)
	}
	return out, nil
}

// RemoveRepeatable deletes a registration; unknown keys are a no-op.
func (mb *MemoryBroker) RemoveRepeatable(ctx context.Context, queue, key string) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	delete(mb.queue(queue).repeat, key)
	return nil
}

// AddRepeatable installs a registration, validating its cron expression and
// computing the first fire time when the caller left it unset.
func (mb *MemoryBroker) AddRepeatable(ctx context.Context, queue string, job RepeatableJob) error {
	if job.NextRunAt.IsZero() {
		next, err := NextCronRun(job.Cron, job.Timezone, time.Now())
		if err != nil {
			return err
		}
		job.NextRunAt = next
	} else if _, err := ParseCron(job.Cron); err != nil {
		return err
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	jobCopy := job
	mb.queue(queue).repeat[job.Key] = &jobCopy
	return nil
}

// Close implements Broker. Nothing to release.
func (mb *MemoryBroker) Close() error { return nil }

// DeadJobs returns copies of the jobs parked on the queue's dead set.
func (mb *MemoryBroker) DeadJobs(queue string) []Job {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	q := mb.queue(queue)
	out := make([]Job, 0, len(q.dead))
	for _, job := range q.dead {
		out = append(out, *job)
	}
	return out
}

// PendingCount reports how many jobs are waiting (including delayed) on a
// queue. Intended for tests and diagnostics.
func (mb *MemoryBroker) PendingCount(queue string) int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.queue(queue).waiting)
}
