package queueflow

import (
	"encoding/json"
	"time"
)

// DefaultQueueName is the fallback queue used when a task id carries no
// namespace prefix and no default queue is configured.
const DefaultQueueName = "default"

// JobStatus represents the delivery state of a job inside a broker.
type JobStatus string

const (
	JobStatusWaiting JobStatus = "waiting"
	JobStatusActive  JobStatus = "active"
	JobStatusDead    JobStatus = "dead"
)

// BackoffKind selects how the retry delay grows between delivery attempts.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// Backoff describes the retry policy attached to a job. It is carried on the
// job verbatim and interpreted by the broker, never by the dispatch engine.
type Backoff struct {
	Kind  BackoffKind   `json:"kind"`
	Delay time.Duration `json:"delay"`
}

// NextDelay returns how long the broker should park a job before the given
// retry attempt (1-based).
func (b Backoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	switch b.Kind {
	case BackoffExponential:
		return b.Delay << (attempt - 1)
	default:
		return b.Delay
	}
}

// Valid checks that the backoff kind is one of the known policies.
func (b Backoff) Valid() bool {
	return b.Kind == BackoffFixed || b.Kind == BackoffExponential
}

// Job is one enqueued unit of work. It is produced by Task.Trigger (or by a
// broker materializing a repeatable entry) and delivered at least once to the
// per-queue consumer that owns its queue.
type Job struct {
	ID          string          `json:"id"`
	TaskID      string          `json:"task_id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Backoff     Backoff         `json:"backoff"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	AvailableAt time.Time       `json:"available_at"`
	LastError   string          `json:"last_error,omitempty"`
}

// RepeatableJob is a recurring registration stored in the broker. Key is the
// stable identity (the scheduled task id); Name is the task id a materialized
// job is routed by. Both carry the same value when installed by this engine,
// but lookups match either since a store may key entries by one or the other.
type RepeatableJob struct {
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	Queue     string    `json:"queue"`
	Cron      string    `json:"cron"`
	Timezone  string    `json:"timezone,omitempty"`
	NextRunAt time.Time `json:"next_run_at"`
}

// Matches reports whether the entry belongs to the given task id, checking
// both the stable key and the routing name.
func (r RepeatableJob) Matches(taskID string) bool {
	return r.Key == taskID || r.Name == taskID
}
