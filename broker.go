package queueflow

import (
	"context"
	"time"
)

// Enqueuer is the producer side of a broker.
type Enqueuer interface {
	// Enqueue durably accepts a job. It returns once the broker has
	// persisted the job, not once the job has executed.
	Enqueue(ctx context.Context, job *Job) error
}

// Claimer is the consumer side of a broker.
type Claimer interface {
	// Claim atomically leases the next available job on the queue for the
	// given owner. Returns ErrNoJob when nothing is due.
	Claim(ctx context.Context, queue, owner string, lease time.Duration) (*Job, error)

	// Complete acknowledges a successfully processed job.
	Complete(ctx context.Context, queue, jobID string) error

	// Fail records a failed delivery attempt. The broker applies the job's
	// own retry/backoff policy and parks the job in its dead set once
	// attempts are exhausted.
	Fail(ctx context.Context, queue, jobID, reason string) error
}

// Repeater manages recurring job registrations.
type Repeater interface {
	// ListRepeatables returns every recurring registration on the queue.
	ListRepeatables(ctx context.Context, queue string) ([]RepeatableJob, error)

	// RemoveRepeatable deletes the registration with the given stable key.
	// Removing a key that does not exist is not an error.
	RemoveRepeatable(ctx context.Context, queue, key string) error

	// AddRepeatable installs a recurring registration. The broker is
	// responsible for materializing one-shot jobs on each cron fire.
	AddRepeatable(ctx context.Context, queue string, job RepeatableJob) error
}

// Broker is the full contract the dispatch engine depends on. Implementations
// must provide at-least-once delivery and are assumed safe under concurrent
// producers, including for repeatable registrations.
type Broker interface {
	Enqueuer
	Claimer
	Repeater

	// Close releases the underlying connection.
	Close() error
}

// BrokerFactory lazily creates the shared broker connection. It is invoked at
// most once per engine lifecycle, guarded by the engine's connection provider.
type BrokerFactory func(ctx context.Context) (Broker, error)

// StaticBroker wraps an already-connected broker as a factory. Useful for
// tests and for hosts that manage the connection themselves.
func StaticBroker(b Broker) BrokerFactory {
	return func(context.Context) (Broker, error) {
		if b == nil {
			return nil, ErrBrokerNil
		}
		return b, nil
	}
}
