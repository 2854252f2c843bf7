package queueflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TaskConfig declares a one-shot task. T is the payload type; it must be
// JSON-serializable. Run is invoked with the decoded payload on each
// delivery. OnError, if set, is invoked with the failure and the original
// payload after a delivery attempt fails.
type TaskConfig[T any] struct {
	// ID is the globally unique task identifier, conventionally namespaced
	// with a dot ("email.welcome").
	ID string

	// Queue overrides the resolved queue name (optional).
	Queue string

	// Run processes one delivered payload.
	Run func(ctx context.Context, payload T) error

	// OnError observes failed deliveries (optional).
	OnError func(ctx context.Context, jobErr error, payload T)

	// Concurrency caps simultaneous handler invocations on the task's queue
	// (optional, defaults to the engine's DefaultConcurrency).
	Concurrency int
}

// Task is the trigger handle returned by Define. Declaring it registers the
// task with the engine; no I/O happens until the first Trigger.
type Task[T any] struct {
	engine *Engine
	id     string
	queue  string
}

// Define declares a task on the engine and returns its trigger handle.
// Registration is cheap, synchronous, and order-independent, so declaring
// many tasks at program startup costs nothing. Declaring the same id twice
// replaces the previous handler (last write wins).
//
// This is a package-level generic function because Go does not allow generic
// methods on non-generic receiver types.
func Define[T any](e *Engine, cfg TaskConfig[T]) (*Task[T], error) {
	if e == nil {
		return nil, ErrEngineNil
	}
	if cfg.ID == "" {
		return nil, ErrTaskIDEmpty
	}
	if cfg.Run == nil {
		return nil, ErrRunFuncNil
	}

	queue := resolveQueueName(cfg.Queue, cfg.ID, e.cfg.DefaultQueue)

	e.register(&taskDefinition{
		id:          cfg.ID,
		queue:       queue,
		handler:     erasedHandler(cfg.ID, cfg.Run),
		onError:     erasedErrorHandler(cfg.OnError),
		concurrency: cfg.Concurrency,
	})

	return &Task[T]{engine: e, id: cfg.ID, queue: queue}, nil
}

// ID returns the task identifier.
func (t *Task[T]) ID() string { return t.id }

// QueueName returns the queue the task resolved to.
func (t *Task[T]) QueueName() string { return t.queue }

// Trigger enqueues one job for the task. It returns once the broker has
// durably accepted the job, not once the job has executed, and reports
// enqueue failures synchronously without retrying: retries of consumption
// are the broker's responsibility, not the producer's.
//
// Worker startup is kicked off in the background as a side effect, so a job
// may be accepted before any consumer exists for its queue; it simply waits
// in the broker until one appears.
func (t *Task[T]) Trigger(ctx context.Context, payload T, opts ...TriggerOption) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Join(ErrPayloadMarshal, err)
	}

	options := &triggerOptions{
		jobID:       newJobID(t.id),
		maxAttempts: t.engine.cfg.DefaultMaxAttempts,
		backoff:     Backoff{Kind: BackoffExponential, Delay: time.Second},
	}
	for _, opt := range opts {
		opt(options)
	}
	if !options.backoff.Valid() {
		return nil, ErrInvalidBackoff
	}

	now := time.Now()
	job := &Job{
		ID:          options.jobID,
		TaskID:      t.id,
		Queue:       t.queue,
		Payload:     raw,
		MaxAttempts: options.maxAttempts,
		Backoff:     options.backoff,
		EnqueuedAt:  now,
		AvailableAt: now.Add(options.delay),
	}

	broker, err := t.engine.conn.get(ctx)
	if err != nil {
		return nil, err
	}

	t.engine.ensureStarted()

	if err := broker.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("%w %q on queue %q: %w", ErrEnqueue, job.ID, job.Queue, err)
	}

	return job, nil
}

// erasedHandler wraps a typed run function into the registry's type-erased
// shape, decoding the JSON payload into T before invocation.
func erasedHandler[T any](taskID string, run func(ctx context.Context, payload T) error) handlerFunc {
	return func(ctx context.Context, payload json.RawMessage) error {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return fmt.Errorf("%w for task %q: %w", ErrPayloadUnmarshal, taskID, err)
			}
		}
		return run(ctx, t)
	}
}

// erasedErrorHandler wraps a typed onError callback. A payload that no longer
// decodes is passed as the zero value; the failure itself is what matters to
// the callback at that point.
func erasedErrorHandler[T any](onError func(ctx context.Context, jobErr error, payload T)) errorHandlerFunc {
	if onError == nil {
		return nil
	}
	return func(ctx context.Context, jobErr error, payload json.RawMessage) {
		var t T
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &t)
		}
		onError(ctx, jobErr, t)
	}
}
