package queueflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ackTimeout bounds Complete/Fail round trips against the broker.
const ackTimeout = 30 * time.Second

// consumer is the concurrency-bounded pull loop for one queue. A queue has at
// most one live consumer; the engine enforces that under its registry lock.
type consumer struct {
	engine *Engine
	broker Broker
	queue  string
	owner  string

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	pollInterval time.Duration
	lease        time.Duration
	logger       *slog.Logger
}

func newConsumer(engine *Engine, broker Broker, queue string, concurrency int) *consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &consumer{
		engine:       engine,
		broker:       broker,
		queue:        queue,
		owner:        uuid.NewString(),
		sem:          make(chan struct{}, concurrency),
		ctx:          ctx,
		cancel:       cancel,
		pollInterval: engine.cfg.PollInterval,
		lease:        engine.cfg.LeaseTimeout,
		logger:       engine.logger,
	}
}

// start launches the pull loop in the background.
func (c *consumer) start() {
	c.wg.Add(1)
	go c.run()

	c.logger.Info("consumer started",
		slog.String("queue", c.queue),
		slog.String("consumer_id", c.owner),
		slog.Int("concurrency", cap(c.sem)))
}

// run polls the broker on a ticker and dispatches claimed jobs. An immediate
// first pass avoids waiting a full interval for jobs already enqueued.
func (c *consumer) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	c.drain()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.drain()
		}
	}
}

// drain claims jobs until no slot is free or the broker has nothing due.
func (c *consumer) drain() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case c.sem <- struct{}{}:
			job, err := c.broker.Claim(c.ctx, c.queue, c.owner, c.lease)
			if err != nil {
				<-c.sem
				if !errors.Is(err, ErrNoJob) && !errors.Is(err, context.Canceled) {
					c.logger.Error("failed to claim job",
						slog.String("queue", c.queue),
						slog.String("error", err.Error()))
				}
				return
			}

			c.wg.Add(1)
			go func(job *Job) {
				defer c.wg.Done()
				defer func() { <-c.sem }()
				c.process(job)
			}(job)
		default:
			// All slots busy, wait for the next tick.
			return
		}
	}
}

// process routes one delivered job to its registered handler. Failures here
// are local to the job: they are recorded against the broker and never
// terminate the loop or affect sibling jobs.
func (c *consumer) process(job *Job) {
	start := time.Now()

	def, ok := c.engine.handlerFor(job.TaskID)
	if !ok {
		// Loud on purpose: a job for an unregistered task id means a
		// producer is running ahead of this process's deploy.
		c.logger.Error("no handler registered for task",
			slog.String("queue", c.queue),
			slog.String("task_id", job.TaskID),
			slog.String("job_id", job.ID))
		c.fail(job, fmt.Sprintf("%s: %s", ErrHandlerNotFound.Error(), job.TaskID))
		return
	}

	err := c.invokeHandler(def, job)
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("job failed",
			slog.String("queue", c.queue),
			slog.String("task_id", job.TaskID),
			slog.String("job_id", job.ID),
			slog.Int("attempts", job.Attempts),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))

		c.fail(job, err.Error())
		c.invokeErrorHandler(def, job, err)
		return
	}

	if err := c.complete(job); err != nil {
		c.logger.Error("failed to mark job completed",
			slog.String("queue", c.queue),
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
		return
	}

	c.logger.Info("job completed",
		slog.String("queue", c.queue),
		slog.String("task_id", job.TaskID),
		slog.String("job_id", job.ID),
		slog.Duration("duration", duration))
}

// invokeHandler runs the task handler with panic recovery. The handler
// context is detached from the consumer lifecycle (bounded by the lease) so
// graceful shutdown lets in-flight jobs finish.
func (c *consumer) invokeHandler(def *taskDefinition, job *Job) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("panic in handler: %v", r)
			c.logger.Error("handler panicked",
				slog.String("queue", c.queue),
				slog.String("task_id", job.TaskID),
				slog.String("job_id", job.ID),
				slog.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), c.lease)
	defer cancel()

	return def.handler(ctx, job.Payload)
}

// invokeErrorHandler calls the task's onError callback if one is registered.
// A panic inside the callback is recovered and logged only; it must never
// crash the consumer or mask the original job failure.
func (c *consumer) invokeErrorHandler(def *taskDefinition, job *Job, jobErr error) {
	if def.onError == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("error handler panicked",
				slog.String("queue", c.queue),
				slog.String("task_id", job.TaskID),
				slog.String("job_id", job.ID),
				slog.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), c.lease)
	defer cancel()

	def.onError(ctx, jobErr, job.Payload)
}

// complete acknowledges a processed job. Acks run on a detached context so a
// graceful stop can still acknowledge jobs whose handlers just finished.
func (c *consumer) complete(job *Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()
	return c.broker.Complete(ctx, c.queue, job.ID)
}

// fail records the delivery failure; the broker applies the job's retry
// policy from here.
func (c *consumer) fail(job *Job, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()

	if err := c.broker.Fail(ctx, c.queue, job.ID, reason); err != nil {
		c.logger.Error("failed to mark job failed",
			slog.String("queue", c.queue),
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
	}
}

// stop cancels the loop and waits for in-flight handlers, bounded by ctx.
func (c *consumer) stop(ctx context.Context) error {
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("consumer stopped", slog.String("queue", c.queue))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("consumer for queue %q did not drain: %w", c.queue, ctx.Err())
	}
}
