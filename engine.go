package queueflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Engine is the dispatch engine: it owns the task registry, the set of live
// per-queue consumers, and the shared broker connection. It is constructed
// explicitly and passed by reference; there is no package-level singleton, so
// multiple isolated engines can coexist in one process.
//
// Lifecycle: idle ⇄ started. Start is idempotent and safe to call
// concurrently; Stop drains consumers, releases the connection, and returns
// the engine to idle so Start may run again.
type Engine struct {
	conn   *connProvider
	cfg    Config
	logger *slog.Logger

	mu        sync.RWMutex
	defs      map[string]*taskDefinition
	consumers map[string]*consumer
	started   bool
}

// New creates a dispatch engine backed by the broker the factory produces.
// The connection is not opened until the first operation that needs it.
func New(factory BrokerFactory, opts ...EngineOption) (*Engine, error) {
	if factory == nil {
		return nil, ErrBrokerFactoryNil
	}

	options := &engineOptions{
		cfg:    defaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Engine{
		conn:      newConnProvider(factory),
		cfg:       options.cfg,
		logger:    options.logger,
		defs:      make(map[string]*taskDefinition),
		consumers: make(map[string]*consumer),
	}, nil
}

// register upserts a definition into the registry. Registration is in-memory
// and performs no I/O, with one exception: if the engine is already started
// and the definition's queue has no live consumer yet, a consumer is created
// immediately so tasks declared after startup still get served.
func (e *Engine) register(def *taskDefinition) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.defs[def.id] = def

	if e.started {
		if _, ok := e.consumers[def.queue]; !ok {
			e.startConsumerLocked(def.queue)
		}
	}
}

// Start brings up one consumer for every queue that has at least one
// registered task. It is idempotent: a started engine returns immediately,
// and concurrent callers cannot create two consumers for the same queue.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return nil
	}

	if _, err := e.conn.get(ctx); err != nil {
		return err
	}

	for _, def := range e.defs {
		if _, ok := e.consumers[def.queue]; !ok {
			e.startConsumerLocked(def.queue)
		}
	}

	e.started = true
	e.logger.Info("dispatch engine started",
		slog.Int("tasks", len(e.defs)),
		slog.Int("queues", len(e.consumers)))
	return nil
}

// startConsumerLocked creates and launches the consumer for a queue. Caller
// must hold e.mu; by then the broker connection already exists.
func (e *Engine) startConsumerLocked(queue string) {
	broker, err := e.conn.get(context.Background())
	if err != nil {
		e.logger.Error("failed to obtain broker for consumer",
			slog.String("queue", queue),
			slog.String("error", err.Error()))
		return
	}

	c := newConsumer(e, broker, queue, e.queueConcurrencyLocked(queue))
	e.consumers[queue] = c
	c.start()
}

// queueConcurrencyLocked resolves the concurrency budget for a queue: the
// highest limit declared across its tasks, falling back to the configured
// default. Caller must hold e.mu.
func (e *Engine) queueConcurrencyLocked(queue string) int {
	limit := 0
	for _, def := range e.defs {
		if def.queue == queue && def.concurrency > limit {
			limit = def.concurrency
		}
	}
	if limit <= 0 {
		limit = e.cfg.DefaultConcurrency
	}
	return limit
}

// ensureStarted kicks off Start in the background. Triggering a task must not
// block on worker startup, so failures here are logged, not returned; the
// enqueue itself still reports its own errors synchronously.
func (e *Engine) ensureStarted() {
	e.mu.RLock()
	started := e.started
	e.mu.RUnlock()
	if started {
		return
	}

	go func() {
		if err := e.Start(context.Background()); err != nil {
			e.logger.Error("background engine start failed",
				slog.String("error", err.Error()))
		}
	}()
}

// handlerFor looks up the registry entry a delivered job routes to.
func (e *Engine) handlerFor(taskID string) (*taskDefinition, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	def, ok := e.defs[taskID]
	return def, ok
}

// Stop closes every live consumer, waits for in-flight handlers to finish
// (bounded by ctx), releases the shared connection, and resets the engine to
// idle. Safe to call on a never-started engine.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	consumers := e.consumers
	e.consumers = make(map[string]*consumer)
	wasStarted := e.started
	e.started = false
	e.mu.Unlock()

	if !wasStarted && len(consumers) == 0 {
		return nil
	}

	var errs []error
	for _, c := range consumers {
		if err := c.stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if err := e.conn.reset(); err != nil {
		errs = append(errs, err)
	}

	e.logger.Info("dispatch engine stopped", slog.Int("queues", len(consumers)))
	return errors.Join(errs...)
}

// Run returns a function suitable for errgroup: it starts the engine, blocks
// until ctx is canceled, then stops with the configured shutdown timeout.
func (e *Engine) Run(ctx context.Context) func() error {
	return func() error {
		if err := e.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()

		stopCtx, cancel := context.WithTimeout(context.Background(), e.cfg.ShutdownTimeout)
		defer cancel()
		return e.Stop(stopCtx)
	}
}

// Queues returns the names of queues with a live consumer.
func (e *Engine) Queues() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	queues := make([]string, 0, len(e.consumers))
	for q := range e.consumers {
		queues = append(queues, q)
	}
	return queues
}

// Broker exposes the shared broker handle, creating it if needed. Intended
// for host applications that want to inspect broker state (e.g. dead jobs).
func (e *Engine) Broker(ctx context.Context) (Broker, error) {
	return e.conn.get(ctx)
}
