package queueflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field cron expressions plus descriptors like
// "@every 30s" and "@daily".
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron validates a cron expression and returns its schedule.
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, errors.Join(ErrInvalidCron, err)
	}
	return sched, nil
}

// NextCronRun computes the next fire time of a cron expression after the
// given instant, in the named timezone (local time when empty). Brokers use
// it to schedule repeatable materialization.
func NextCronRun(expr, timezone string, after time.Time) (time.Time, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	loc := time.Local
	if timezone != "" {
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, errors.Join(ErrInvalidTimezone, err)
		}
	}
	return sched.Next(after.In(loc)), nil
}

// ScheduleConfig declares a recurring task. The run function takes no
// payload: each cron fire materializes an empty job routed by the task id.
type ScheduleConfig struct {
	// ID is the globally unique task identifier, also used as the stable
	// key and name of the recurring registration in the broker.
	ID string

	// Cron is a standard 5-field cron expression or a descriptor such as
	// "@every 30s".
	Cron string

	// Queue overrides the resolved queue name (optional).
	Queue string

	// Run executes one recurrence.
	Run func(ctx context.Context) error

	// OnError observes failed recurrences (optional).
	OnError func(ctx context.Context, jobErr error)

	// Timezone is an IANA zone name the cron fires in (optional, local
	// time when empty).
	Timezone string

	// Concurrency caps simultaneous invocations on the task's queue
	// (optional).
	Concurrency int
}

// ScheduledTask is the handle returned by Schedule. It has no trigger: the
// recurrence self-installs on declaration. Construction is non-blocking; the
// outcome of the installation round trip is observable through Wait.
type ScheduledTask struct {
	id    string
	queue string
	cron  string

	done       chan struct{}
	installErr error
}

// Schedule declares a recurring task: it registers the handler exactly like
// Define, then asynchronously reconciles the broker so that exactly one
// recurring registration exists under the task id, carrying this declaration's
// cron and timezone. Re-running the declaration on every process start is the
// intended usage; the remove-then-install sequence keeps it idempotent
// instead of accumulating a parallel schedule per deploy.
//
// The cron expression and timezone are validated synchronously so a malformed
// declaration fails at the call site, not inside the background install.
func Schedule(e *Engine, cfg ScheduleConfig) (*ScheduledTask, error) {
	if e == nil {
		return nil, ErrEngineNil
	}
	if cfg.ID == "" {
		return nil, ErrTaskIDEmpty
	}
	if cfg.Run == nil {
		return nil, ErrRunFuncNil
	}
	if _, err := ParseCron(cfg.Cron); err != nil {
		return nil, err
	}
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return nil, errors.Join(ErrInvalidTimezone, err)
		}
	}

	queue := resolveQueueName(cfg.Queue, cfg.ID, e.cfg.DefaultQueue)

	run := cfg.Run
	var onError errorHandlerFunc
	if cfg.OnError != nil {
		callback := cfg.OnError
		onError = func(ctx context.Context, jobErr error, _ json.RawMessage) {
			callback(ctx, jobErr)
		}
	}

	e.register(&taskDefinition{
		id:    cfg.ID,
		queue: queue,
		handler: func(ctx context.Context, _ json.RawMessage) error {
			return run(ctx)
		},
		onError:     onError,
		concurrency: cfg.Concurrency,
	})

	st := &ScheduledTask{
		id:    cfg.ID,
		queue: queue,
		cron:  cfg.Cron,
		done:  make(chan struct{}),
	}

	go st.install(e, cfg)

	return st, nil
}

// install performs the reconcile-and-install round trip: ensure the engine is
// started, list recurring registrations on the queue, remove any entry that
// matches the task id, then install a fresh one. The outcome is recorded for
// Wait and logged either way.
func (st *ScheduledTask) install(e *Engine, cfg ScheduleConfig) {
	defer close(st.done)

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ShutdownTimeout)
	defer cancel()

	st.installErr = st.reconcile(ctx, e, cfg)
	if st.installErr != nil {
		e.logger.Error("failed to install recurring schedule",
			slog.String("task_id", st.id),
			slog.String("queue", st.queue),
			slog.String("cron", st.cron),
			slog.String("error", st.installErr.Error()))
		return
	}

	e.logger.Info("recurring schedule installed",
		slog.String("task_id", st.id),
		slog.String("queue", st.queue),
		slog.String("cron", st.cron))
}

func (st *ScheduledTask) reconcile(ctx context.Context, e *Engine, cfg ScheduleConfig) error {
	if err := e.Start(ctx); err != nil {
		return errors.Join(ErrScheduleInstall, err)
	}

	broker, err := e.conn.get(ctx)
	if err != nil {
		return errors.Join(ErrScheduleInstall, err)
	}

	existing, err := broker.ListRepeatables(ctx, st.queue)
	if err != nil {
		return errors.Join(ErrScheduleInstall, err)
	}

	for _, entry := range existing {
		if !entry.Matches(st.id) {
			continue
		}
		if err := broker.RemoveRepeatable(ctx, st.queue, entry.Key); err != nil {
			return errors.Join(ErrScheduleInstall, err)
		}
	}

	next, err := NextCronRun(cfg.Cron, cfg.Timezone, time.Now())
	if err != nil {
		return errors.Join(ErrScheduleInstall, err)
	}

	if err := broker.AddRepeatable(ctx, st.queue, RepeatableJob{
		Key:       st.id,
		Name:      st.id,
		Queue:     st.queue,
		Cron:      cfg.Cron,
		Timezone:  cfg.Timezone,
		NextRunAt: next,
	}); err != nil {
		return errors.Join(ErrScheduleInstall, err)
	}

	return nil
}

// ID returns the task identifier.
func (st *ScheduledTask) ID() string { return st.id }

// QueueName returns the queue the task resolved to.
func (st *ScheduledTask) QueueName() string { return st.queue }

// Wait blocks until the background installation finishes and returns its
// outcome, or ctx's error if the caller gives up first. Callers that do not
// care may ignore the handle; failures are logged regardless.
func (st *ScheduledTask) Wait(ctx context.Context) error {
	select {
	case <-st.done:
		return st.installErr
	case <-ctx.Done():
		return fmt.Errorf("waiting for schedule %q installation: %w", st.id, ctx.Err())
	}
}

// Installed reports whether the installation has finished, without blocking.
func (st *ScheduledTask) Installed() bool {
	select {
	case <-st.done:
		return true
	default:
		return false
	}
}
