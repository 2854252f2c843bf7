// Package queueflow provides a broker-backed task registry and worker
// dispatch engine with first-class support for one-shot and recurring tasks.
//
// The package is organised around three main components:
//
//   - Engine         — owns the task registry, the per-queue consumers, and
//     the shared broker connection
//   - Task           — the trigger handle returned when a one-shot task is
//     declared with Define
//   - ScheduledTask  — the handle returned when a recurring task is declared
//     with Schedule; it self-installs its recurrence on declaration
//
// Components interact with persistence only through the small Broker
// interfaces (Enqueuer, Claimer, Repeater), keeping the dispatch logic
// decoupled from the queue store. The module ships three implementations:
// MemoryBroker for tests and local development, redisbroker for Redis, and
// pgbroker for PostgreSQL.
//
// # Architecture
//
//  1. Declaring a task registers it with the engine — cheap, synchronous,
//     no I/O — so declaring many tasks at program startup is free.
//  2. Triggering a task enqueues a job and kicks off engine startup in the
//     background; the engine then runs one concurrency-bounded consumer per
//     distinct queue and routes each delivered job to the handler registered
//     under the job's task id.
//  3. Handler failures are isolated per job: the broker applies the job's
//     retry/backoff policy and the consumer loop keeps running.
//  4. A scheduled task reconciles its recurring registration on every
//     declaration (list, remove stale, install fresh), so repeated process
//     restarts leave exactly one active schedule per task id.
//
// # Usage
//
// Declare and trigger a one-shot task:
//
//	engine, err := queueflow.New(queueflow.StaticBroker(queueflow.NewMemoryBroker()))
//	if err != nil {
//	    return err
//	}
//
//	type WelcomeEmail struct {
//	    UserID string `json:"user_id"`
//	}
//
//	welcome, err := queueflow.Define(engine, queueflow.TaskConfig[WelcomeEmail]{
//	    ID: "email.welcome", // resolves to queue "email"
//	    Run: func(ctx context.Context, p WelcomeEmail) error {
//	        return sendWelcome(ctx, p.UserID)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//
//	_, err = welcome.Trigger(ctx, WelcomeEmail{UserID: "1"},
//	    queueflow.WithDelay(time.Minute),
//	)
//
// Declare a recurring task:
//
//	daily, err := queueflow.Schedule(engine, queueflow.ScheduleConfig{
//	    ID:   "reports.daily",
//	    Cron: "0 9 * * *",
//	    Run: func(ctx context.Context) error {
//	        return buildDailyReport(ctx)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	// Optionally observe the installation outcome:
//	if err := daily.Wait(ctx); err != nil {
//	    return err
//	}
//
// # Error Handling
//
// Package-level sentinel errors (e.g. ErrHandlerNotFound, ErrInvalidCron)
// signal violations of business invariants and can be checked with errors.Is.
// Producer-side failures (enqueue, schedule install) surface synchronously to
// the caller of that operation; consumer-side failures are local to one job
// and never terminate the consumer loop.
package queueflow
