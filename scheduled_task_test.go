package queueflow_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Benrobo/queueflow"
)

func TestParseCron(t *testing.T) {
	t.Parallel()

	t.Run("accepts five-field expressions and descriptors", func(t *testing.T) {
		t.Parallel()

		for _, expr := range []string{"0 9 * * *", "*/5 * * * *", "@daily", "@every 30s"} {
			_, err := queueflow.ParseCron(expr)
			assert.NoError(t, err, "expression %q", expr)
		}
	})

	t.Run("rejects malformed expressions", func(t *testing.T) {
		t.Parallel()

		for _, expr := range []string{"", "not a cron", "0 9 * *", "99 * * * *"} {
			_, err := queueflow.ParseCron(expr)
			assert.ErrorIs(t, err, queueflow.ErrInvalidCron, "expression %q", expr)
		}
	})
}

func TestNextCronRun(t *testing.T) {
	t.Parallel()

	t.Run("computes fire time in the named zone", func(t *testing.T) {
		t.Parallel()

		after := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
		next, err := queueflow.NextCronRun("0 9 * * *", "America/New_York", after)
		require.NoError(t, err)

		loc, err := time.LoadLocation("America/New_York")
		require.NoError(t, err)
		assert.Equal(t, 9, next.In(loc).Hour())
		assert.True(t, next.After(after))
	})

	t.Run("rejects unknown timezone", func(t *testing.T) {
		t.Parallel()

		_, err := queueflow.NextCronRun("0 9 * * *", "Mars/Olympus", time.Now())
		assert.ErrorIs(t, err, queueflow.ErrInvalidTimezone)
	})
}

func TestSchedule_Validation(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t)
	run := func(ctx context.Context) error { return nil }

	t.Run("nil engine", func(t *testing.T) {
		t.Parallel()

		_, err := queueflow.Schedule(nil, queueflow.ScheduleConfig{
			ID: "reports.daily", Cron: "0 9 * * *", Run: run,
		})
		assert.ErrorIs(t, err, queueflow.ErrEngineNil)
	})

	t.Run("empty id", func(t *testing.T) {
		t.Parallel()

		_, err := queueflow.Schedule(engine, queueflow.ScheduleConfig{
			Cron: "0 9 * * *", Run: run,
		})
		assert.ErrorIs(t, err, queueflow.ErrTaskIDEmpty)
	})

	t.Run("nil run", func(t *testing.T) {
		t.Parallel()

		_, err := queueflow.Schedule(engine, queueflow.ScheduleConfig{
			ID: "reports.daily", Cron: "0 9 * * *",
		})
		assert.ErrorIs(t, err, queueflow.ErrRunFuncNil)
	})

	t.Run("malformed cron fails at the call site", func(t *testing.T) {
		t.Parallel()

		_, err := queueflow.Schedule(engine, queueflow.ScheduleConfig{
			ID: "reports.daily", Cron: "not a cron", Run: run,
		})
		assert.ErrorIs(t, err, queueflow.ErrInvalidCron)
	})

	t.Run("unknown timezone fails at the call site", func(t *testing.T) {
		t.Parallel()

		_, err := queueflow.Schedule(engine, queueflow.ScheduleConfig{
			ID: "reports.daily", Cron: "0 9 * * *", Timezone: "Mars/Olympus", Run: run,
		})
		assert.ErrorIs(t, err, queueflow.ErrInvalidTimezone)
	})
}

func TestSchedule_Install(t *testing.T) {
	t.Parallel()

	engine, mb := newTestEngine(t)

	st, err := queueflow.Schedule(engine, queueflow.ScheduleConfig{
		ID:   "reports.daily",
		Cron: "0 9 * * *",
		Run:  func(ctx context.Context) error { return nil },
	})
	require.NoError(t, err)
	assert.Equal(t, "reports", st.QueueName())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, st.Wait(ctx))
	assert.True(t, st.Installed())

	entries, err := mb.ListRepeatables(context.Background(), "reports")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "reports.daily", entries[0].Key)
	assert.Equal(t, "reports.daily", entries[0].Name)
	assert.Equal(t, "0 9 * * *", entries[0].Cron)
	assert.False(t, entries[0].NextRunAt.IsZero())

	require.NoError(t, engine.Stop(context.Background()))
}

func TestSchedule_Reinstall(t *testing.T) {
	t.Parallel()

	engine, mb := newTestEngine(t)
	run := func(ctx context.Context) error { return nil }

	first, err := queueflow.Schedule(engine, queueflow.ScheduleConfig{
		ID: "reports.daily", Cron: "0 9 * * *", Run: run,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, first.Wait(ctx))

	// A redeploy declares the same task with an updated cron. The previous
	// registration must be replaced, not accumulated.
	second, err := queueflow.Schedule(engine, queueflow.ScheduleConfig{
		ID: "reports.daily", Cron: "0 10 * * *", Run: run,
	})
	require.NoError(t, err)
	require.NoError(t, second.Wait(ctx))

	entries, err := mb.ListRepeatables(context.Background(), "reports")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "reports.daily", entries[0].Key)
	assert.Equal(t, "0 10 * * *", entries[0].Cron)

	require.NoError(t, engine.Stop(context.Background()))
}

func TestSchedule_InstallFailure(t *testing.T) {
	t.Parallel()

	broker := new(MockBroker)
	broker.On("Claim", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, queueflow.ErrNoJob)
	broker.On("ListRepeatables", mock.Anything, "reports").
		Return(nil, assert.AnError)
	broker.On("Close").Return(nil)

	engine, err := queueflow.New(queueflow.StaticBroker(broker),
		queueflow.WithConfig(testConfig()),
	)
	require.NoError(t, err)

	st, err := queueflow.Schedule(engine, queueflow.ScheduleConfig{
		ID:   "reports.daily",
		Cron: "0 9 * * *",
		Run:  func(ctx context.Context) error { return nil },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = st.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, queueflow.ErrScheduleInstall)
	assert.ErrorIs(t, err, assert.AnError)

	require.NoError(t, engine.Stop(context.Background()))
}

func TestSchedule_RecurringFire(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t)

	var runs atomic.Int32
	st, err := queueflow.Schedule(engine, queueflow.ScheduleConfig{
		ID:   "heartbeat.tick",
		Cron: "@every 1s",
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, st.Wait(ctx))

	require.Eventually(t, func() bool {
		return runs.Load() >= 1
	}, 10*time.Second, 50*time.Millisecond)

	require.NoError(t, engine.Stop(context.Background()))
}

func TestSchedule_OnError(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t)

	captured := make(chan error, 1)
	st, err := queueflow.Schedule(engine, queueflow.ScheduleConfig{
		ID:   "heartbeat.tick",
		Cron: "@every 1s",
		Run: func(ctx context.Context) error {
			return assert.AnError
		},
		OnError: func(ctx context.Context, jobErr error) {
			select {
			case captured <- jobErr:
			default:
			}
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, st.Wait(ctx))

	select {
	case jobErr := <-captured:
		assert.ErrorIs(t, jobErr, assert.AnError)
	case <-time.After(10 * time.Second):
		t.Fatal("error handler was never invoked")
	}

	require.NoError(t, engine.Stop(context.Background()))
}
