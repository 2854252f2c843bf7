package queueflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Benrobo/queueflow"
)

type emailPayload struct {
	UserID string `json:"user_id"`
}

func TestDefine(t *testing.T) {
	t.Parallel()

	t.Run("successful declaration", func(t *testing.T) {
		t.Parallel()

		engine, _ := newTestEngine(t)
		task, err := queueflow.Define(engine, queueflow.TaskConfig[emailPayload]{
			ID: "email.welcome",
			Run: func(ctx context.Context, p emailPayload) error {
				return nil
			},
		})
		require.NoError(t, err)
		require.NotNil(t, task)
		assert.Equal(t, "email.welcome", task.ID())
	})

	t.Run("nil engine error", func(t *testing.T) {
		t.Parallel()

		task, err := queueflow.Define[emailPayload](nil, queueflow.TaskConfig[emailPayload]{
			ID:  "email.welcome",
			Run: func(ctx context.Context, p emailPayload) error { return nil },
		})
		assert.ErrorIs(t, err, queueflow.ErrEngineNil)
		assert.Nil(t, task)
	})

	t.Run("empty id error", func(t *testing.T) {
		t.Parallel()

		engine, _ := newTestEngine(t)
		_, err := queueflow.Define(engine, queueflow.TaskConfig[emailPayload]{
			Run: func(ctx context.Context, p emailPayload) error { return nil },
		})
		assert.ErrorIs(t, err, queueflow.ErrTaskIDEmpty)
	})

	t.Run("nil run error", func(t *testing.T) {
		t.Parallel()

		engine, _ := newTestEngine(t)
		_, err := queueflow.Define(engine, queueflow.TaskConfig[emailPayload]{ID: "email.welcome"})
		assert.ErrorIs(t, err, queueflow.ErrRunFuncNil)
	})
}

func TestQueueNameResolution(t *testing.T) {
	t.Parallel()

	run := func(ctx context.Context, p emailPayload) error { return nil }

	tests := []struct {
		name     string
		id       string
		explicit string
		want     string
	}{
		{"explicit queue wins", "email.welcome", "critical", "critical"},
		{"namespace prefix", "email.welcome", "", "email"},
		{"deep namespace uses first segment", "email.batch.digest", "", "email"},
		{"no namespace falls back to default", "cleanup", "", "default"},
		{"leading separator falls back to default", ".hidden", "", "default"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			engine, _ := newTestEngine(t)
			task, err := queueflow.Define(engine, queueflow.TaskConfig[emailPayload]{
				ID:    tt.id,
				Queue: tt.explicit,
				Run:   run,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, task.QueueName())
		})
	}

	t.Run("configured default queue", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig()
		cfg.DefaultQueue = "background"
		engine, err := queueflow.New(queueflow.StaticBroker(queueflow.NewMemoryBroker()),
			queueflow.WithConfig(cfg))
		require.NoError(t, err)

		task, err := queueflow.Define(engine, queueflow.TaskConfig[emailPayload]{
			ID:  "cleanup",
			Run: run,
		})
		require.NoError(t, err)
		assert.Equal(t, "background", task.QueueName())
	})
}

func TestTask_Trigger(t *testing.T) {
	t.Parallel()

	t.Run("enqueues with generated job id", func(t *testing.T) {
		t.Parallel()

		engine, mb := newTestEngine(t)
		task, err := queueflow.Define(engine, queueflow.TaskConfig[emailPayload]{
			ID:  "email.welcome",
			Run: func(ctx context.Context, p emailPayload) error { return nil },
		})
		require.NoError(t, err)

		job, err := task.Trigger(context.Background(), emailPayload{UserID: "1"})
		require.NoError(t, err)
		require.NotNil(t, job)

		assert.True(t, strings.HasPrefix(job.ID, "email.welcome:"))
		assert.Equal(t, "email.welcome", job.TaskID)
		assert.Equal(t, "email", job.Queue)
		assert.Equal(t, 1, mb.PendingCount("email"))

		var decoded emailPayload
		require.NoError(t, json.Unmarshal(job.Payload, &decoded))
		assert.Equal(t, "1", decoded.UserID)

		require.NoError(t, engine.Stop(context.Background()))
	})

	t.Run("generated ids never collide", func(t *testing.T) {
		t.Parallel()

		engine, _ := newTestEngine(t)
		task, err := queueflow.Define(engine, queueflow.TaskConfig[emailPayload]{
			ID:  "email.welcome",
			Run: func(ctx context.Context, p emailPayload) error { return nil },
		})
		require.NoError(t, err)

		seen := make(map[string]bool)
		for i := 0; i < 50; i++ {
			job, err := task.Trigger(context.Background(), emailPayload{UserID: "1"})
			require.NoError(t, err)
			assert.False(t, seen[job.ID], "job id %s generated twice", job.ID)
			seen[job.ID] = true
		}

		require.NoError(t, engine.Stop(context.Background()))
	})

	t.Run("trigger options", func(t *testing.T) {
		t.Parallel()

		engine, _ := newTestEngine(t)
		task, err := queueflow.Define(engine, queueflow.TaskConfig[emailPayload]{
			ID:  "email.welcome",
			Run: func(ctx context.Context, p emailPayload) error { return nil },
		})
		require.NoError(t, err)

		before := time.Now()
		job, err := task.Trigger(context.Background(), emailPayload{UserID: "1"},
			queueflow.WithJobID("welcome-user-1"),
			queueflow.WithDelay(time.Hour),
			queueflow.WithMaxAttempts(7),
			queueflow.WithBackoff(queueflow.BackoffFixed, 5*time.Second),
		)
		require.NoError(t, err)

		assert.Equal(t, "welcome-user-1", job.ID)
		assert.Equal(t, 7, job.MaxAttempts)
		assert.Equal(t, queueflow.BackoffFixed, job.Backoff.Kind)
		assert.Equal(t, 5*time.Second, job.Backoff.Delay)
		assert.WithinDuration(t, before.Add(time.Hour), job.AvailableAt, time.Minute)

		require.NoError(t, engine.Stop(context.Background()))
	})

	t.Run("invalid backoff kind", func(t *testing.T) {
		t.Parallel()

		engine, _ := newTestEngine(t)
		task, err := queueflow.Define(engine, queueflow.TaskConfig[emailPayload]{
			ID:  "email.welcome",
			Run: func(ctx context.Context, p emailPayload) error { return nil },
		})
		require.NoError(t, err)

		_, err = task.Trigger(context.Background(), emailPayload{UserID: "1"},
			queueflow.WithBackoff("linear", time.Second))
		assert.ErrorIs(t, err, queueflow.ErrInvalidBackoff)
	})

	t.Run("enqueue failure propagates", func(t *testing.T) {
		t.Parallel()

		broker := new(MockBroker)
		broker.On("Enqueue", mock.Anything, mock.Anything).Return(errors.New("broker unreachable"))
		broker.On("Claim", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, queueflow.ErrNoJob).Maybe()
		broker.On("Close").Return(nil).Maybe()

		engine, err := queueflow.New(queueflow.StaticBroker(broker),
			queueflow.WithConfig(testConfig()))
		require.NoError(t, err)

		task, err := queueflow.Define(engine, queueflow.TaskConfig[emailPayload]{
			ID:  "email.welcome",
			Run: func(ctx context.Context, p emailPayload) error { return nil },
		})
		require.NoError(t, err)

		_, err = task.Trigger(context.Background(), emailPayload{UserID: "1"})
		require.Error(t, err)
		assert.ErrorIs(t, err, queueflow.ErrEnqueue)
		assert.Contains(t, err.Error(), "broker unreachable")

		require.NoError(t, engine.Stop(context.Background()))
	})

	t.Run("broker factory failure propagates", func(t *testing.T) {
		t.Parallel()

		factoryErr := errors.New("no connection configured")
		engine, err := queueflow.New(func(ctx context.Context) (queueflow.Broker, error) {
			return nil, factoryErr
		}, queueflow.WithConfig(testConfig()))
		require.NoError(t, err)

		task, err := queueflow.Define(engine, queueflow.TaskConfig[emailPayload]{
			ID:  "email.welcome",
			Run: func(ctx context.Context, p emailPayload) error { return nil },
		})
		require.NoError(t, err)

		_, err = task.Trigger(context.Background(), emailPayload{UserID: "1"})
		assert.ErrorIs(t, err, factoryErr)
	})
}

func TestDefine_LastWriteWins(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t)

	var firstRuns, secondRuns atomic.Int32

	_, err := queueflow.Define(engine, queueflow.TaskConfig[emailPayload]{
		ID: "email.welcome",
		Run: func(ctx context.Context, p emailPayload) error {
			firstRuns.Add(1)
			return nil
		},
	})
	require.NoError(t, err)

	task, err := queueflow.Define(engine, queueflow.TaskConfig[emailPayload]{
		ID: "email.welcome",
		Run: func(ctx context.Context, p emailPayload) error {
			secondRuns.Add(1)
			return nil
		},
	})
	require.NoError(t, err)

	_, err = task.Trigger(context.Background(), emailPayload{UserID: "1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return secondRuns.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(0), firstRuns.Load())

	require.NoError(t, engine.Stop(context.Background()))
}
