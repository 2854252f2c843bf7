package queueflow_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benrobo/queueflow"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := queueflow.LoadConfig()
		require.NoError(t, err)

		assert.Equal(t, "default", cfg.DefaultQueue)
		assert.Equal(t, time.Second, cfg.PollInterval)
		assert.Equal(t, 5*time.Minute, cfg.LeaseTimeout)
		assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
		assert.Equal(t, 5, cfg.DefaultConcurrency)
		assert.Equal(t, 3, cfg.DefaultMaxAttempts)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("QUEUEFLOW_DEFAULT_QUEUE", "critical")
		t.Setenv("QUEUEFLOW_POLL_INTERVAL", "250ms")
		t.Setenv("QUEUEFLOW_DEFAULT_CONCURRENCY", "12")

		cfg, err := queueflow.LoadConfig()
		require.NoError(t, err)

		assert.Equal(t, "critical", cfg.DefaultQueue)
		assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
		assert.Equal(t, 12, cfg.DefaultConcurrency)
	})

	t.Run("malformed value", func(t *testing.T) {
		t.Setenv("QUEUEFLOW_POLL_INTERVAL", "soon")

		_, err := queueflow.LoadConfig()
		assert.ErrorIs(t, err, queueflow.ErrParsingConfig)
	})
}
