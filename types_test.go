package queueflow_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Benrobo/queueflow"
)

func TestBackoff_NextDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		backoff queueflow.Backoff
		attempt int
		want    time.Duration
	}{
		{"fixed first attempt", queueflow.Backoff{Kind: queueflow.BackoffFixed, Delay: 2 * time.Second}, 1, 2 * time.Second},
		{"fixed later attempt", queueflow.Backoff{Kind: queueflow.BackoffFixed, Delay: 2 * time.Second}, 5, 2 * time.Second},
		{"exponential first attempt", queueflow.Backoff{Kind: queueflow.BackoffExponential, Delay: time.Second}, 1, time.Second},
		{"exponential second attempt", queueflow.Backoff{Kind: queueflow.BackoffExponential, Delay: time.Second}, 2, 2 * time.Second},
		{"exponential fourth attempt", queueflow.Backoff{Kind: queueflow.BackoffExponential, Delay: time.Second}, 4, 8 * time.Second},
		{"attempt below one clamps", queueflow.Backoff{Kind: queueflow.BackoffExponential, Delay: time.Second}, 0, time.Second},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.backoff.NextDelay(tt.attempt))
		})
	}
}

func TestBackoff_Valid(t *testing.T) {
	t.Parallel()

	assert.True(t, queueflow.Backoff{Kind: queueflow.BackoffFixed}.Valid())
	assert.True(t, queueflow.Backoff{Kind: queueflow.BackoffExponential}.Valid())
	assert.False(t, queueflow.Backoff{Kind: "linear"}.Valid())
	assert.False(t, queueflow.Backoff{}.Valid())
}

func TestRepeatableJob_Matches(t *testing.T) {
	t.Parallel()

	entry := queueflow.RepeatableJob{Key: "reports.daily", Name: "reports.nightly"}

	assert.True(t, entry.Matches("reports.daily"))
	assert.True(t, entry.Matches("reports.nightly"))
	assert.False(t, entry.Matches("reports.weekly"))
}
