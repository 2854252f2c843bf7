package queueflow

import "time"

// TriggerOption is a functional option for a single Trigger call. Options are
// carried on the job verbatim and interpreted by the broker.
type TriggerOption func(*triggerOptions)

type triggerOptions struct {
	jobID       string
	delay       time.Duration
	maxAttempts int
	backoff     Backoff
}

// WithJobID overrides the generated job id with an explicit idempotency key.
// Two triggers with the same job id are deduplicated by the broker.
func WithJobID(id string) TriggerOption {
	return func(o *triggerOptions) {
		if id != "" {
			o.jobID = id
		}
	}
}

// WithDelay makes the job eligible for delivery only after the given
// duration has passed.
func WithDelay(delay time.Duration) TriggerOption {
	return func(o *triggerOptions) {
		if delay > 0 {
			o.delay = delay
		}
	}
}

// WithMaxAttempts sets the maximum number of delivery attempts.
func WithMaxAttempts(n int) TriggerOption {
	return func(o *triggerOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithBackoff sets the retry policy applied by the broker between attempts.
func WithBackoff(kind BackoffKind, delay time.Duration) TriggerOption {
	return func(o *triggerOptions) {
		o.backoff = Backoff{Kind: kind, Delay: delay}
	}
}
