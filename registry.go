package queueflow

import (
	"context"
	"encoding/json"
	"strings"
)

// handlerFunc is a type-erased task handler. Typed declarations are wrapped
// into one of these at registration time by closing over JSON decode plus the
// typed run function.
type handlerFunc func(ctx context.Context, payload json.RawMessage) error

// errorHandlerFunc receives the job failure and the original payload. It has
// no error return; a panic inside it is recovered and logged by the consumer.
type errorHandlerFunc func(ctx context.Context, jobErr error, payload json.RawMessage)

// taskDefinition is one entry in the engine's registry, keyed by task id.
// Immutable after creation; re-registering the same id replaces the entry
// wholesale (last write wins).
type taskDefinition struct {
	id          string
	queue       string
	handler     handlerFunc
	onError     errorHandlerFunc
	concurrency int
}

// resolveQueueName applies the queue resolution policy: an explicit queue
// wins; otherwise the namespace prefix of the task id (the substring before
// the first "."); otherwise the configured default.
func resolveQueueName(explicit, taskID, fallback string) string {
	if explicit != "" {
		return explicit
	}
	if i := strings.Index(taskID, "."); i > 0 {
		return taskID[:i]
	}
	return fallback
}
