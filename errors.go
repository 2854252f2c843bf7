package queueflow

import "errors"

// Common errors
var (
	// ErrBrokerFactoryNil is returned when an engine is constructed without a broker factory
	ErrBrokerFactoryNil = errors.New("broker factory cannot be nil")

	// ErrBrokerNil is returned when a nil broker is wrapped as a static factory
	ErrBrokerNil = errors.New("broker cannot be nil")

	// ErrEngineNil is returned when a task is declared against a nil engine
	ErrEngineNil = errors.New("engine cannot be nil")

	// ErrTaskIDEmpty is returned when a task is declared without an id
	ErrTaskIDEmpty = errors.New("task id cannot be empty")

	// ErrRunFuncNil is returned when a task is declared without a run function
	ErrRunFuncNil = errors.New("task run function cannot be nil")

	// ErrPayloadMarshal is returned when payload marshaling fails on trigger
	ErrPayloadMarshal = errors.New("failed to marshal payload to JSON")

	// ErrPayloadUnmarshal is returned when a delivered payload does not decode
	// into the type the task was declared with
	ErrPayloadUnmarshal = errors.New("failed to unmarshal payload")

	// ErrEnqueue is returned when the broker rejects a job
	ErrEnqueue = errors.New("failed to enqueue job")

	// ErrInvalidCron is returned when a scheduled task is declared with a
	// cron expression the parser rejects
	ErrInvalidCron = errors.New("invalid cron expression")

	// ErrInvalidTimezone is returned when a scheduled task names an unknown
	// IANA timezone
	ErrInvalidTimezone = errors.New("invalid timezone")

	// ErrHandlerNotFound is reported when a delivered job names a task id
	// with no registered handler
	ErrHandlerNotFound = errors.New("no handler registered for task")

	// ErrNoJob is returned by brokers when no job is currently claimable;
	// consumers treat it as an idle tick, not a failure
	ErrNoJob = errors.New("no job available to claim")

	// ErrInvalidBackoff is returned when a trigger option carries an unknown
	// backoff kind
	ErrInvalidBackoff = errors.New("backoff kind must be fixed or exponential")

	// ErrScheduleInstall wraps failures of the list/remove/install round trip
	// performed for a scheduled task
	ErrScheduleInstall = errors.New("failed to install recurring schedule")
)
