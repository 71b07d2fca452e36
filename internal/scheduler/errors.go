package scheduler

import "errors"

// Domain-specific errors for the scheduler.
var (
	// ErrInvalidSpec is returned for a cron expression that does not parse.
	ErrInvalidSpec = errors.New("scheduler: invalid schedule spec")

	// ErrAlreadyStarted is returned when Start is called on a running runner.
	ErrAlreadyStarted = errors.New("scheduler: runner already started")
)
