package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when stopping a scheduler that was never started
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrTaskExpired is reported when a wake-up outlives its task timeout
	ErrTaskExpired = errors.New("background task expired")

	// ErrTaskPanicked is reported when the task panics
	ErrTaskPanicked = errors.New("background task panicked")
)
