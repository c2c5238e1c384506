package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Dispatcher metrics
	JobEnqueued(jobType, priority string)
	JobClaimed(jobType string, queueWait time.Duration)
	JobFinished(jobType, outcome string, duration time.Duration)
	RetryScheduled(jobType string, backoff time.Duration)
	JobsInFlightIncr()
	JobsInFlightDecr()

	// Wake bus metrics
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()

	// Scheduler metrics
	TickStarted()
	TickCompleted(duration time.Duration, jobsEnqueued int, err error)

	// Reconciler metrics
	StaleJobsRequeued(count int)

	// Reminder metrics
	ReminderPassCompleted(processed, reminders, escalations, failed int, duration time.Duration)

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Outcome constants for JobFinished.
const (
	OutcomeCompleted        = "completed"
	OutcomeRetried          = "retried"
	OutcomeFailed           = "failed"
	OutcomeNoProcessor      = "no_processor"
	OutcomeTransitionDenied = "transition_denied"
)
