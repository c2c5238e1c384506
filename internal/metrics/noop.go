package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) JobEnqueued(jobType, priority string)                              {}
func (n *NoopSink) JobClaimed(jobType string, queueWait time.Duration)                {}
func (n *NoopSink) JobFinished(jobType, outcome string, duration time.Duration)       {}
func (n *NoopSink) RetryScheduled(jobType string, backoff time.Duration)              {}
func (n *NoopSink) JobsInFlightIncr()                                                 {}
func (n *NoopSink) JobsInFlightDecr()                                                 {}
func (n *NoopSink) BufferSizeUpdate(size int)                                         {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                    {}
func (n *NoopSink) EmitError()                                                        {}
func (n *NoopSink) TickStarted()                                                      {}
func (n *NoopSink) TickCompleted(duration time.Duration, jobsEnqueued int, err error) {}
func (n *NoopSink) StaleJobsRequeued(count int)                                       {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                 {}
func (n *NoopSink) LeaderAcquired()                                                   {}
func (n *NoopSink) LeaderLost(reason string)                                          {}

func (n *NoopSink) ReminderPassCompleted(processed, reminders, escalations, failed int, duration time.Duration) {
}

var _ Sink = (*NoopSink)(nil)
