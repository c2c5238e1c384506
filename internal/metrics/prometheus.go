package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	logger *zap.Logger

	// Dispatcher metrics
	jobsEnqueuedTotal *prometheus.CounterVec
	jobsFinishedTotal *prometheus.CounterVec
	retriesTotal      *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	jobQueueWait      *prometheus.HistogramVec
	retryBackoff      prometheus.Histogram
	jobsInFlight      prometheus.Gauge

	// Wake bus metrics
	bufferSize      prometheus.Gauge
	bufferCapacity  prometheus.Gauge
	emitErrorsTotal prometheus.Counter

	// Scheduler metrics
	ticksTotal        prometheus.Counter
	tickErrorsTotal   prometheus.Counter
	tickDuration      prometheus.Histogram
	tickEnqueuedTotal prometheus.Counter

	// Reconciler metrics
	staleRequeuedTotal prometheus.Counter

	// Reminder metrics
	obligationsProcessedTotal prometheus.Counter
	notificationsTotal        *prometheus.CounterVec
	obligationFailuresTotal   prometheus.Counter
	reminderPassDuration      prometheus.Histogram

	// Leader metrics
	isLeader        prometheus.Gauge
	leaderAcquired  prometheus.Counter
	leaderLostTotal *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer, logger *zap.Logger) *PrometheusSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PrometheusSink{logger: logger.Named("metrics")}
	s.initDispatcherMetrics(reg)
	s.initBusMetrics(reg)
	s.initSchedulerMetrics(reg)
	s.initReminderMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.jobsEnqueuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easyremind_jobs_enqueued_total",
		Help: "Total number of jobs enqueued.",
	}, []string{"type", "priority"})

	s.jobsFinishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easyremind_jobs_finished_total",
		Help: "Total number of job executions by outcome.",
	}, []string{"type", "outcome"})

	s.retriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easyremind_job_retries_total",
		Help: "Total number of retries scheduled.",
	}, []string{"type"})

	s.jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "easyremind_job_duration_seconds",
		Help:    "Processor execution time in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"type"})

	s.jobQueueWait = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "easyremind_job_queue_wait_seconds",
		Help:    "Time between a job becoming eligible and being claimed.",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"type"})

	s.retryBackoff = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "easyremind_job_retry_backoff_seconds",
		Help:    "Backoff applied to scheduled retries.",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 600},
	})

	s.jobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easyremind_jobs_in_flight",
		Help: "Number of jobs currently being processed.",
	})

	s.register(reg, s.jobsEnqueuedTotal, "easyremind_jobs_enqueued_total")
	s.register(reg, s.jobsFinishedTotal, "easyremind_jobs_finished_total")
	s.register(reg, s.retriesTotal, "easyremind_job_retries_total")
	s.register(reg, s.jobDuration, "easyremind_job_duration_seconds")
	s.register(reg, s.jobQueueWait, "easyremind_job_queue_wait_seconds")
	s.register(reg, s.retryBackoff, "easyremind_job_retry_backoff_seconds")
	s.register(reg, s.jobsInFlight, "easyremind_jobs_in_flight")
}

func (s *PrometheusSink) initBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easyremind_wakebus_buffer_size",
		Help: "Current number of wake signals in the buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easyremind_wakebus_buffer_capacity",
		Help: "Capacity of the wake signal buffer.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyremind_wakebus_emit_errors_total",
		Help: "Total number of dropped wake signals (buffer full).",
	})

	s.register(reg, s.bufferSize, "easyremind_wakebus_buffer_size")
	s.register(reg, s.bufferCapacity, "easyremind_wakebus_buffer_capacity")
	s.register(reg, s.emitErrorsTotal, "easyremind_wakebus_emit_errors_total")
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyremind_scheduler_ticks_total",
		Help: "Total number of scheduler ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyremind_scheduler_tick_errors_total",
		Help: "Total number of scheduler tick errors.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "easyremind_scheduler_tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
	s.tickEnqueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyremind_scheduler_jobs_enqueued_total",
		Help: "Total number of reminder_processing jobs enqueued by the scheduler.",
	})
	s.staleRequeuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyremind_reconciler_stale_jobs_requeued_total",
		Help: "Total number of stale processing jobs moved back to queued.",
	})

	s.register(reg, s.ticksTotal, "easyremind_scheduler_ticks_total")
	s.register(reg, s.tickErrorsTotal, "easyremind_scheduler_tick_errors_total")
	s.register(reg, s.tickDuration, "easyremind_scheduler_tick_duration_seconds")
	s.register(reg, s.tickEnqueuedTotal, "easyremind_scheduler_jobs_enqueued_total")
	s.register(reg, s.staleRequeuedTotal, "easyremind_reconciler_stale_jobs_requeued_total")
}

func (s *PrometheusSink) initReminderMetrics(reg prometheus.Registerer) {
	s.obligationsProcessedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyremind_reminder_obligations_processed_total",
		Help: "Total number of obligations evaluated by reminder passes.",
	})
	s.notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easyremind_reminder_notifications_total",
		Help: "Total number of notification events created by reminder passes.",
	}, []string{"kind"})
	s.obligationFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyremind_reminder_obligation_failures_total",
		Help: "Total number of obligations whose evaluation failed.",
	})
	s.reminderPassDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "easyremind_reminder_pass_duration_seconds",
		Help:    "Duration of one organization's reminder pass.",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	s.register(reg, s.obligationsProcessedTotal, "easyremind_reminder_obligations_processed_total")
	s.register(reg, s.notificationsTotal, "easyremind_reminder_notifications_total")
	s.register(reg, s.obligationFailuresTotal, "easyremind_reminder_obligation_failures_total")
	s.register(reg, s.reminderPassDuration, "easyremind_reminder_pass_duration_seconds")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.isLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easyremind_leader_is_leader",
		Help: "1 when this instance holds the leader lock.",
	})
	s.leaderAcquired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyremind_leader_acquired_total",
		Help: "Total number of times leadership was acquired.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easyremind_leader_lost_total",
		Help: "Total number of times leadership was lost, by reason.",
	}, []string{"reason"})

	s.register(reg, s.isLeader, "easyremind_leader_is_leader")
	s.register(reg, s.leaderAcquired, "easyremind_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "easyremind_leader_lost_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warn("failed to register collector", zap.String("name", name), zap.Error(err))
	}
}

// Dispatcher metrics implementation

func (s *PrometheusSink) JobEnqueued(jobType, priority string) {
	s.jobsEnqueuedTotal.WithLabelValues(jobType, priority).Inc()
}

func (s *PrometheusSink) JobClaimed(jobType string, queueWait time.Duration) {
	if queueWait < 0 {
		queueWait = 0
	}
	s.jobQueueWait.WithLabelValues(jobType).Observe(queueWait.Seconds())
}

func (s *PrometheusSink) JobFinished(jobType, outcome string, duration time.Duration) {
	s.jobsFinishedTotal.WithLabelValues(jobType, outcome).Inc()
	s.jobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

func (s *PrometheusSink) RetryScheduled(jobType string, backoff time.Duration) {
	s.retriesTotal.WithLabelValues(jobType).Inc()
	s.retryBackoff.Observe(backoff.Seconds())
}

func (s *PrometheusSink) JobsInFlightIncr() {
	s.jobsInFlight.Inc()
}

func (s *PrometheusSink) JobsInFlightDecr() {
	s.jobsInFlight.Dec()
}

// Wake bus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Scheduler and reconciler metrics implementation

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, jobsEnqueued int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.tickEnqueuedTotal.Add(float64(jobsEnqueued))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) StaleJobsRequeued(count int) {
	s.staleRequeuedTotal.Add(float64(count))
}

// Reminder metrics implementation

func (s *PrometheusSink) ReminderPassCompleted(processed, reminders, escalations, failed int, duration time.Duration) {
	s.obligationsProcessedTotal.Add(float64(processed))
	s.notificationsTotal.WithLabelValues("reminder").Add(float64(reminders))
	s.notificationsTotal.WithLabelValues("escalation").Add(float64(escalations))
	s.obligationFailuresTotal.Add(float64(failed))
	s.reminderPassDuration.Observe(duration.Seconds())
}

// Leader metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.isLeader.Set(1)
		return
	}
	s.isLeader.Set(0)
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquired.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}

var _ Sink = (*PrometheusSink)(nil)
