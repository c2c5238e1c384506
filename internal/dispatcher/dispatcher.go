// Package dispatcher runs queued jobs through their registered processors.
//
// Jobs are persisted as queued by Enqueue and claimed atomically by a pool of
// workers. A worker keeps claiming until the store yields nothing, then sleeps
// until a wake signal, a retry hint, or the safety-net poll. Retries are
// persisted as the job's NextEligibleAt, so a restart never loses them.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/djlord-it/easy-remind/internal/domain"
	"github.com/djlord-it/easy-remind/internal/metrics"
	"github.com/djlord-it/easy-remind/internal/processor"
	"github.com/djlord-it/easy-remind/internal/transport/channel"
)

const (
	DefaultWorkers      = 1
	DefaultPollInterval = 5 * time.Second
	DefaultDrainTimeout = 30 * time.Second
	DefaultMaxAttempts  = 3
	DefaultMaxBackoff   = 10 * time.Minute
)

type Store interface {
	// InsertJob persists a queued job and returns its id. Implementations
	// return domain.ErrDuplicateCorrelationID when the correlation id is taken.
	InsertJob(ctx context.Context, job domain.Job) (int64, error)

	// ClaimNextJob atomically moves the best eligible queued job to
	// processing, increments its attempts and stamps StartedAt. Ordering is
	// priority first, then oldest CreatedAt. Returns nil when nothing is
	// eligible at now.
	ClaimNextJob(ctx context.Context, now time.Time) (*domain.Job, error)

	// CompleteJob, RetryJob and FailJob MUST reject updates to jobs in a
	// terminal state with domain.ErrStatusTransitionDenied.
	CompleteJob(ctx context.Context, id int64, result map[string]any, now time.Time) error
	RetryJob(ctx context.Context, id int64, nextEligibleAt time.Time, errMsg string) error
	FailJob(ctx context.Context, id int64, errMsg string, now time.Time) error

	GetJob(ctx context.Context, id int64) (domain.Job, error)
	GetJobByCorrelationID(ctx context.Context, correlationID string) (domain.Job, error)

	AppendJobLog(ctx context.Context, entry domain.JobLogEntry) error
}

// MetricsSink defines the interface for recording dispatcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	JobEnqueued(jobType, priority string)
	JobClaimed(jobType string, queueWait time.Duration)
	JobFinished(jobType, outcome string, duration time.Duration)
	RetryScheduled(jobType string, backoff time.Duration)
	JobsInFlightIncr()
	JobsInFlightDecr()
}

type Config struct {
	Workers      int
	PollInterval time.Duration
	DrainTimeout time.Duration
	MaxAttempts  int
	MaxBackoff   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	return c
}

type EnqueueOptions struct {
	Priority       domain.Priority
	UserID         *int64
	OrganizationID *int64
	CorrelationID  string
	ScheduledFor   *time.Time
	MaxAttempts    int
}

// EnqueueResult always carries a correlation id. JobID is nil when the store
// could not allocate one.
type EnqueueResult struct {
	JobID         *int64
	CorrelationID string
}

var ErrEmptyJobType = errors.New("dispatcher: job type is required")

type Dispatcher struct {
	store    Store
	registry *processor.Registry
	bus      *channel.Bus
	cfg      Config
	logger   *zap.Logger
	metrics  MetricsSink // optional, nil = disabled
	now      func() time.Time
}

func New(store Store, registry *processor.Registry, bus *channel.Bus, cfg Config) *Dispatcher {
	return &Dispatcher{
		store:    store,
		registry: registry,
		bus:      bus,
		cfg:      cfg.withDefaults(),
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (d *Dispatcher) WithLogger(logger *zap.Logger) *Dispatcher {
	d.logger = logger.Named("dispatcher")
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

// WithClock replaces the time source used for claims and retry scheduling.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Enqueue persists a queued job and returns without running it.
func (d *Dispatcher) Enqueue(ctx context.Context, jobType string, payload map[string]any, opts EnqueueOptions) (EnqueueResult, error) {
	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	res := EnqueueResult{CorrelationID: correlationID}
	if jobType == "" {
		return res, ErrEmptyJobType
	}

	now := d.now()
	eligible := now
	if opts.ScheduledFor != nil && opts.ScheduledFor.After(now) {
		eligible = opts.ScheduledFor.UTC()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = d.cfg.MaxAttempts
	}
	if payload == nil {
		payload = map[string]any{}
	}

	job := domain.Job{
		Type:           jobType,
		Payload:        payload,
		Status:         domain.JobStatusQueued,
		Priority:       opts.Priority.Normalize(),
		MaxAttempts:    maxAttempts,
		CorrelationID:  correlationID,
		OrganizationID: opts.OrganizationID,
		UserID:         opts.UserID,
		NextEligibleAt: eligible,
		CreatedAt:      now,
	}

	id, err := d.store.InsertJob(ctx, job)
	if err != nil {
		return res, fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	res.JobID = &id

	if d.metrics != nil {
		d.metrics.JobEnqueued(jobType, string(job.Priority))
	}
	d.logger.Debug("job enqueued",
		zap.Int64("job_id", id),
		zap.String("job_type", jobType),
		zap.String("correlation_id", correlationID),
		zap.String("priority", string(job.Priority)),
	)

	ready := domain.JobReady{JobID: id, Type: jobType, Priority: job.Priority}
	if wait := eligible.Sub(now); wait > 0 {
		d.wakeAfter(wait, ready)
	} else {
		d.wake(ready)
	}
	return res, nil
}

// Run starts the worker pool and blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	return d.run(ctx, d.cfg.PollInterval)
}

func (d *Dispatcher) run(ctx context.Context, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = d.cfg.PollInterval
	}
	d.logger.Info("dispatcher started",
		zap.Int("workers", d.cfg.Workers),
		zap.Duration("poll_interval", pollInterval),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			d.runWorker(gctx, pollInterval)
			return nil
		})
	}
	err := g.Wait()
	d.logger.Info("dispatcher stopped")
	return err
}

func (d *Dispatcher) runWorker(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var wake <-chan domain.JobReady
	if d.bus != nil {
		wake = d.bus.Channel()
	}

	for {
		d.drainQueue(ctx)

		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-ticker.C:
		}
	}
}

// drainQueue claims and runs jobs until the store has nothing eligible.
func (d *Dispatcher) drainQueue(ctx context.Context) {
	for ctx.Err() == nil {
		claimed, err := d.ProcessNext(ctx)
		if err != nil {
			d.logger.Error("claim failed", zap.Error(err))
			return
		}
		if !claimed {
			return
		}
	}
}

// ProcessNext claims one eligible job and runs it to an outcome. It reports
// whether a job was claimed.
func (d *Dispatcher) ProcessNext(ctx context.Context) (bool, error) {
	job, err := d.store.ClaimNextJob(ctx, d.now())
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	jobCtx, cancel := d.detach(ctx)
	defer cancel()
	d.execute(jobCtx, *job)
	return true, nil
}

// detach returns a context that survives cancellation of ctx for at most the
// drain timeout, so an in-flight job can finish and record its outcome.
func (d *Dispatcher) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		time.AfterFunc(d.cfg.DrainTimeout, cancel)
	})
	return jobCtx, func() {
		stop()
		cancel()
	}
}

func (d *Dispatcher) execute(ctx context.Context, job domain.Job) {
	if d.metrics != nil {
		d.metrics.JobsInFlightIncr()
		defer d.metrics.JobsInFlightDecr()
		if job.StartedAt != nil {
			d.metrics.JobClaimed(job.Type, job.StartedAt.Sub(job.CreatedAt))
		}
	}

	log := d.logger.With(
		zap.Int64("job_id", job.ID),
		zap.String("job_type", job.Type),
		zap.String("correlation_id", job.CorrelationID),
		zap.Int("attempt", job.Attempts),
	)

	proc, ok := d.registry.Lookup(job.Type)
	if !ok {
		msg := fmt.Sprintf("no processor for type %s", job.Type)
		log.Error("job failed", zap.String("error", msg))
		d.appendLog(ctx, job.ID, domain.LogLevelError, msg, nil)
		d.finish(ctx, log, job, metrics.OutcomeNoProcessor, 0, d.store.FailJob(ctx, job.ID, msg, d.now()))
		return
	}

	d.appendLog(ctx, job.ID, domain.LogLevelInfo, "job started", map[string]any{
		"attempt":     job.Attempts,
		"maxAttempts": job.MaxAttempts,
	})

	start := time.Now()
	outcome := invoke(ctx, proc, job)
	elapsed := time.Since(start)

	switch {
	case outcome.OK():
		log.Info("job completed", zap.Duration("duration", elapsed))
		d.appendLog(ctx, job.ID, domain.LogLevelInfo, "job completed", nil)
		d.finish(ctx, log, job, metrics.OutcomeCompleted, elapsed, d.store.CompleteJob(ctx, job.ID, outcome.Result, d.now()))

	case outcome.Permanent || job.Attempts >= job.MaxAttempts:
		msg := outcome.Err.Error()
		log.Error("job failed", zap.Error(outcome.Err), zap.Bool("permanent", outcome.Permanent))
		d.appendLog(ctx, job.ID, domain.LogLevelError, msg, map[string]any{"attempt": job.Attempts})
		d.finish(ctx, log, job, metrics.OutcomeFailed, elapsed, d.store.FailJob(ctx, job.ID, msg, d.now()))

	default:
		backoff := Backoff(job.Attempts, d.cfg.MaxBackoff)
		msg := outcome.Err.Error()
		log.Warn("job attempt failed, retry scheduled", zap.Error(outcome.Err), zap.Duration("backoff", backoff))
		d.appendLog(ctx, job.ID, domain.LogLevelWarn, msg, map[string]any{
			"attempt": job.Attempts,
			"backoff": backoff.String(),
		})
		err := d.store.RetryJob(ctx, job.ID, d.now().Add(backoff), msg)
		if err == nil {
			if d.metrics != nil {
				d.metrics.RetryScheduled(job.Type, backoff)
			}
			d.wakeAfter(backoff, domain.JobReady{JobID: job.ID, Type: job.Type, Priority: job.Priority})
		}
		d.finish(ctx, log, job, metrics.OutcomeRetried, elapsed, err)
	}
}

// finish records the outcome metric. A denied transition means the job was
// cancelled or finished elsewhere and is not an error.
func (d *Dispatcher) finish(ctx context.Context, log *zap.Logger, job domain.Job, outcome string, elapsed time.Duration, err error) {
	if err != nil {
		if errors.Is(err, domain.ErrStatusTransitionDenied) {
			log.Info("job already in terminal state, skipping outcome write")
			outcome = metrics.OutcomeTransitionDenied
		} else {
			log.Error("failed to record job outcome", zap.String("outcome", outcome), zap.Error(err))
		}
	}
	if d.metrics != nil {
		d.metrics.JobFinished(job.Type, outcome, elapsed)
	}
}

// invoke runs the processor, converting a panic into a transient failure.
func invoke(ctx context.Context, proc processor.Processor, job domain.Job) (outcome processor.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = processor.Failure(fmt.Errorf("processor panic: %v", r))
		}
	}()
	return proc.Process(ctx, job)
}

func (d *Dispatcher) appendLog(ctx context.Context, jobID int64, level domain.LogLevel, msg string, fields map[string]any) {
	entry := domain.JobLogEntry{
		JobID:     jobID,
		Level:     level,
		Message:   msg,
		Context:   fields,
		CreatedAt: d.now(),
	}
	if err := d.store.AppendJobLog(ctx, entry); err != nil {
		d.logger.Warn("failed to append job log", zap.Int64("job_id", jobID), zap.Error(err))
	}
}

func (d *Dispatcher) wake(ev domain.JobReady) {
	if d.bus == nil {
		return
	}
	d.bus.TryEmit(ev)
}

// wakeAfter is only a hint; the poll claims the job regardless.
func (d *Dispatcher) wakeAfter(delay time.Duration, ev domain.JobReady) {
	if d.bus == nil {
		return
	}
	time.AfterFunc(delay, func() { d.bus.TryEmit(ev) })
}

// Backoff returns the delay before the retry that follows the given attempt:
// 1s after the first, then 2s, 4s, 8s, capped at max.
func Backoff(attempt int, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	d := time.Second << shift
	if max > 0 && d > max {
		d = max
	}
	return d
}
