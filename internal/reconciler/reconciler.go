// Package reconciler recovers jobs stranded in processing.
//
// A job is stranded when its worker died between the claim and recording the
// outcome. Such a job keeps status='processing' forever because no other
// worker will claim it. The reconciler periodically moves jobs whose
// StartedAt is older than the threshold back to queued and wakes the workers.
// A requeued job may run twice; processors must tolerate that.
package reconciler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/djlord-it/easy-remind/internal/domain"
)

type Store interface {
	RequeueStaleJobs(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

// Waker is implemented by the wake bus.
type Waker interface {
	TryEmit(ev domain.JobReady) bool
}

type MetricsSink interface {
	StaleJobsRequeued(count int)
}

type Config struct {
	// Interval is how often the reconciler runs.
	Interval time.Duration

	// Threshold is how long a job may stay in processing before it is
	// considered stranded. It must exceed the longest expected job run.
	Threshold time.Duration

	// BatchSize caps the jobs requeued per cycle.
	BatchSize int
}

func DefaultConfig() Config {
	return Config{
		Interval:  time.Minute,
		Threshold: 15 * time.Minute,
		BatchSize: 100,
	}
}

type Reconciler struct {
	config  Config
	store   Store
	waker   Waker       // optional, nil = workers find jobs on their next poll
	metrics MetricsSink // optional, nil = disabled
	logger  *zap.Logger
	clock   func() time.Time
}

func New(config Config, store Store, waker Waker) *Reconciler {
	return &Reconciler{
		config: config,
		store:  store,
		waker:  waker,
		logger: zap.NewNop(),
		clock:  time.Now,
	}
}

func (r *Reconciler) WithLogger(logger *zap.Logger) *Reconciler {
	r.logger = logger.Named("reconciler")
	return r
}

func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

// Run blocks until ctx is cancelled. The first cycle runs immediately.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.logger.Info("started",
		zap.Duration("interval", r.config.Interval),
		zap.Duration("threshold", r.config.Threshold),
		zap.Int("batch", r.config.BatchSize),
	)

	r.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stopped")
			return
		case <-ticker.C:
			r.RunCycle(ctx)
		}
	}
}

// RunCycle requeues one batch and returns how many jobs were requeued.
func (r *Reconciler) RunCycle(ctx context.Context) int {
	olderThan := r.clock().UTC().Add(-r.config.Threshold)

	n, err := r.store.RequeueStaleJobs(ctx, olderThan, r.config.BatchSize)
	if err != nil {
		// Retried next interval.
		r.logger.Error("requeue stale jobs failed", zap.Error(err))
		return 0
	}
	if n == 0 {
		return 0
	}

	if r.metrics != nil {
		r.metrics.StaleJobsRequeued(n)
	}
	r.logger.Warn("requeued stale jobs", zap.Int("count", n), zap.Time("older_than", olderThan))

	if r.waker != nil {
		for i := 0; i < n; i++ {
			if !r.waker.TryEmit(domain.JobReady{}) {
				break
			}
		}
	}
	return n
}
