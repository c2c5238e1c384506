// Package scheduler turns the reminder cron schedule into reminder_processing
// jobs, one per organization per fire time.
package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/djlord-it/easy-remind/internal/dispatcher"
	"github.com/djlord-it/easy-remind/internal/domain"
)

const DefaultTickInterval = time.Minute

// maxFiresPerTick bounds catch-up after a long pause.
const maxFiresPerTick = 1000

type Store interface {
	ListOrganizationIDs(ctx context.Context) ([]int64, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload map[string]any, opts dispatcher.EnqueueOptions) (dispatcher.EnqueueResult, error)
}

type CronParser interface {
	Parse(expression string, timezone string) (CronSchedule, error)
}

type CronSchedule interface {
	Next(after time.Time) time.Time
}

// MetricsSink records tick metrics. Methods must not block.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, jobsEnqueued int, err error)
}

type Config struct {
	TickInterval time.Duration
	Expression   string
	Timezone     string
}

type Scheduler struct {
	config   Config
	store    Store
	jobs     Enqueuer
	schedule CronSchedule
	logger   *zap.Logger
	metrics  MetricsSink // optional, nil = disabled
	clock    func() time.Time
	lastTick time.Time
}

// New parses the schedule up front so a bad expression fails at startup.
func New(config Config, store Store, jobs Enqueuer, parser CronParser) (*Scheduler, error) {
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}
	if config.Timezone == "" {
		config.Timezone = "UTC"
	}
	sched, err := parser.Parse(config.Expression, config.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	return &Scheduler{
		config:   config,
		store:    store,
		jobs:     jobs,
		schedule: sched,
		logger:   zap.NewNop(),
		clock:    time.Now,
	}, nil
}

func (s *Scheduler) WithLogger(logger *zap.Logger) *Scheduler {
	s.logger = logger.Named("scheduler")
	return s
}

func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.logger.Info("started",
		zap.Duration("tick", s.config.TickInterval),
		zap.String("schedule", s.config.Expression),
	)
	s.lastTick = s.clock().UTC()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger.Error("tick failed", zap.Error(err))
			}
		}
	}
}

// Tick enqueues every fire time in (lastTick, now] and returns how many jobs
// were enqueued. The first tick only records the time.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.clock().UTC()
	if s.lastTick.IsZero() {
		s.lastTick = now
		return 0, nil
	}

	if s.metrics != nil {
		s.metrics.TickStarted()
	}
	start := time.Now()

	enqueued, err := s.processTick(ctx, s.lastTick, now)

	if s.metrics != nil {
		s.metrics.TickCompleted(time.Since(start), enqueued, err)
	}
	if err != nil {
		// lastTick stays put so the window is retried.
		return enqueued, err
	}
	s.lastTick = now
	return enqueued, nil
}

func (s *Scheduler) processTick(ctx context.Context, lastTick, now time.Time) (int, error) {
	var fires []time.Time
	t := s.schedule.Next(lastTick)
	for i := 0; i < maxFiresPerTick && !t.After(now); i++ {
		fires = append(fires, t.UTC().Truncate(time.Minute))
		t = s.schedule.Next(t)
	}
	if len(fires) == 0 {
		return 0, nil
	}

	orgs, err := s.store.ListOrganizationIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list organizations: %w", err)
	}

	// A failed organization does not hold up the others. The error keeps the
	// window open and the retry skips what already went in as duplicates.
	var errs *multierror.Error
	enqueued := 0
	for _, fire := range fires {
		for _, orgID := range orgs {
			ok, err := s.enqueue(ctx, orgID, fire)
			if err != nil {
				s.logger.Error("enqueue failed",
					zap.Int64("organization_id", orgID),
					zap.Time("fire_time", fire),
					zap.Error(err),
				)
				errs = multierror.Append(errs, fmt.Errorf("organization %d at %s: %w", orgID, fire.Format(time.RFC3339), err))
				continue
			}
			if ok {
				enqueued++
			}
		}
	}
	return enqueued, errs.ErrorOrNil()
}

// enqueue reports false when the job for (orgID, fire) already exists.
func (s *Scheduler) enqueue(ctx context.Context, orgID int64, fire time.Time) (bool, error) {
	org := orgID
	res, err := s.jobs.Enqueue(ctx, domain.JobTypeReminderProcessing,
		map[string]any{"organization_id": orgID},
		dispatcher.EnqueueOptions{
			OrganizationID: &org,
			CorrelationID:  CorrelationID(orgID, fire),
		},
	)
	if errors.Is(err, domain.ErrDuplicateCorrelationID) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.logger.Debug("reminder pass enqueued",
		zap.Int64("organization_id", orgID),
		zap.Time("fire_time", fire),
		zap.String("correlation_id", res.CorrelationID),
	)
	return true, nil
}

// CorrelationID is stable per (org, fire time) so replays and concurrent
// schedulers collide on the job's unique correlation id.
func CorrelationID(orgID int64, fire time.Time) string {
	data := fmt.Sprintf("%d:%d", orgID, fire.UTC().Unix())
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("reminders:%d:%s", orgID, hex.EncodeToString(hash[:8]))
}
