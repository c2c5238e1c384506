package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/djlord-it/easy-remind/internal/analytics"
	"github.com/djlord-it/easy-remind/internal/api"
	"github.com/djlord-it/easy-remind/internal/circuitbreaker"
	"github.com/djlord-it/easy-remind/internal/config"
	"github.com/djlord-it/easy-remind/internal/cron"
	"github.com/djlord-it/easy-remind/internal/delivery"
	"github.com/djlord-it/easy-remind/internal/dispatcher"
	"github.com/djlord-it/easy-remind/internal/domain"
	"github.com/djlord-it/easy-remind/internal/leaderelection"
	"github.com/djlord-it/easy-remind/internal/metrics"
	"github.com/djlord-it/easy-remind/internal/orchestrator"
	"github.com/djlord-it/easy-remind/internal/policycache"
	"github.com/djlord-it/easy-remind/internal/processor"
	"github.com/djlord-it/easy-remind/internal/reconciler"
	"github.com/djlord-it/easy-remind/internal/scheduler"
	"github.com/djlord-it/easy-remind/internal/store/memory"
	"github.com/djlord-it/easy-remind/internal/store/postgres"
	"github.com/djlord-it/easy-remind/internal/transport/channel"

	_ "github.com/lib/pq"
)

// appStore is the union of every store interface the service consumes. Both
// the postgres and the memory store satisfy it.
type appStore interface {
	dispatcher.Store
	orchestrator.ObligationStore
	orchestrator.PolicyStore
	delivery.Store
	scheduler.Store
	reconciler.Store
	api.Canceller
}

type app struct {
	logger *zap.Logger
	db     *sql.DB // nil with the memory store
	redis  *redis.Client

	worker     *dispatcher.Worker
	scheduler  *scheduler.Scheduler
	reconciler *reconciler.Reconciler  // nil when disabled
	elector    *leaderelection.Elector // nil with the memory store

	httpServer    *http.Server
	metricsServer *http.Server // nil when disabled
}

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	store, err := a.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var sink metrics.Sink = metrics.NewNoopSink()
	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer, logger)
		mux := http.NewServeMux()
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
		a.metricsServer = &http.Server{
			Addr:              ":" + cfg.MetricsPort,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	bus := channel.NewBus(cfg.WakeBufferSize, channel.WithMetrics(sink))
	registry := processor.NewRegistry()

	disp := dispatcher.New(store, registry, bus, dispatcher.Config{
		Workers:      cfg.DispatcherWorkers,
		PollInterval: cfg.DispatcherPollInterval,
		DrainTimeout: cfg.DispatcherDrainTimeout,
		MaxAttempts:  cfg.JobMaxAttempts,
		MaxBackoff:   cfg.JobMaxBackoff,
	}).WithLogger(logger).WithMetrics(sink)
	a.worker = dispatcher.NewWorker(disp)

	var policies orchestrator.PolicyStore = store
	if cfg.PolicyCacheTTL > 0 {
		policies = policycache.New(store, cfg.PolicyCacheTTL)
	}

	orch := orchestrator.New(store, policies, disp, orchestrator.Config{
		Lookahead: cfg.ReminderLookahead,
		Tolerance: cfg.ReminderMatchTolerance,
	}).WithLogger(logger).WithMetrics(sink)

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		orch = orch.WithAnalytics(analytics.NewRedisSink(a.redis, analytics.DefaultRetention).WithLogger(logger))
		logger.Info("analytics enabled", zap.String("redis", cfg.RedisAddr))
	}

	if err := registerProcessors(registry, cfg, store, orch, logger); err != nil {
		return nil, err
	}

	a.scheduler, err = scheduler.New(scheduler.Config{
		TickInterval: cfg.SchedulerTickInterval,
		Expression:   cfg.ReminderSchedule,
		Timezone:     cfg.ReminderTimezone,
	}, store, disp, &cronParserAdapter{parser: cron.NewParser()})
	if err != nil {
		return nil, fmt.Errorf("reminder scheduler: %w", err)
	}
	a.scheduler = a.scheduler.WithLogger(logger).WithMetrics(sink)

	if cfg.ReconcileEnabled {
		a.reconciler = reconciler.New(reconciler.Config{
			Interval:  cfg.ReconcileInterval,
			Threshold: cfg.ReconcileThreshold,
			BatchSize: cfg.ReconcileBatchSize,
		}, store, bus).WithLogger(logger).WithMetrics(sink)
	}

	if a.db != nil {
		a.elector = leaderelection.New(
			a.db,
			cfg.LeaderLockKey,
			cfg.LeaderRetryInterval,
			cfg.LeaderHeartbeatInterval,
			a.runLeaderDuties,
			func() { logger.Info("leader duties stopped") },
		).WithLogger(logger).WithMetrics(sink)
	}

	handler := api.NewHandler(disp, store).
		WithCORS(cfg.CORSAllowedOrigins).
		WithLogger(logger)
	if a.db != nil {
		handler = handler.WithHealthChecker(a.db)
	}
	a.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return a, nil
}

func (a *app) openStore(ctx context.Context, cfg config.Config) (appStore, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		a.logger.Info("using in-memory store")
		return memory.New(), nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)
	a.db = db

	a.logger.Info("db pool configured",
		zap.Int("max_open", cfg.DBMaxOpenConns),
		zap.Int("max_idle", cfg.DBMaxIdleConns),
		zap.Duration("max_lifetime", cfg.DBConnMaxLifetime),
		zap.Duration("max_idle_time", cfg.DBConnMaxIdleTime),
	)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DBOpTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		return nil, err
	}

	return postgres.New(db).WithOpTimeout(cfg.DBOpTimeout), nil
}

func registerProcessors(registry *processor.Registry, cfg config.Config, store appStore, orch *orchestrator.Orchestrator, logger *zap.Logger) error {
	poster := delivery.NewHTTPPoster()

	var sender delivery.Sender = delivery.NewLogSender(logger)
	if cfg.DeliveryWebhookURL != "" {
		sender = delivery.NewWebhookSender(poster, cfg.DeliveryWebhookURL, cfg.DeliveryWebhookSecret, cfg.DeliveryTimeout)
	}

	notifications := delivery.NewNotificationProcessor(store, sender).WithLogger(logger)
	webhooks := delivery.NewWebhookProcessor(poster, cfg.DeliveryTimeout)
	if cfg.CircuitBreakerThreshold > 0 {
		// Separate breakers: notifications key by channel, webhooks by URL.
		notifications = notifications.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
		webhooks = webhooks.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
	}

	for jobType, p := range map[string]processor.Processor{
		domain.JobTypeReminderProcessing: orch.Processor(),
		domain.JobTypeNotificationSend:   notifications,
		domain.JobTypeEmailSend:          notifications,
		domain.JobTypeWebhookDelivery:    webhooks,
	} {
		if err := registry.Register(jobType, p); err != nil {
			return fmt.Errorf("register %s processor: %w", jobType, err)
		}
	}
	logger.Info("processors registered", zap.Strings("job_types", registry.Types()))
	return nil
}

// runDuties blocks until ctx is cancelled. With postgres the scheduler and
// reconciler only run while this instance holds the leader lock.
func (a *app) runDuties(ctx context.Context) {
	if a.elector != nil {
		a.elector.Run(ctx)
		return
	}
	a.runLeaderDuties(ctx)
}

func (a *app) runLeaderDuties(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_ = a.scheduler.Run(gctx)
		return nil
	})
	if a.reconciler != nil {
		g.Go(func() error {
			a.reconciler.Run(gctx)
			return nil
		})
	}
	_ = g.Wait()
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("database close failed", zap.Error(err))
		}
	}
}
