package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/djlord-it/easy-remind/internal/config"
	"github.com/djlord-it/easy-remind/internal/cron"
	"github.com/djlord-it/easy-remind/internal/scheduler"
)

// cronParserAdapter adapts internal/cron.Parser to scheduler.CronParser.
type cronParserAdapter struct {
	parser *cron.Parser
}

func (a *cronParserAdapter) Parse(expression string, timezone string) (scheduler.CronSchedule, error) {
	sched, err := a.parser.Parse(expression, timezone)
	if err != nil {
		return nil, err
	}
	return sched, nil
}

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	switch cmd := os.Args[1]; cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`easyremind - background jobs and obligation reminders

Usage:
  easyremind <command>

Commands:
  serve      Start the API, worker pool, reminder scheduler and reconciler
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables (a .env file in the working directory is loaded first):
  STORE_DRIVER               postgres | memory (default: "postgres")
  DATABASE_URL               PostgreSQL connection string (required for postgres)
  REDIS_ADDR                 Redis address for notification analytics (optional)
  HTTP_ADDR                  HTTP server address (default: ":8080", or ":$PORT")
  LOG_LEVEL                  debug | info | warn | error (default: "info")
  LOG_FORMAT                 json | console (default: "json")

  DB_OP_TIMEOUT              Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS          Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS          Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME       Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME      Max connection idle time (default: "5m")

  DISPATCHER_WORKERS         Concurrent job workers (default: "1")
  DISPATCHER_POLL_INTERVAL   Safety-net poll interval (default: "5s")
  DISPATCHER_DRAIN_TIMEOUT   In-flight job drain timeout (default: "30s")
  JOB_MAX_ATTEMPTS           Default attempts per job (default: "3")
  JOB_MAX_BACKOFF            Retry backoff cap (default: "10m")
  WAKE_BUFFER_SIZE           Wake bus capacity (default: "100")
  HTTP_SHUTDOWN_TIMEOUT      Graceful HTTP shutdown timeout (default: "10s")

  REMINDER_SCHEDULE          Cron expression for reminder passes (default: "0 * * * *")
  REMINDER_TIMEZONE          Time zone of REMINDER_SCHEDULE (default: "UTC")
  REMINDER_LOOKAHEAD         How far ahead due dates are scanned (default: "720h")
  REMINDER_MATCH_TOLERANCE   Reminder match window half-width (default: "30m")
  SCHEDULER_TICK_INTERVAL    Scheduler tick interval (default: "1m")
  POLICY_CACHE_TTL           Policy cache TTL, 0 disables (default: "1m")

  RECONCILE_ENABLED          Requeue jobs stuck in processing (default: "false")
  RECONCILE_INTERVAL         How often to scan (default: "1m")
  RECONCILE_THRESHOLD        Age before a processing job is stale (default: "15m")
  RECONCILE_BATCH_SIZE       Max jobs requeued per scan (default: "100")

  LEADER_LOCK_KEY            Advisory lock key shared by all instances (default: "728380")
  LEADER_RETRY_INTERVAL      Lock acquisition retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL  Lock connection heartbeat (default: "2s")

  METRICS_ENABLED            Enable Prometheus metrics (default: "false")
  METRICS_PATH               Metrics endpoint path (default: "/metrics")
  METRICS_PORT               Metrics server port (default: "9090")

  CIRCUIT_BREAKER_THRESHOLD  Failures before a channel opens, 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN   Open circuit cooldown (default: "2m")
  DELIVERY_WEBHOOK_URL       Notification delivery endpoint (optional; log only when empty)
  DELIVERY_WEBHOOK_SECRET    HMAC secret for X-EasyRemind-Signature (optional)
  DELIVERY_TIMEOUT           Delivery request timeout (default: "10s")
  CORS_ALLOWED_ORIGINS       Comma-separated origins (optional)`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}
	defer func() { _ = logger.Sync() }()

	logConfigWarnings(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return exitRuntimeError
	}
	defer a.close()

	code := a.serve(ctx, cfg)
	logger.Info("stopped")
	return code
}

// serve runs until ctx is cancelled or a server fails, then shuts down in
// order: leader duties, worker pool, HTTP API, metrics server.
func (a *app) serve(ctx context.Context, cfg config.Config) int {
	log := a.logger

	dutiesCtx, cancelDuties := context.WithCancel(context.Background())
	dutiesDone := make(chan struct{})
	go func() {
		defer close(dutiesDone)
		a.runDuties(dutiesCtx)
	}()

	a.worker.Start(cfg.DispatcherPollInterval)

	serverErr := make(chan error, 2)
	listen := func(name string, srv *http.Server) {
		log.Info(name+" server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("%s server: %w", name, err)
		}
	}
	go listen("http", a.httpServer)
	if a.metricsServer != nil {
		go listen("metrics", a.metricsServer)
	}

	log.Info("started",
		zap.String("version", version),
		zap.String("store", cfg.StoreDriver),
		zap.String("reminder_schedule", cfg.ReminderSchedule),
		zap.Int("workers", cfg.DispatcherWorkers),
	)

	code := exitSuccess
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-serverErr:
		log.Error("server failed, shutting down", zap.Error(err))
		code = exitRuntimeError
	}

	log.Info("stopping scheduler and reconciler")
	cancelDuties()
	<-dutiesDone

	log.Info("draining worker pool")
	a.worker.Stop()

	log.Info("stopping http server")
	shutdown(log, a.httpServer, cfg.HTTPShutdownTimeout)

	if a.metricsServer != nil {
		log.Info("stopping metrics server")
		shutdown(log, a.metricsServer, cfg.HTTPShutdownTimeout)
	}
	return code
}

func shutdown(log *zap.Logger, srv *http.Server, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("server shutdown error", zap.String("addr", srv.Addr), zap.Error(err))
	}
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("easyremind version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
