package main

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/djlord-it/easy-remind/internal/config"
)

func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if format == "console" {
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return zc.Build()
}

// logConfigWarnings flags settings that are valid but risky in production.
func logConfigWarnings(cfg config.Config, logger *zap.Logger) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("STORE_DRIVER=memory: state is lost on restart and leader election is off; run a single instance only")
	}

	if !cfg.ReconcileEnabled {
		logger.Warn("RECONCILE_ENABLED=false: jobs left in processing by a crashed worker are never requeued")
	}

	if !cfg.MetricsEnabled {
		logger.Warn("METRICS_ENABLED=false: queue depth, retries and leader changes are not observable")
	}

	if cfg.DeliveryWebhookURL == "" {
		logger.Info("DELIVERY_WEBHOOK_URL not set: notifications are written to the log only")
	} else if cfg.DeliveryWebhookSecret == "" {
		logger.Warn("DELIVERY_WEBHOOK_SECRET not set: delivery webhooks are sent unsigned")
	}

	if cfg.CircuitBreakerThreshold == 0 {
		logger.Info("CIRCUIT_BREAKER_THRESHOLD=0: failing channels are retried without backing off")
	}

	if cfg.ReconcileEnabled && cfg.ReconcileThreshold > 0 && cfg.ReconcileThreshold <= cfg.DispatcherDrainTimeout {
		logger.Warn("RECONCILE_THRESHOLD does not exceed DISPATCHER_DRAIN_TIMEOUT: draining jobs may be requeued twice",
			zap.Duration("reconcile_threshold", cfg.ReconcileThreshold),
			zap.Duration("drain_timeout", cfg.DispatcherDrainTimeout),
		)
	}
}
