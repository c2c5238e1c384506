// Package leaderelection elects one instance to run the reminder scheduler
// and the stale-job reconciler, using a Postgres session advisory lock.
//
// The lock lives as long as the dedicated connection that took it. There is
// no TTL and nothing to renew; when the connection dies Postgres releases the
// lock. The heartbeat ping only lets the leader notice a dead connection
// locally and stop its duties.
package leaderelection

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

const (
	ReasonShutdown = "shutdown"
	ReasonConnLost = "conn_lost"
)

type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

type Elector struct {
	db                *sql.DB
	lockKey           int64
	retryInterval     time.Duration
	heartbeatInterval time.Duration
	onElected         func(ctx context.Context)
	onDemoted         func()
	metrics           MetricsSink // optional, nil = disabled
	logger            *zap.Logger
}

// New builds an Elector.
//
// onElected runs in its own goroutine once the lock is taken; its context is
// cancelled when leadership ends and it must return soon after. The lock is
// not released until it has returned. onDemoted runs after that and must be
// idempotent.
func New(
	db *sql.DB,
	lockKey int64,
	retryInterval, heartbeatInterval time.Duration,
	onElected func(ctx context.Context),
	onDemoted func(),
) *Elector {
	return &Elector{
		db:                db,
		lockKey:           lockKey,
		retryInterval:     retryInterval,
		heartbeatInterval: heartbeatInterval,
		onElected:         onElected,
		onDemoted:         onDemoted,
		logger:            zap.NewNop(),
	}
}

func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

func (e *Elector) WithLogger(logger *zap.Logger) *Elector {
	e.logger = logger.Named("leader")
	return e
}

// Run blocks until ctx is cancelled.
func (e *Elector) Run(ctx context.Context) {
	e.logger.Info("election loop started",
		zap.Int64("lock_key", e.lockKey),
		zap.Duration("retry", e.retryInterval),
		zap.Duration("heartbeat", e.heartbeatInterval),
	)
	defer e.logger.Info("election loop stopped")

	for ctx.Err() == nil {
		if reason := e.runOnce(ctx); reason != "" && ctx.Err() == nil {
			e.logger.Warn("lost leadership", zap.String("reason", reason), zap.Duration("retry_in", e.retryInterval))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.retryInterval):
		}
	}
}

// runOnce tries to take the lock and holds it until ctx ends or the
// connection dies. It returns "" when the lock was not taken.
func (e *Elector) runOnce(ctx context.Context) string {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		e.logger.Error("failed to get dedicated connection", zap.Error(err))
		return ""
	}
	defer conn.Close()

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", e.lockKey).Scan(&acquired); err != nil {
		e.logger.Error("advisory lock query failed", zap.Error(err))
		return ""
	}
	if !acquired {
		e.logger.Debug("lock held by another instance", zap.Int64("lock_key", e.lockKey))
		return ""
	}

	e.logger.Info("acquired leadership", zap.Int64("lock_key", e.lockKey))
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
		e.metrics.LeaderAcquired()
	}

	leaderCtx, cancelLeader := context.WithCancel(ctx)
	dutiesDone := make(chan struct{})
	go func() {
		defer close(dutiesDone)
		e.onElected(leaderCtx)
	}()

	reason := e.holdLock(ctx, conn)

	cancelLeader()
	<-dutiesDone
	e.onDemoted()

	// Closing a *sql.Conn returns the session to the pool with the lock
	// still held, so release it explicitly unless the session is gone.
	if reason != ReasonConnLost {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		if _, err := conn.ExecContext(unlockCtx, "SELECT pg_advisory_unlock($1)", e.lockKey); err != nil {
			e.logger.Warn("advisory unlock failed", zap.Error(err))
		}
		cancel()
	}

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}
	e.logger.Info("released leadership", zap.Int64("lock_key", e.lockKey), zap.String("reason", reason))
	return reason
}

func (e *Elector) holdLock(ctx context.Context, conn *sql.Conn) string {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ReasonShutdown
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return ReasonShutdown
				}
				e.logger.Error("dedicated connection ping failed", zap.Error(err))
				return ReasonConnLost
			}
		}
	}
}
