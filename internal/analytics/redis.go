// Package analytics keeps hourly counters of notification fan-out in Redis.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/djlord-it/easy-remind/internal/domain"
)

const DefaultRetention = 30 * 24 * time.Hour

type RedisSink struct {
	client    *redis.Client
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewRedisSink(client *redis.Client, retention time.Duration) *RedisSink {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisSink{
		client:    client,
		retention: retention,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
}

func (s *RedisSink) WithLogger(logger *zap.Logger) *RedisSink {
	s.logger = logger.Named("analytics")
	return s
}

// RecordNotification counts one notification. Failures are logged only.
func (s *RedisSink) RecordNotification(ctx context.Context, orgID int64, eventType domain.EventType, channel domain.Channel) {
	if err := s.Record(ctx, orgID, eventType, channel, s.now()); err != nil {
		s.logger.Warn("failed to record notification",
			zap.Int64("organization_id", orgID),
			zap.String("event_type", string(eventType)),
			zap.String("channel", string(channel)),
			zap.Error(err),
		)
	}
}

func (s *RedisSink) Record(ctx context.Context, orgID int64, eventType domain.EventType, channel domain.Channel, at time.Time) error {
	key := BuildKey(orgID, eventType, channel, at)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// Count reads one hourly counter; a missing key counts as zero.
func (s *RedisSink) Count(ctx context.Context, orgID int64, eventType domain.EventType, channel domain.Channel, at time.Time) (int64, error) {
	n, err := s.client.Get(ctx, BuildKey(orgID, eventType, channel, at)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get: %w", err)
	}
	return n, nil
}

// BuildKey returns o:<org>:n:<eventType>:<channel>:<yyyymmddhh UTC>.
func BuildKey(orgID int64, eventType domain.EventType, channel domain.Channel, at time.Time) string {
	return fmt.Sprintf("o:%d:n:%s:%s:%s", orgID, eventType, channel, at.UTC().Format("2006010215"))
}
