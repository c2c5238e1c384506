package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/djlord-it/easy-remind/internal/domain"
	"github.com/djlord-it/easy-remind/internal/processor"
)

type Store interface {
	GetNotificationEvent(ctx context.Context, orgID, id int64) (domain.NotificationEvent, error)
	GetUser(ctx context.Context, orgID, id int64) (domain.User, error)
	MarkNotificationSent(ctx context.Context, orgID, id int64, at time.Time) error
	MarkNotificationFailed(ctx context.Context, orgID, id int64, errMsg string) error
}

// Breaker is implemented by circuitbreaker.CircuitBreaker.
type Breaker interface {
	Allow(key string) error
	RecordSuccess(key string)
	RecordFailure(key string)
}

// NotificationProcessor delivers one NotificationEvent. It handles
// notification_send and email_send jobs.
type NotificationProcessor struct {
	store   Store
	sender  Sender
	breaker Breaker // optional, nil = disabled
	logger  *zap.Logger
	now     func() time.Time
}

func NewNotificationProcessor(store Store, sender Sender) *NotificationProcessor {
	return &NotificationProcessor{
		store:  store,
		sender: sender,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (p *NotificationProcessor) WithBreaker(b Breaker) *NotificationProcessor {
	p.breaker = b
	return p
}

func (p *NotificationProcessor) WithLogger(logger *zap.Logger) *NotificationProcessor {
	p.logger = logger.Named("delivery")
	return p
}

func (p *NotificationProcessor) WithClock(now func() time.Time) *NotificationProcessor {
	p.now = now
	return p
}

func (p *NotificationProcessor) Process(ctx context.Context, job domain.Job) processor.Outcome {
	eventID, err := processor.Int64Field(job.Payload, "notification_event_id")
	if err != nil {
		return processor.PermanentFailure(err)
	}
	orgID, err := processor.Int64Field(job.Payload, "organization_id")
	if err != nil {
		return processor.PermanentFailure(err)
	}

	ev, err := p.store.GetNotificationEvent(ctx, orgID, eventID)
	if errors.Is(err, domain.ErrNotFound) {
		return processor.PermanentFailure(fmt.Errorf("notification event %d not found", eventID))
	}
	if err != nil {
		return processor.Failure(fmt.Errorf("get notification event: %w", err))
	}
	if ev.Status == domain.NotificationStatusSent {
		return processor.Success(map[string]any{"notificationId": ev.ID, "status": "already_sent"})
	}

	user, err := p.store.GetUser(ctx, orgID, ev.RecipientUserID)
	if errors.Is(err, domain.ErrNotFound) {
		err = fmt.Errorf("recipient %d not found", ev.RecipientUserID)
		p.markFailed(ctx, ev, err)
		return processor.PermanentFailure(err)
	}
	if err != nil {
		return processor.Failure(fmt.Errorf("get recipient: %w", err))
	}

	key := string(ev.Channel)
	if p.breaker != nil {
		if err := p.breaker.Allow(key); err != nil {
			return processor.Failure(fmt.Errorf("channel %s: %w", key, err))
		}
	}

	msg := Message{
		NotificationID: ev.ID,
		OrganizationID: ev.OrganizationID,
		ObligationID:   ev.ObligationID,
		Channel:        ev.Channel,
		EventType:      ev.EventType,
		Recipient: Recipient{
			UserID: user.ID,
			Name:   user.Name,
			Email:  user.Email,
			Phone:  user.Phone,
		},
		Content: ev.Content,
	}

	if err := p.sender.Send(ctx, msg); err != nil {
		if p.breaker != nil {
			p.breaker.RecordFailure(key)
		}
		if IsPermanent(err) {
			p.markFailed(ctx, ev, err)
			return processor.PermanentFailure(err)
		}
		if job.Attempts >= job.MaxAttempts {
			p.markFailed(ctx, ev, err)
		}
		return processor.Failure(err)
	}
	if p.breaker != nil {
		p.breaker.RecordSuccess(key)
	}

	if err := p.store.MarkNotificationSent(ctx, orgID, ev.ID, p.now()); err != nil {
		// Delivered but not recorded; a replay sends again.
		p.logger.Warn("failed to mark notification sent", zap.Int64("notification_id", ev.ID), zap.Error(err))
	}
	return processor.Success(map[string]any{
		"notificationId": ev.ID,
		"channel":        string(ev.Channel),
		"recipient":      user.ID,
	})
}

func (p *NotificationProcessor) markFailed(ctx context.Context, ev domain.NotificationEvent, cause error) {
	if err := p.store.MarkNotificationFailed(ctx, ev.OrganizationID, ev.ID, cause.Error()); err != nil {
		p.logger.Warn("failed to mark notification failed", zap.Int64("notification_id", ev.ID), zap.Error(err))
	}
}

// WebhookProcessor handles webhook_delivery jobs. Payload: url, body
// (string or JSON value), optional secret.
type WebhookProcessor struct {
	poster  Poster
	breaker Breaker // optional, nil = disabled
	timeout time.Duration
}

func NewWebhookProcessor(poster Poster, timeout time.Duration) *WebhookProcessor {
	return &WebhookProcessor{poster: poster, timeout: timeout}
}

func (p *WebhookProcessor) WithBreaker(b Breaker) *WebhookProcessor {
	p.breaker = b
	return p
}

func (p *WebhookProcessor) Process(ctx context.Context, job domain.Job) processor.Outcome {
	url, err := processor.StringField(job.Payload, "url")
	if err != nil {
		return processor.PermanentFailure(err)
	}

	var body []byte
	switch b := job.Payload["body"].(type) {
	case nil:
		body = []byte("{}")
	case string:
		body = []byte(b)
	default:
		body, err = json.Marshal(b)
		if err != nil {
			return processor.PermanentFailure(fmt.Errorf("marshal body: %w", err))
		}
	}
	secret, _ := job.Payload["secret"].(string)

	if p.breaker != nil {
		if err := p.breaker.Allow(url); err != nil {
			return processor.Failure(fmt.Errorf("webhook %s: %w", url, err))
		}
	}

	res := p.poster.Post(ctx, Request{
		URL:        url,
		Secret:     secret,
		Timeout:    p.timeout,
		DeliveryID: job.CorrelationID,
		Body:       body,
	})

	if res.IsSuccess() {
		if p.breaker != nil {
			p.breaker.RecordSuccess(url)
		}
		return processor.Success(map[string]any{
			"statusCode": res.StatusCode,
			"durationMs": res.Duration.Milliseconds(),
		})
	}

	if p.breaker != nil {
		p.breaker.RecordFailure(url)
	}
	err = res.Error
	if err == nil {
		err = fmt.Errorf("webhook returned %d", res.StatusCode)
	}
	if res.IsRetryable() {
		return processor.Failure(err)
	}
	return processor.PermanentFailure(err)
}
