// Package delivery hands notifications to the outside world. The reminder
// engine only records events and queues jobs; the processors here load each
// event and pass it to a Sender.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/djlord-it/easy-remind/internal/domain"
)

type Recipient struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
}

// Message is the wire shape of one notification.
type Message struct {
	NotificationID int64            `json:"notification_id"`
	OrganizationID int64            `json:"organization_id"`
	ObligationID   int64            `json:"obligation_id"`
	Channel        domain.Channel   `json:"channel"`
	EventType      domain.EventType `json:"event_type"`
	Recipient      Recipient        `json:"recipient"`
	Content        map[string]any   `json:"content"`
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Poster is implemented by HTTPPoster.
type Poster interface {
	Post(ctx context.Context, req Request) Result
}

// WebhookSender posts every notification to one configured endpoint, which
// fans out to the real email/SMS/WhatsApp/push providers.
type WebhookSender struct {
	poster  Poster
	url     string
	secret  string
	timeout time.Duration
}

func NewWebhookSender(poster Poster, url, secret string, timeout time.Duration) *WebhookSender {
	return &WebhookSender{poster: poster, url: url, secret: secret, timeout: timeout}
}

func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return Permanent(fmt.Errorf("marshal: %w", err))
	}

	res := s.poster.Post(ctx, Request{
		URL:        s.url,
		Secret:     s.secret,
		Timeout:    s.timeout,
		DeliveryID: fmt.Sprintf("notification-%d", msg.NotificationID),
		Body:       body,
	})
	switch {
	case res.IsSuccess():
		return nil
	case res.Error != nil:
		return res.Error
	case res.IsRetryable():
		return fmt.Errorf("webhook returned %d", res.StatusCode)
	default:
		return Permanent(fmt.Errorf("webhook returned %d", res.StatusCode))
	}
}

// LogSender only logs. It is the default when no delivery endpoint is
// configured.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger.Named("delivery")}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("notification delivered",
		zap.Int64("notification_id", msg.NotificationID),
		zap.Int64("organization_id", msg.OrganizationID),
		zap.Int64("obligation_id", msg.ObligationID),
		zap.String("channel", string(msg.Channel)),
		zap.String("event_type", string(msg.EventType)),
		zap.Int64("recipient_user_id", msg.Recipient.UserID),
	)
	return nil
}
