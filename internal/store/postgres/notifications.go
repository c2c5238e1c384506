package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/djlord-it/easy-remind/internal/domain"
)

func (s *Store) CreateNotificationEvent(ctx context.Context, ev domain.NotificationEvent) (int64, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	content, err := marshalMap(ev.Content)
	if err != nil {
		return 0, fmt.Errorf("encode notification content: %w", err)
	}
	if ev.Status == "" {
		ev.Status = domain.NotificationStatusPending
	}

	var id int64
	err = s.db.QueryRowContext(ctx, queryInsertNotificationEvent,
		ev.ObligationID,
		ev.OrganizationID,
		string(ev.EventType),
		ev.RecipientUserID,
		string(ev.Channel),
		string(ev.Status),
		content,
		nullInt64(ev.JobID),
		ev.Error,
		nowIfZero(ev.CreatedAt),
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AttachNotificationJob links the delivery job and marks the event queued.
func (s *Store) AttachNotificationJob(ctx context.Context, orgID, eventID, jobID int64) error {
	ctx, cancel := s.op(ctx)
	defer cancel()

	return requireRow(s.db.ExecContext(ctx, queryAttachNotificationJob, orgID, eventID, jobID))
}

func (s *Store) MarkNotificationSent(ctx context.Context, orgID, eventID int64, at time.Time) error {
	ctx, cancel := s.op(ctx)
	defer cancel()

	return requireRow(s.db.ExecContext(ctx, queryMarkNotificationSent, orgID, eventID, at))
}

func (s *Store) MarkNotificationFailed(ctx context.Context, orgID, eventID int64, errMsg string) error {
	ctx, cancel := s.op(ctx)
	defer cancel()

	return requireRow(s.db.ExecContext(ctx, queryMarkNotificationFailed, orgID, eventID, errMsg))
}

func (s *Store) GetNotificationEvent(ctx context.Context, orgID, eventID int64) (domain.NotificationEvent, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	ev, err := scanNotification(s.db.QueryRowContext(ctx, queryGetNotificationEvent, orgID, eventID))
	return ev, notFound(err)
}

// ListNotificationEvents returns the events of orgID ordered by id.
func (s *Store) ListNotificationEvents(ctx context.Context, orgID int64) ([]domain.NotificationEvent, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListNotificationEvents, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.NotificationEvent
	for rows.Next() {
		ev, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanNotification(row rowScanner) (domain.NotificationEvent, error) {
	var (
		ev                        domain.NotificationEvent
		eventType, channel, state string
		content                   []byte
		jobID                     sql.NullInt64
		sentAt                    sql.NullTime
	)
	err := row.Scan(
		&ev.ID,
		&ev.ObligationID,
		&ev.OrganizationID,
		&eventType,
		&ev.RecipientUserID,
		&channel,
		&state,
		&content,
		&jobID,
		&ev.Error,
		&ev.CreatedAt,
		&sentAt,
	)
	if err != nil {
		return domain.NotificationEvent{}, err
	}
	ev.EventType = domain.EventType(eventType)
	ev.Channel = domain.Channel(channel)
	ev.Status = domain.NotificationStatus(state)
	ev.JobID = int64Ptr(jobID)
	ev.SentAt = timePtr(sentAt)
	if ev.Content, err = unmarshalMap(content); err != nil {
		return domain.NotificationEvent{}, fmt.Errorf("decode content of notification %d: %w", ev.ID, err)
	}
	return ev, nil
}
