package memory

import (
	"context"
	"sort"
	"time"

	"github.com/djlord-it/easy-remind/internal/domain"
)

func (s *Store) CreateNotificationEvent(_ context.Context, ev domain.NotificationEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.ID = s.id()
	ev.Content = copyMap(ev.Content)
	if ev.Status == "" {
		ev.Status = domain.NotificationStatusPending
	}
	s.notifications[ev.ID] = &ev
	return ev.ID, nil
}

// AttachNotificationJob links the delivery job and marks the event queued.
func (s *Store) AttachNotificationJob(_ context.Context, orgID, eventID, jobID int64) error {
	return s.updateNotification(orgID, eventID, func(ev *domain.NotificationEvent) {
		ev.JobID = &jobID
		ev.Status = domain.NotificationStatusQueued
	})
}

func (s *Store) MarkNotificationSent(_ context.Context, orgID, eventID int64, at time.Time) error {
	return s.updateNotification(orgID, eventID, func(ev *domain.NotificationEvent) {
		ev.Status = domain.NotificationStatusSent
		ev.SentAt = copyTime(&at)
		ev.Error = ""
	})
}

func (s *Store) MarkNotificationFailed(_ context.Context, orgID, eventID int64, errMsg string) error {
	return s.updateNotification(orgID, eventID, func(ev *domain.NotificationEvent) {
		ev.Status = domain.NotificationStatusFailed
		ev.Error = errMsg
	})
}

func (s *Store) updateNotification(orgID, eventID int64, apply func(*domain.NotificationEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.notifications[eventID]
	if !ok || ev.OrganizationID != orgID {
		return domain.ErrNotFound
	}
	apply(ev)
	return nil
}

func (s *Store) GetNotificationEvent(_ context.Context, orgID, eventID int64) (domain.NotificationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.notifications[eventID]
	if !ok || ev.OrganizationID != orgID {
		return domain.NotificationEvent{}, domain.ErrNotFound
	}
	return cloneNotification(ev), nil
}

// ListNotificationEvents returns the events of orgID ordered by id.
func (s *Store) ListNotificationEvents(_ context.Context, orgID int64) ([]domain.NotificationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.NotificationEvent
	for _, ev := range s.notifications {
		if ev.OrganizationID == orgID {
			out = append(out, cloneNotification(ev))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneNotification(ev *domain.NotificationEvent) domain.NotificationEvent {
	out := *ev
	out.Content = copyMap(ev.Content)
	out.JobID = copyInt64(ev.JobID)
	out.SentAt = copyTime(ev.SentAt)
	return out
}
