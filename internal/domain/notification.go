package domain

import "time"

type EventType string

const (
	EventTypeReminder   EventType = "REMINDER"
	EventTypeEscalation EventType = "ESCALATION"
	EventTypeDueToday   EventType = "DUE_TODAY"
	EventTypeOverdue    EventType = "OVERDUE"
)

type Channel string

const (
	ChannelInApp    Channel = "in_app"
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
)

type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusQueued  NotificationStatus = "queued"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

// NotificationEvent is the audit and delivery record for one recipient on
// one channel. Content is a snapshot kept for replay and debugging.
type NotificationEvent struct {
	ID              int64
	ObligationID    int64
	OrganizationID  int64
	EventType       EventType
	RecipientUserID int64
	Channel         Channel
	Status          NotificationStatus
	Content         map[string]any
	JobID           *int64
	Error           string

	CreatedAt time.Time
	SentAt    *time.Time
}
