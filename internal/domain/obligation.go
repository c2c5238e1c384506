package domain

import "time"

type ObligationStatus string

const (
	ObligationStatusPending   ObligationStatus = "PENDING"
	ObligationStatusDueSoon   ObligationStatus = "DUE_SOON"
	ObligationStatusOverdue   ObligationStatus = "OVERDUE"
	ObligationStatusCompleted ObligationStatus = "COMPLETED"
	ObligationStatusCancelled ObligationStatus = "CANCELLED"
)

func (s ObligationStatus) IsTerminal() bool {
	return s == ObligationStatusCompleted || s == ObligationStatusCancelled
}

// Obligation is a trackable due-date item.
type Obligation struct {
	ID             int64
	OrganizationID int64
	Title          string
	DueAt          *time.Time
	Status         ObligationStatus

	ReminderPolicyID   *int64
	EscalationPolicyID *int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

type AssigneeType string

const (
	AssigneeUser AssigneeType = "USER"
	AssigneeTeam AssigneeType = "TEAM"
)

type ObligationAssignment struct {
	ObligationID int64
	AssigneeType AssigneeType
	AssigneeID   int64
}

type ActionType string

const (
	ActionReminderSent ActionType = "REMINDER_SENT"
	ActionEscalated    ActionType = "ESCALATED"
)

// ObligationAction is an entry in the obligation action log.
type ObligationAction struct {
	ID             int64
	ObligationID   int64
	OrganizationID int64
	Action         ActionType
	Details        map[string]any
	CreatedAt      time.Time
}
