package domain

import "time"

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are permitted.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Progress is derived from the status, never stored.
func (s JobStatus) Progress() int {
	switch s {
	case JobStatusQueued:
		return 0
	case JobStatusProcessing:
		return 50
	case JobStatusCompleted:
		return 100
	default:
		return -1
	}
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank orders priorities for claiming: lower rank is served first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// Normalize maps unknown or empty priorities to normal.
func (p Priority) Normalize() Priority {
	switch p {
	case PriorityHigh, PriorityLow:
		return p
	default:
		return PriorityNormal
	}
}

// Built-in job types. The registry is open; hosts may register others.
const (
	JobTypeDocumentIngestion  = "document_ingestion"
	JobTypeAIExtraction       = "ai_extraction"
	JobTypeEmailSend          = "email_send"
	JobTypeNotificationSend   = "notification_send"
	JobTypeReportGeneration   = "report_generation"
	JobTypeDataExport         = "data_export"
	JobTypeFileProcessing     = "file_processing"
	JobTypeWebhookDelivery    = "webhook_delivery"
	JobTypeReminderProcessing = "reminder_processing"
)

// Job is a unit of deferred, type-tagged work.
type Job struct {
	ID            int64
	Type          string
	Payload       map[string]any
	Status        JobStatus
	Priority      Priority
	Attempts      int
	MaxAttempts   int
	CorrelationID string

	OrganizationID *int64
	UserID         *int64

	Result map[string]any
	Error  string

	// NextEligibleAt is the earliest time the job may be claimed. Retries
	// push it forward instead of relying on in-process timers.
	NextEligibleAt time.Time

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// JobReady is posted on the wake bus when a job becomes claimable.
type JobReady struct {
	JobID    int64
	Type     string
	Priority Priority
}
