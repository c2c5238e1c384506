package api

import "time"

type EnqueueJobRequest struct {
	Type           string         `json:"type"`
	Payload        map[string]any `json:"payload"`
	Priority       string         `json:"priority,omitempty"`
	OrganizationID *int64         `json:"organization_id,omitempty"`
	UserID         *int64         `json:"user_id,omitempty"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	ScheduledFor   *time.Time     `json:"scheduled_for,omitempty"`
	MaxAttempts    int            `json:"max_attempts,omitempty"`
}

type EnqueueJobResponse struct {
	JobID         int64  `json:"job_id"`
	CorrelationID string `json:"correlation_id"`
}

type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

type ErrorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
