package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/djlord-it/easy-remind/internal/domain"
)

// JobStatus is a read-only snapshot of a job for polling clients.
type JobStatus struct {
	ID            int64            `json:"id"`
	Type          string           `json:"type"`
	Status        domain.JobStatus `json:"status"`
	Progress      int              `json:"progress"`
	Result        map[string]any   `json:"result,omitempty"`
	Error         string           `json:"error,omitempty"`
	Attempts      int              `json:"attempts"`
	MaxAttempts   int              `json:"max_attempts"`
	CorrelationID string           `json:"correlation_id"`
	CreatedAt     time.Time        `json:"created_at"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

// GetJobStatus returns nil when the job does not exist.
func (d *Dispatcher) GetJobStatus(ctx context.Context, id int64) (*JobStatus, error) {
	job, err := d.store.GetJob(ctx, id)
	return snapshot(job, err)
}

// GetJobStatusByCorrelationID returns nil when no job carries the id.
func (d *Dispatcher) GetJobStatusByCorrelationID(ctx context.Context, correlationID string) (*JobStatus, error) {
	job, err := d.store.GetJobByCorrelationID(ctx, correlationID)
	return snapshot(job, err)
}

func snapshot(job domain.Job, err error) (*JobStatus, error) {
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job status: %w", err)
	}
	return &JobStatus{
		ID:            job.ID,
		Type:          job.Type,
		Status:        job.Status,
		Progress:      job.Status.Progress(),
		Result:        job.Result,
		Error:         job.Error,
		Attempts:      job.Attempts,
		MaxAttempts:   job.MaxAttempts,
		CorrelationID: job.CorrelationID,
		CreatedAt:     job.CreatedAt,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
	}, nil
}
