package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/djlord-it/easy-remind/internal/domain"
)

// InsertJob returns domain.ErrDuplicateCorrelationID when the correlation id
// is already taken.
func (s *Store) InsertJob(ctx context.Context, job domain.Job) (int64, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	payload := job.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := marshalJSON(payload)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}
	if job.Status == "" {
		job.Status = domain.JobStatusQueued
	}
	createdAt := nowIfZero(job.CreatedAt)
	eligible := job.NextEligibleAt
	if eligible.IsZero() {
		eligible = createdAt
	}

	var id int64
	err = s.db.QueryRowContext(ctx, queryInsertJob,
		job.Type,
		payloadJSON,
		string(job.Status),
		string(job.Priority.Normalize()),
		job.Attempts,
		job.MaxAttempts,
		job.CorrelationID,
		nullInt64(job.OrganizationID),
		nullInt64(job.UserID),
		eligible,
		createdAt,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, domain.ErrDuplicateCorrelationID
		}
		return 0, err
	}
	return id, nil
}

// ClaimNextJob returns nil, nil when no queued job is eligible at now.
func (s *Store) ClaimNextJob(ctx context.Context, now time.Time) (*domain.Job, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	job, err := scanJob(s.db.QueryRowContext(ctx, queryClaimNextJob, now))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *Store) CompleteJob(ctx context.Context, id int64, result map[string]any, now time.Time) error {
	ctx, cancel := s.op(ctx)
	defer cancel()

	resultJSON, err := marshalMap(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return s.guardedUpdate(ctx, queryCompleteJob,
		[]any{id, resultJSON, now, terminalJobStatuses},
		queryJobExists, id)
}

func (s *Store) RetryJob(ctx context.Context, id int64, nextEligibleAt time.Time, errMsg string) error {
	ctx, cancel := s.op(ctx)
	defer cancel()

	return s.guardedUpdate(ctx, queryRetryJob,
		[]any{id, nextEligibleAt, errMsg, terminalJobStatuses},
		queryJobExists, id)
}

func (s *Store) FailJob(ctx context.Context, id int64, errMsg string, now time.Time) error {
	ctx, cancel := s.op(ctx)
	defer cancel()

	return s.guardedUpdate(ctx, queryFailJob,
		[]any{id, errMsg, now, terminalJobStatuses},
		queryJobExists, id)
}

// CancelJob only moves queued jobs. A processing or terminal job yields
// domain.ErrStatusTransitionDenied.
func (s *Store) CancelJob(ctx context.Context, id int64) error {
	ctx, cancel := s.op(ctx)
	defer cancel()

	return s.guardedUpdate(ctx, queryCancelJob, []any{id}, queryJobExists, id)
}

func (s *Store) GetJob(ctx context.Context, id int64) (domain.Job, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	job, err := scanJob(s.db.QueryRowContext(ctx, queryGetJob, id))
	return job, notFound(err)
}

func (s *Store) GetJobByCorrelationID(ctx context.Context, correlationID string) (domain.Job, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	job, err := scanJob(s.db.QueryRowContext(ctx, queryGetJobByCorrelationID, correlationID))
	return job, notFound(err)
}

// RequeueStaleJobs moves up to limit processing jobs started before olderThan
// back to queued, oldest first. A non-positive limit requeues all of them.
func (s *Store) RequeueStaleJobs(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, queryRequeueStaleJobs, olderThan, lim)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Store) AppendJobLog(ctx context.Context, entry domain.JobLogEntry) error {
	ctx, cancel := s.op(ctx)
	defer cancel()

	contextJSON, err := marshalMap(entry.Context)
	if err != nil {
		return fmt.Errorf("encode log context: %w", err)
	}
	_, err = s.db.ExecContext(ctx, queryInsertJobLog,
		entry.JobID,
		string(entry.Level),
		entry.Message,
		contextJSON,
		nowIfZero(entry.CreatedAt),
	)
	return err
}

func scanJob(row rowScanner) (domain.Job, error) {
	var (
		job                  domain.Job
		payload, result      []byte
		status, priority     string
		orgID, userID        sql.NullInt64
		startedAt, completed sql.NullTime
	)
	err := row.Scan(
		&job.ID,
		&job.Type,
		&payload,
		&status,
		&priority,
		&job.Attempts,
		&job.MaxAttempts,
		&job.CorrelationID,
		&orgID,
		&userID,
		&result,
		&job.Error,
		&job.NextEligibleAt,
		&job.CreatedAt,
		&startedAt,
		&completed,
	)
	if err != nil {
		return domain.Job{}, err
	}

	job.Status = domain.JobStatus(status)
	job.Priority = domain.Priority(priority)
	job.OrganizationID = int64Ptr(orgID)
	job.UserID = int64Ptr(userID)
	job.StartedAt = timePtr(startedAt)
	job.CompletedAt = timePtr(completed)
	if job.Payload, err = unmarshalMap(payload); err != nil {
		return domain.Job{}, fmt.Errorf("decode payload of job %d: %w", job.ID, err)
	}
	if job.Result, err = unmarshalMap(result); err != nil {
		return domain.Job{}, fmt.Errorf("decode result of job %d: %w", job.ID, err)
	}
	return job, nil
}
