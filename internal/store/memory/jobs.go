package memory

import (
	"context"
	"sort"
	"time"

	"github.com/djlord-it/easy-remind/internal/domain"
)

func (s *Store) InsertJob(_ context.Context, job domain.Job) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.correlations[job.CorrelationID]; ok {
		return 0, domain.ErrDuplicateCorrelationID
	}
	job.ID = s.id()
	job.Payload = copyMap(job.Payload)
	if job.Status == "" {
		job.Status = domain.JobStatusQueued
	}
	s.jobs[job.ID] = &job
	s.correlations[job.CorrelationID] = job.ID
	return job.ID, nil
}

// ClaimNextJob picks by priority rank, then CreatedAt, then id.
func (s *Store) ClaimNextJob(_ context.Context, now time.Time) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *domain.Job
	for _, j := range s.jobs {
		if j.Status != domain.JobStatusQueued || j.NextEligibleAt.After(now) {
			continue
		}
		if best == nil || claimsBefore(j, best) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}

	best.Status = domain.JobStatusProcessing
	best.Attempts++
	best.StartedAt = copyTime(&now)
	out := cloneJob(best)
	return &out, nil
}

func claimsBefore(a, b *domain.Job) bool {
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return ra < rb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (s *Store) CompleteJob(_ context.Context, id int64, result map[string]any, now time.Time) error {
	return s.transition(id, func(j *domain.Job) {
		j.Status = domain.JobStatusCompleted
		j.Result = copyMap(result)
		j.Error = ""
		j.CompletedAt = copyTime(&now)
	})
}

func (s *Store) RetryJob(_ context.Context, id int64, nextEligibleAt time.Time, errMsg string) error {
	return s.transition(id, func(j *domain.Job) {
		j.Status = domain.JobStatusQueued
		j.Error = errMsg
		j.NextEligibleAt = nextEligibleAt
	})
}

func (s *Store) FailJob(_ context.Context, id int64, errMsg string, now time.Time) error {
	return s.transition(id, func(j *domain.Job) {
		j.Status = domain.JobStatusFailed
		j.Error = errMsg
		j.CompletedAt = copyTime(&now)
	})
}

// CancelJob only moves queued jobs. Anything else is denied.
func (s *Store) CancelJob(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status != domain.JobStatusQueued {
		return domain.ErrStatusTransitionDenied
	}
	j.Status = domain.JobStatusCancelled
	return nil
}

func (s *Store) transition(id int64, apply func(*domain.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status.IsTerminal() {
		return domain.ErrStatusTransitionDenied
	}
	apply(j)
	return nil
}

func (s *Store) GetJob(_ context.Context, id int64) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *Store) GetJobByCorrelationID(_ context.Context, correlationID string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.correlations[correlationID]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return cloneJob(s.jobs[id]), nil
}

// ListJobs returns every job ordered by id.
func (s *Store) ListJobs(_ context.Context) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, cloneJob(j))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

// RequeueStaleJobs moves processing jobs started before olderThan back to
// queued, oldest first, up to limit.
func (s *Store) RequeueStaleJobs(_ context.Context, olderThan time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []*domain.Job
	for _, j := range s.jobs {
		if j.Status == domain.JobStatusProcessing && j.StartedAt != nil && j.StartedAt.Before(olderThan) {
			stale = append(stale, j)
		}
	}
	sort.Slice(stale, func(i, k int) bool { return stale[i].StartedAt.Before(*stale[k].StartedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	for _, j := range stale {
		j.Status = domain.JobStatusQueued
		j.NextEligibleAt = olderThan
	}
	return len(stale), nil
}

func (s *Store) AppendJobLog(_ context.Context, entry domain.JobLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = s.id()
	entry.Context = copyMap(entry.Context)
	s.jobLogs = append(s.jobLogs, entry)
	return nil
}

// JobLogs returns the log entries of one job in append order.
func (s *Store) JobLogs(jobID int64) []domain.JobLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.JobLogEntry
	for _, e := range s.jobLogs {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out
}

func cloneJob(j *domain.Job) domain.Job {
	out := *j
	out.Payload = copyMap(j.Payload)
	out.Result = copyMap(j.Result)
	out.OrganizationID = copyInt64(j.OrganizationID)
	out.UserID = copyInt64(j.UserID)
	out.StartedAt = copyTime(j.StartedAt)
	out.CompletedAt = copyTime(j.CompletedAt)
	return out
}
