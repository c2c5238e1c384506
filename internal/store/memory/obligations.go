package memory

import (
	"context"
	"sort"
	"time"

	"github.com/djlord-it/easy-remind/internal/domain"
)

// SaveObligation inserts the obligation when ID is zero, otherwise replaces
// it. Its organization is registered implicitly.
func (s *Store) SaveObligation(_ context.Context, o domain.Obligation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.ID == 0 {
		o.ID = s.id()
	}
	if o.Status == "" {
		o.Status = domain.ObligationStatusPending
	}
	o.DueAt = copyTime(o.DueAt)
	s.obligations[o.ID] = &o
	s.organizations[o.OrganizationID] = struct{}{}
	return o.ID, nil
}

func (s *Store) GetObligation(_ context.Context, orgID, id int64) (domain.Obligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.obligations[id]
	if !ok || o.OrganizationID != orgID {
		return domain.Obligation{}, domain.ErrNotFound
	}
	return cloneObligation(o), nil
}

// ListObligationsDueBetween returns non-terminal obligations of orgID with
// from <= dueAt <= to.
func (s *Store) ListObligationsDueBetween(_ context.Context, orgID int64, from, to time.Time) ([]domain.Obligation, error) {
	return s.listObligations(orgID, func(due time.Time) bool {
		return !due.Before(from) && !due.After(to)
	}), nil
}

// ListOverdueObligations returns non-terminal obligations of orgID whose due
// date is before now.
func (s *Store) ListOverdueObligations(_ context.Context, orgID int64, now time.Time) ([]domain.Obligation, error) {
	return s.listObligations(orgID, func(due time.Time) bool {
		return due.Before(now)
	}), nil
}

func (s *Store) listObligations(orgID int64, match func(due time.Time) bool) []domain.Obligation {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Obligation
	for _, o := range s.obligations {
		if o.OrganizationID != orgID || o.DueAt == nil || o.Status.IsTerminal() {
			continue
		}
		if match(*o.DueAt) {
			out = append(out, cloneObligation(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueAt.Equal(*out[j].DueAt) {
			return out[i].DueAt.Before(*out[j].DueAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// UpdateObligationStatus refuses to move COMPLETED or CANCELLED obligations.
func (s *Store) UpdateObligationStatus(_ context.Context, orgID, id int64, status domain.ObligationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.obligations[id]
	if !ok || o.OrganizationID != orgID {
		return domain.ErrNotFound
	}
	if o.Status.IsTerminal() {
		return domain.ErrStatusTransitionDenied
	}
	o.Status = status
	return nil
}

func (s *Store) SaveAssignment(_ context.Context, a domain.ObligationAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments = append(s.assignments, a)
	return nil
}

// ListAssignments returns nothing when the obligation belongs to another
// organization.
func (s *Store) ListAssignments(_ context.Context, orgID, obligationID int64) ([]domain.ObligationAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.obligations[obligationID]
	if !ok || o.OrganizationID != orgID {
		return nil, nil
	}
	var out []domain.ObligationAssignment
	for _, a := range s.assignments {
		if a.ObligationID == obligationID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) AppendObligationAction(_ context.Context, action domain.ObligationAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	action.ID = s.id()
	action.Details = copyMap(action.Details)
	s.actions = append(s.actions, action)
	return nil
}

func (s *Store) ListObligationActions(_ context.Context, orgID, obligationID int64) ([]domain.ObligationAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ObligationAction
	for _, a := range s.actions {
		if a.OrganizationID == orgID && a.ObligationID == obligationID {
			out = append(out, a)
		}
	}
	return out, nil
}

func cloneObligation(o *domain.Obligation) domain.Obligation {
	out := *o
	out.DueAt = copyTime(o.DueAt)
	out.ReminderPolicyID = copyInt64(o.ReminderPolicyID)
	out.EscalationPolicyID = copyInt64(o.EscalationPolicyID)
	return out
}
