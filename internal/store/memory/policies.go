package memory

import (
	"context"

	"github.com/djlord-it/easy-remind/internal/domain"
)

// SaveReminderPolicy keeps at most one default per organization: saving a
// default policy clears the flag on the others.
func (s *Store) SaveReminderPolicy(_ context.Context, p domain.ReminderPolicy) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == 0 {
		p.ID = s.id()
	}
	if p.IsDefault {
		for _, other := range s.remPolicies {
			if other.OrganizationID == p.OrganizationID && other.ID != p.ID {
				other.IsDefault = false
			}
		}
	}
	s.remPolicies[p.ID] = &p
	return p.ID, nil
}

func (s *Store) GetReminderPolicy(_ context.Context, orgID, id int64) (domain.ReminderPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.remPolicies[id]
	if !ok || p.OrganizationID != orgID {
		return domain.ReminderPolicy{}, domain.ErrNotFound
	}
	return *p, nil
}

func (s *Store) GetDefaultReminderPolicy(_ context.Context, orgID int64) (domain.ReminderPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.remPolicies {
		if p.OrganizationID == orgID && p.IsDefault {
			return *p, nil
		}
	}
	return domain.ReminderPolicy{}, domain.ErrNotFound
}

func (s *Store) SaveEscalationPolicy(_ context.Context, p domain.EscalationPolicy) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == 0 {
		p.ID = s.id()
	}
	s.escPolicies[p.ID] = &p
	return p.ID, nil
}

func (s *Store) GetEscalationPolicy(_ context.Context, orgID, id int64) (domain.EscalationPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.escPolicies[id]
	if !ok || p.OrganizationID != orgID {
		return domain.EscalationPolicy{}, domain.ErrNotFound
	}
	return *p, nil
}
