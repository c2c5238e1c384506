package memory

import (
	"context"
	"sort"

	"github.com/djlord-it/easy-remind/internal/domain"
)

func (s *Store) SaveUser(_ context.Context, u domain.User) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == 0 {
		u.ID = s.id()
	}
	s.users[u.ID] = &u
	s.organizations[u.OrganizationID] = struct{}{}
	return u.ID, nil
}

func (s *Store) GetUser(_ context.Context, orgID, id int64) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok || u.OrganizationID != orgID {
		return domain.User{}, domain.ErrNotFound
	}
	return *u, nil
}

func (s *Store) ListUserIDsByRole(_ context.Context, orgID int64, role string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	for _, u := range s.users {
		if u.OrganizationID == orgID && u.Role == role {
			ids = append(ids, u.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) AddTeamMember(_ context.Context, m domain.TeamMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teamMembers = append(s.teamMembers, m)
	return nil
}

func (s *Store) ListTeamMemberIDs(_ context.Context, orgID, teamID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	for _, m := range s.teamMembers {
		if m.OrganizationID == orgID && m.TeamID == teamID {
			ids = append(ids, m.UserID)
		}
	}
	return ids, nil
}
