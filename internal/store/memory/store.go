// Package memory is an in-process implementation of every store interface.
// It backs the memory store driver for local development and is used by
// tests across packages. All methods are safe for concurrent use.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/djlord-it/easy-remind/internal/domain"
)

type Store struct {
	mu sync.Mutex

	nextID int64

	jobs          map[int64]*domain.Job
	correlations  map[string]int64
	jobLogs       []domain.JobLogEntry
	organizations map[int64]struct{}

	obligations   map[int64]*domain.Obligation
	assignments   []domain.ObligationAssignment
	actions       []domain.ObligationAction
	remPolicies   map[int64]*domain.ReminderPolicy
	escPolicies   map[int64]*domain.EscalationPolicy
	notifications map[int64]*domain.NotificationEvent
	users         map[int64]*domain.User
	teamMembers   []domain.TeamMember
}

func New() *Store {
	return &Store{
		jobs:          make(map[int64]*domain.Job),
		correlations:  make(map[string]int64),
		organizations: make(map[int64]struct{}),
		obligations:   make(map[int64]*domain.Obligation),
		remPolicies:   make(map[int64]*domain.ReminderPolicy),
		escPolicies:   make(map[int64]*domain.EscalationPolicy),
		notifications: make(map[int64]*domain.NotificationEvent),
		users:         make(map[int64]*domain.User),
	}
}

// id must be called with mu held.
func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// AddOrganization registers an organization for ListOrganizationIDs.
func (s *Store) AddOrganization(orgID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.organizations[orgID] = struct{}{}
}

func (s *Store) ListOrganizationIDs(_ context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.organizations))
	for id := range s.organizations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
