package escalation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/djlord-it/easy-remind/internal/domain"
)

var now = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func overdueBy(d time.Duration) domain.Obligation {
	due := now.Add(-d)
	return domain.Obligation{ID: 1, OrganizationID: 1, DueAt: &due, Status: domain.ObligationStatusPending}
}

func policy(max int, triggers ...domain.EscalationTrigger) domain.EscalationPolicy {
	return domain.EscalationPolicy{
		IsActive: true,
		Rules:    domain.EscalationRules{Triggers: triggers, MaxEscalationLevel: max},
	}
}

func TestEvaluate_ExactDayMatch(t *testing.T) {
	p := policy(0, domain.EscalationTrigger{DaysOverdue: 3, NotifyUserIDs: []int64{42}, EscalationLevel: 1})

	d, ok := Evaluate(overdueBy(3*24*time.Hour), p, now)
	assert.True(t, ok)
	assert.Equal(t, 3, d.DaysOverdue)
	assert.Equal(t, 1, d.Level)
	assert.Equal(t, []int64{42}, d.Trigger.NotifyUserIDs)

	_, ok = Evaluate(overdueBy(4*24*time.Hour), p, now)
	assert.False(t, ok, "day 4 must not match a day-3 trigger")

	_, ok = Evaluate(overdueBy(2*24*time.Hour+23*time.Hour), p, now)
	assert.False(t, ok, "2 days 23 hours is day 2")
}

func TestEvaluate_NotOverdue(t *testing.T) {
	p := policy(0, domain.EscalationTrigger{DaysOverdue: 0, EscalationLevel: 1})

	_, ok := Evaluate(overdueBy(-time.Hour), p, now)
	assert.False(t, ok, "future due date")

	_, ok = Evaluate(overdueBy(0), p, now)
	assert.False(t, ok, "due exactly now has not passed")

	_, ok = Evaluate(domain.Obligation{ID: 1}, p, now)
	assert.False(t, ok, "no due date")

	d, ok := Evaluate(overdueBy(time.Hour), p, now)
	assert.True(t, ok, "one hour overdue is day 0")
	assert.Equal(t, 0, d.DaysOverdue)
}

func TestEvaluate_FirstMatchingTrigger(t *testing.T) {
	p := policy(0,
		domain.EscalationTrigger{DaysOverdue: 1, EscalationLevel: 1},
		domain.EscalationTrigger{DaysOverdue: 5, EscalationLevel: 2},
		domain.EscalationTrigger{DaysOverdue: 5, EscalationLevel: 3},
	)

	d, ok := Evaluate(overdueBy(5*24*time.Hour), p, now)
	assert.True(t, ok)
	assert.Equal(t, 2, d.Level)
}

func TestEvaluate_MaxEscalationLevel(t *testing.T) {
	p := policy(2,
		domain.EscalationTrigger{DaysOverdue: 7, EscalationLevel: 3},
		domain.EscalationTrigger{DaysOverdue: 7, EscalationLevel: 2},
	)

	d, ok := Evaluate(overdueBy(7*24*time.Hour), p, now)
	assert.True(t, ok)
	assert.Equal(t, 2, d.Level, "level 3 exceeds the policy maximum")

	only := policy(1, domain.EscalationTrigger{DaysOverdue: 7, EscalationLevel: 2})
	_, ok = Evaluate(overdueBy(7*24*time.Hour), only, now)
	assert.False(t, ok)
}

func TestShouldMarkOverdue(t *testing.T) {
	tests := []struct {
		status domain.ObligationStatus
		want   bool
	}{
		{domain.ObligationStatusPending, true},
		{domain.ObligationStatusDueSoon, true},
		{domain.ObligationStatusOverdue, false},
		{domain.ObligationStatusCompleted, false},
		{domain.ObligationStatusCancelled, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShouldMarkOverdue(tt.status), string(tt.status))
	}
}
