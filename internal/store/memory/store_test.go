package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/easy-remind/internal/domain"
)

var t0 = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func queued(cid string, p domain.Priority, created time.Time) domain.Job {
	return domain.Job{
		Type:           domain.JobTypeEmailSend,
		Status:         domain.JobStatusQueued,
		Priority:       p,
		MaxAttempts:    3,
		CorrelationID:  cid,
		NextEligibleAt: created,
		CreatedAt:      created,
	}
}

func TestClaimNextJob_PriorityThenAge(t *testing.T) {
	s := New()
	ctx := context.Background()

	lowID, _ := s.InsertJob(ctx, queued("low", domain.PriorityLow, t0))
	oldNormal, _ := s.InsertJob(ctx, queued("n1", domain.PriorityNormal, t0))
	newNormal, _ := s.InsertJob(ctx, queued("n2", domain.PriorityNormal, t0.Add(time.Second)))
	highID, _ := s.InsertJob(ctx, queued("high", domain.PriorityHigh, t0.Add(time.Minute)))

	now := t0.Add(time.Hour)
	var order []int64
	for {
		j, err := s.ClaimNextJob(ctx, now)
		require.NoError(t, err)
		if j == nil {
			break
		}
		assert.Equal(t, domain.JobStatusProcessing, j.Status)
		assert.Equal(t, 1, j.Attempts)
		require.NotNil(t, j.StartedAt)
		order = append(order, j.ID)
	}
	assert.Equal(t, []int64{highID, oldNormal, newNormal, lowID}, order)
}

func TestClaimNextJob_RespectsNextEligibleAt(t *testing.T) {
	s := New()
	ctx := context.Background()

	job := queued("later", domain.PriorityNormal, t0)
	job.NextEligibleAt = t0.Add(2 * time.Second)
	_, err := s.InsertJob(ctx, job)
	require.NoError(t, err)

	j, err := s.ClaimNextJob(ctx, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Nil(t, j)

	j, err = s.ClaimNextJob(ctx, t0.Add(2*time.Second))
	require.NoError(t, err)
	require.NotNil(t, j)
}

func TestInsertJob_DuplicateCorrelationID(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.InsertJob(ctx, queued("same", domain.PriorityNormal, t0))
	require.NoError(t, err)
	_, err = s.InsertJob(ctx, queued("same", domain.PriorityNormal, t0))
	assert.ErrorIs(t, err, domain.ErrDuplicateCorrelationID)
}

func TestTerminalGuard(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, _ := s.InsertJob(ctx, queued("c", domain.PriorityNormal, t0))
	_, _ = s.ClaimNextJob(ctx, t0)
	require.NoError(t, s.CompleteJob(ctx, id, map[string]any{"ok": true}, t0))

	assert.ErrorIs(t, s.FailJob(ctx, id, "late", t0), domain.ErrStatusTransitionDenied)
	assert.ErrorIs(t, s.RetryJob(ctx, id, t0, "late"), domain.ErrStatusTransitionDenied)
	assert.ErrorIs(t, s.CancelJob(ctx, id), domain.ErrStatusTransitionDenied)

	j, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, j.Status)
	assert.Equal(t, true, j.Result["ok"])
}

func TestCancelJob_OnlyQueued(t *testing.T) {
	s := New()
	ctx := context.Background()

	queuedID, _ := s.InsertJob(ctx, queued("q", domain.PriorityNormal, t0))
	require.NoError(t, s.CancelJob(ctx, queuedID))

	j, _ := s.GetJob(ctx, queuedID)
	assert.Equal(t, domain.JobStatusCancelled, j.Status)

	procID, _ := s.InsertJob(ctx, queued("p", domain.PriorityNormal, t0))
	_, _ = s.ClaimNextJob(ctx, t0)
	assert.ErrorIs(t, s.CancelJob(ctx, procID), domain.ErrStatusTransitionDenied)
	assert.ErrorIs(t, s.CancelJob(ctx, 999), domain.ErrNotFound)
}

func TestGetJob_ReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, _ := s.InsertJob(ctx, queued("copy", domain.PriorityNormal, t0))
	j, _ := s.GetJob(ctx, id)
	j.Payload["mutated"] = true

	again, _ := s.GetJob(ctx, id)
	assert.NotContains(t, again.Payload, "mutated")
}

func TestRequeueStaleJobs(t *testing.T) {
	s := New()
	ctx := context.Background()

	staleID, _ := s.InsertJob(ctx, queued("stale", domain.PriorityNormal, t0))
	_, _ = s.ClaimNextJob(ctx, t0)
	freshID, _ := s.InsertJob(ctx, queued("fresh", domain.PriorityNormal, t0))
	_, _ = s.ClaimNextJob(ctx, t0.Add(30*time.Minute))

	n, err := s.RequeueStaleJobs(ctx, t0.Add(15*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stale, _ := s.GetJob(ctx, staleID)
	fresh, _ := s.GetJob(ctx, freshID)
	assert.Equal(t, domain.JobStatusQueued, stale.Status)
	assert.Equal(t, domain.JobStatusProcessing, fresh.Status)
}

func TestObligations_OrganizationScope(t *testing.T) {
	s := New()
	ctx := context.Background()

	due := t0.Add(48 * time.Hour)
	a, _ := s.SaveObligation(ctx, domain.Obligation{OrganizationID: 1, Title: "a", DueAt: &due})
	_, _ = s.SaveObligation(ctx, domain.Obligation{OrganizationID: 2, Title: "b", DueAt: &due})
	require.NoError(t, s.SaveAssignment(ctx, domain.ObligationAssignment{ObligationID: a, AssigneeType: domain.AssigneeUser, AssigneeID: 7}))

	list, err := s.ListObligationsDueBetween(ctx, 1, t0, t0.Add(72*time.Hour))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a, list[0].ID)

	_, err = s.GetObligation(ctx, 2, a)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.UpdateObligationStatus(ctx, 2, a, domain.ObligationStatusOverdue), domain.ErrNotFound)

	assigned, _ := s.ListAssignments(ctx, 2, a)
	assert.Empty(t, assigned)
	assigned, _ = s.ListAssignments(ctx, 1, a)
	assert.Len(t, assigned, 1)

	orgs, _ := s.ListOrganizationIDs(ctx)
	assert.Equal(t, []int64{1, 2}, orgs)
}

func TestOverdue_SkipsTerminal(t *testing.T) {
	s := New()
	ctx := context.Background()

	past := t0.Add(-72 * time.Hour)
	open, _ := s.SaveObligation(ctx, domain.Obligation{OrganizationID: 1, DueAt: &past})
	_, _ = s.SaveObligation(ctx, domain.Obligation{OrganizationID: 1, DueAt: &past, Status: domain.ObligationStatusCompleted})

	list, err := s.ListOverdueObligations(ctx, 1, t0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, open, list[0].ID)
}

func TestUpdateObligationStatus_TerminalDenied(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, _ := s.SaveObligation(ctx, domain.Obligation{OrganizationID: 1, Status: domain.ObligationStatusCancelled})
	assert.ErrorIs(t, s.UpdateObligationStatus(ctx, 1, id, domain.ObligationStatusOverdue), domain.ErrStatusTransitionDenied)
}

func TestReminderPolicy_SingleDefault(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, _ := s.SaveReminderPolicy(ctx, domain.ReminderPolicy{OrganizationID: 1, Name: "first", IsDefault: true})
	second, _ := s.SaveReminderPolicy(ctx, domain.ReminderPolicy{OrganizationID: 1, Name: "second", IsDefault: true})
	other, _ := s.SaveReminderPolicy(ctx, domain.ReminderPolicy{OrganizationID: 2, Name: "other", IsDefault: true})

	def, err := s.GetDefaultReminderPolicy(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, second, def.ID)

	p, _ := s.GetReminderPolicy(ctx, 1, first)
	assert.False(t, p.IsDefault)

	def, _ = s.GetDefaultReminderPolicy(ctx, 2)
	assert.Equal(t, other, def.ID)

	_, err = s.GetDefaultReminderPolicy(ctx, 3)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNotificationLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.CreateNotificationEvent(ctx, domain.NotificationEvent{
		OrganizationID:  1,
		ObligationID:    5,
		EventType:       domain.EventTypeReminder,
		RecipientUserID: 9,
		Channel:         domain.ChannelEmail,
	})
	require.NoError(t, err)

	require.NoError(t, s.AttachNotificationJob(ctx, 1, id, 77))
	ev, _ := s.GetNotificationEvent(ctx, 1, id)
	assert.Equal(t, domain.NotificationStatusQueued, ev.Status)
	require.NotNil(t, ev.JobID)
	assert.Equal(t, int64(77), *ev.JobID)

	require.NoError(t, s.MarkNotificationSent(ctx, 1, id, t0))
	ev, _ = s.GetNotificationEvent(ctx, 1, id)
	assert.Equal(t, domain.NotificationStatusSent, ev.Status)

	assert.ErrorIs(t, s.MarkNotificationFailed(ctx, 2, id, "x"), domain.ErrNotFound)
}

func TestUsersAndTeams(t *testing.T) {
	s := New()
	ctx := context.Background()

	m1, _ := s.SaveUser(ctx, domain.User{OrganizationID: 1, Role: "manager"})
	_, _ = s.SaveUser(ctx, domain.User{OrganizationID: 1, Role: "member"})
	_, _ = s.SaveUser(ctx, domain.User{OrganizationID: 2, Role: "manager"})

	ids, _ := s.ListUserIDsByRole(ctx, 1, "manager")
	assert.Equal(t, []int64{m1}, ids)

	require.NoError(t, s.AddTeamMember(ctx, domain.TeamMember{TeamID: 3, UserID: 10, OrganizationID: 1}))
	require.NoError(t, s.AddTeamMember(ctx, domain.TeamMember{TeamID: 3, UserID: 11, OrganizationID: 2}))
	members, _ := s.ListTeamMemberIDs(ctx, 1, 3)
	assert.Equal(t, []int64{10}, members)
}
