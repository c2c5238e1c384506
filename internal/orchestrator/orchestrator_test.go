package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/djlord-it/easy-remind/internal/dispatcher"
	"github.com/djlord-it/easy-remind/internal/domain"
	"github.com/djlord-it/easy-remind/internal/processor"
	"github.com/djlord-it/easy-remind/internal/store/memory"
	"github.com/djlord-it/easy-remind/internal/testutil"
)

// Monday, outside any quiet window used below.
var now = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

const orgA, orgB int64 = 1, 2

type fixture struct {
	store *memory.Store
	clock *testutil.FakeClock
	d     *dispatcher.Dispatcher
	o     *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), clock: testutil.NewFakeClock(now)}
	f.withRegistry(t, processor.NewRegistry())
	return f
}

// withRegistry rebuilds the dispatcher and orchestrator around reg.
func (f *fixture) withRegistry(t *testing.T, reg *processor.Registry) {
	f.d = dispatcher.New(f.store, reg, nil, dispatcher.Config{}).WithClock(f.clock.Now)
	f.o = New(f.store, f.store, f.d, Config{}).
		WithLogger(zaptest.NewLogger(t)).
		WithClock(f.clock.Now)
}

// drain runs every job that is eligible at the fixture's current time.
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	for {
		ok, err := f.d.ProcessNext(context.Background())
		require.NoError(t, err)
		if !ok {
			return
		}
	}
}

func (f *fixture) actions(t *testing.T, org, obligationID int64, kind domain.ActionType) []domain.ObligationAction {
	t.Helper()
	all, err := f.store.ListObligationActions(context.Background(), org, obligationID)
	require.NoError(t, err)
	var out []domain.ObligationAction
	for _, a := range all {
		if a.Action == kind {
			out = append(out, a)
		}
	}
	return out
}

func (f *fixture) obligation(t *testing.T, org int64, due time.Duration, mut func(*domain.Obligation)) int64 {
	t.Helper()
	dueAt := now.Add(due)
	ob := domain.Obligation{OrganizationID: org, Title: "File VAT return", DueAt: &dueAt}
	if mut != nil {
		mut(&ob)
	}
	id, err := f.store.SaveObligation(context.Background(), ob)
	require.NoError(t, err)
	return id
}

func (f *fixture) assign(t *testing.T, obligationID int64, typ domain.AssigneeType, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, f.store.SaveAssignment(context.Background(), domain.ObligationAssignment{
			ObligationID: obligationID, AssigneeType: typ, AssigneeID: id,
		}))
	}
}

func (f *fixture) reminderPolicy(t *testing.T, org int64, isDefault bool, rules domain.ReminderRules, channels domain.ChannelSet) int64 {
	t.Helper()
	id, err := f.store.SaveReminderPolicy(context.Background(), domain.ReminderPolicy{
		OrganizationID: org,
		Name:           "standard",
		Rules:          rules,
		Channels:       channels,
		IsActive:       true,
		IsDefault:      isDefault,
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) escalationPolicy(t *testing.T, org int64, triggers ...domain.EscalationTrigger) int64 {
	t.Helper()
	id, err := f.store.SaveEscalationPolicy(context.Background(), domain.EscalationPolicy{
		OrganizationID: org,
		Name:           "overdue",
		Rules:          domain.EscalationRules{Triggers: triggers},
		IsActive:       true,
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) events(t *testing.T, org int64) []domain.NotificationEvent {
	t.Helper()
	evs, err := f.store.ListNotificationEvents(context.Background(), org)
	require.NoError(t, err)
	return evs
}

func TestProcessReminders_FanOut(t *testing.T) {
	f := newFixture(t)
	f.reminderPolicy(t, orgA, true,
		domain.ReminderRules{OnDue: true},
		domain.ChannelSet{Email: true, InApp: true},
	)
	ob := f.obligation(t, orgA, 24*time.Hour, nil)
	f.assign(t, ob, domain.AssigneeUser, 10, 11)
	f.assign(t, ob, domain.AssigneeTeam, 99)

	res, err := f.o.ProcessReminders(context.Background(), orgA)
	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 1, RemindersSent: 4}, res)

	evs := f.events(t, orgA)
	require.Len(t, evs, 4)
	pairs := map[[2]any]bool{}
	for _, ev := range evs {
		assert.Equal(t, domain.EventTypeDueToday, ev.EventType)
		assert.Equal(t, domain.NotificationStatusQueued, ev.Status)
		require.NotNil(t, ev.JobID)
		pairs[[2]any{ev.RecipientUserID, ev.Channel}] = true

		job, err := f.store.GetJob(context.Background(), *ev.JobID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobTypeNotificationSend, job.Type)
		assert.Equal(t, ev.ID, job.Payload["notification_event_id"])
		assert.Equal(t, orgA, job.Payload["organization_id"])
	}
	assert.Len(t, pairs, 4, "one event per assignee and channel")

	actions, _ := f.store.ListObligationActions(context.Background(), orgA, ob)
	require.Len(t, actions, 1)
	assert.Equal(t, domain.ActionReminderSent, actions[0].Action)
	assert.Equal(t, 4, actions[0].Details["notifications"])
}

func TestProcessReminders_NoAssigneesNoAction(t *testing.T) {
	f := newFixture(t)
	f.reminderPolicy(t, orgA, true, domain.ReminderRules{OnDue: true}, domain.ChannelSet{Email: true})
	ob := f.obligation(t, orgA, time.Hour, nil)

	res, err := f.o.ProcessReminders(context.Background(), orgA)
	require.NoError(t, err)
	assert.Equal(t, 0, res.RemindersSent)

	actions, _ := f.store.ListObligationActions(context.Background(), orgA, ob)
	assert.Empty(t, actions, "no REMINDER_SENT without fan-out")
}

func TestProcessReminders_Escalation(t *testing.T) {
	f := newFixture(t)
	esc := f.escalationPolicy(t, orgA, domain.EscalationTrigger{
		DaysOverdue:     3,
		NotifyUserIDs:   []int64{42},
		EscalationLevel: 1,
	})
	ob := f.obligation(t, orgA, -3*24*time.Hour, func(o *domain.Obligation) {
		o.EscalationPolicyID = &esc
	})

	res, err := f.o.ProcessReminders(context.Background(), orgA)
	require.NoError(t, err)
	assert.Equal(t, 1, res.EscalationsSent)
	assert.Equal(t, 0, res.RemindersSent)

	evs := f.events(t, orgA)
	require.Len(t, evs, 1)
	assert.Equal(t, int64(42), evs[0].RecipientUserID)
	assert.Equal(t, domain.EventTypeEscalation, evs[0].EventType)
	assert.Equal(t, domain.ChannelEmail, evs[0].Channel)
	assert.Equal(t, 1, evs[0].Content["escalationLevel"])

	job, err := f.store.GetJob(context.Background(), *evs[0].JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobTypeEmailSend, job.Type)
	assert.Equal(t, domain.PriorityHigh, job.Priority)

	got, err := f.store.GetObligation(context.Background(), orgA, ob)
	require.NoError(t, err)
	assert.Equal(t, domain.ObligationStatusOverdue, got.Status)

	actions, _ := f.store.ListObligationActions(context.Background(), orgA, ob)
	require.Len(t, actions, 1)
	assert.Equal(t, domain.ActionEscalated, actions[0].Action)
	assert.Equal(t, 1, actions[0].Details["escalationLevel"])
	assert.Equal(t, 3, actions[0].Details["daysOverdue"])
}

func TestProcessReminders_EscalationExpandsRolesAndTeams(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mgr, _ := f.store.SaveUser(ctx, domain.User{OrganizationID: orgA, Role: "manager"})
	_, _ = f.store.SaveUser(ctx, domain.User{OrganizationID: orgB, Role: "manager"})
	require.NoError(t, f.store.AddTeamMember(ctx, domain.TeamMember{TeamID: 5, UserID: 300, OrganizationID: orgA}))
	require.NoError(t, f.store.AddTeamMember(ctx, domain.TeamMember{TeamID: 5, UserID: mgr, OrganizationID: orgA}))

	esc := f.escalationPolicy(t, orgA, domain.EscalationTrigger{
		DaysOverdue:     1,
		NotifyUserIDs:   []int64{42},
		NotifyRoles:     []string{"manager"},
		NotifyTeamIDs:   []int64{5},
		EscalationLevel: 2,
	})
	f.obligation(t, orgA, -30*time.Hour, func(o *domain.Obligation) { o.EscalationPolicyID = &esc })

	res, err := f.o.ProcessReminders(ctx, orgA)
	require.NoError(t, err)
	assert.Equal(t, 3, res.EscalationsSent)

	var recipients []int64
	for _, ev := range f.events(t, orgA) {
		recipients = append(recipients, ev.RecipientUserID)
	}
	assert.Equal(t, []int64{42, mgr, 300}, recipients)
}

func TestProcessReminders_NoEscalationDefault(t *testing.T) {
	f := newFixture(t)
	f.escalationPolicy(t, orgA, domain.EscalationTrigger{DaysOverdue: 3, NotifyUserIDs: []int64{42}, EscalationLevel: 1})

	noPolicy := f.obligation(t, orgA, -3*24*time.Hour, nil)
	missing := int64(9999)
	dangling := f.obligation(t, orgA, -3*24*time.Hour, func(o *domain.Obligation) { o.EscalationPolicyID = &missing })

	res, err := f.o.ProcessReminders(context.Background(), orgA)
	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 2}, res)
	assert.Empty(t, f.events(t, orgA))

	for _, id := range []int64{noPolicy, dangling} {
		got, _ := f.store.GetObligation(context.Background(), orgA, id)
		assert.Equal(t, domain.ObligationStatusPending, got.Status)
	}
}

func TestProcessReminders_DefaultReminderPolicyFallback(t *testing.T) {
	f := newFixture(t)
	f.reminderPolicy(t, orgA, true, domain.ReminderRules{OnDue: true}, domain.ChannelSet{InApp: true})
	missing := int64(12345)

	a := f.obligation(t, orgA, time.Hour, nil)
	b := f.obligation(t, orgA, 2*time.Hour, func(o *domain.Obligation) { o.ReminderPolicyID = &missing })
	f.assign(t, a, domain.AssigneeUser, 1)
	f.assign(t, b, domain.AssigneeUser, 1)

	res, err := f.o.ProcessReminders(context.Background(), orgA)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RemindersSent)
}

func TestProcessReminders_ExplicitPolicyWinsAndInactiveSkips(t *testing.T) {
	f := newFixture(t)
	f.reminderPolicy(t, orgA, true, domain.ReminderRules{OnDue: true}, domain.ChannelSet{InApp: true})
	inactive, err := f.store.SaveReminderPolicy(context.Background(), domain.ReminderPolicy{
		OrganizationID: orgA,
		Rules:          domain.ReminderRules{OnDue: true},
		Channels:       domain.ChannelSet{Email: true},
		IsActive:       false,
	})
	require.NoError(t, err)

	ob := f.obligation(t, orgA, time.Hour, func(o *domain.Obligation) { o.ReminderPolicyID = &inactive })
	f.assign(t, ob, domain.AssigneeUser, 1)

	res, err := f.o.ProcessReminders(context.Background(), orgA)
	require.NoError(t, err)
	assert.Equal(t, 0, res.RemindersSent, "an explicit inactive policy does not fall back")
}

// deliveryLog records the clock time each notification job ran at.
type deliveryLog struct {
	mu    sync.Mutex
	times []time.Time
}

func (l *deliveryLog) registry(t *testing.T, clock *testutil.FakeClock) *processor.Registry {
	t.Helper()
	reg := processor.NewRegistry()
	record := func(_ context.Context, _ domain.Job) processor.Outcome {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.times = append(l.times, clock.Now())
		return processor.Success(nil)
	}
	require.NoError(t, reg.RegisterFunc(domain.JobTypeNotificationSend, record))
	require.NoError(t, reg.RegisterFunc(domain.JobTypeEmailSend, record))
	return reg
}

func (l *deliveryLog) all() []time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Time(nil), l.times...)
}

func TestProcessReminders_QuietHoursDelayDelivery(t *testing.T) {
	log := &deliveryLog{}
	f := newFixture(t)
	f.withRegistry(t, log.registry(t, f.clock))

	_, err := f.store.SaveReminderPolicy(context.Background(), domain.ReminderPolicy{
		OrganizationID: orgA,
		Rules:          domain.ReminderRules{BeforeDue: []domain.BeforeDueOffset{{Days: 1}}},
		Channels:       domain.ChannelSet{Email: true},
		QuietHours:     domain.QuietHours{Enabled: true, Start: "22:00", End: "08:00", Timezone: "UTC"},
		IsActive:       true,
		IsDefault:      true,
	})
	require.NoError(t, err)

	// Due Tuesday 23:00; the one-day reminder matches Monday 23:00, inside
	// the quiet window.
	ob := f.obligation(t, orgA, 35*time.Hour, nil)
	f.assign(t, ob, domain.AssigneeUser, 42)
	monday23 := time.Date(2024, 3, 4, 23, 0, 0, 0, time.UTC)
	tuesday8 := time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)
	f.clock.Set(monday23)

	created := 0
	for pass := 0; pass < 23; pass++ {
		res, err := f.o.ProcessReminders(context.Background(), orgA)
		require.NoError(t, err)
		created += res.RemindersSent
		f.drain(t)

		if f.clock.Now().Before(tuesday8) {
			assert.Empty(t, log.all(), "nothing may be delivered at %v", f.clock.Now())
		}
		f.clock.Advance(time.Hour)
	}

	assert.Equal(t, 1, created)
	assert.Equal(t, []time.Time{tuesday8}, log.all(), "delivered once, when the quiet window closed")

	evs := f.events(t, orgA)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.EventTypeReminder, evs[0].EventType)
	assert.Equal(t, tuesday8.Format(time.RFC3339), evs[0].Content["deliverAt"])

	sent := f.actions(t, orgA, ob, domain.ActionReminderSent)
	require.Len(t, sent, 1)
	assert.Equal(t, "beforeDue:1d0h", sent[0].Details["rule"])
}

func TestProcessReminders_QuietHoursSkipWeekend(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.SaveReminderPolicy(context.Background(), domain.ReminderPolicy{
		OrganizationID: orgA,
		Rules:          domain.ReminderRules{OnDue: true},
		Channels:       domain.ChannelSet{InApp: true},
		QuietHours: domain.QuietHours{
			Enabled: true, Start: "20:00", End: "07:00", Timezone: "UTC", ExcludeWeekends: true,
		},
		IsActive:  true,
		IsDefault: true,
	})
	require.NoError(t, err)

	saturday := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	f.clock.Set(saturday)
	due := saturday.Add(6 * time.Hour)
	id, err := f.store.SaveObligation(context.Background(), domain.Obligation{OrganizationID: orgA, Title: "Payroll", DueAt: &due})
	require.NoError(t, err)
	f.assign(t, id, domain.AssigneeUser, 1)

	res, err := f.o.ProcessReminders(context.Background(), orgA)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RemindersSent)

	evs := f.events(t, orgA)
	require.Len(t, evs, 1)
	job, err := f.store.GetJob(context.Background(), *evs[0].JobID)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 11, 7, 0, 0, 0, time.UTC), job.NextEligibleAt, "held until Monday morning")
}

func TestProcessReminders_EachRuleOncePerRecipient(t *testing.T) {
	f := newFixture(t)
	f.reminderPolicy(t, orgA, true, domain.ReminderRules{OnDue: true}, domain.ChannelSet{Email: true, InApp: true})
	ob := f.obligation(t, orgA, 20*time.Hour, nil)
	f.assign(t, ob, domain.AssigneeUser, 10)

	total := 0
	for pass := 0; pass < 3; pass++ {
		res, err := f.o.ProcessReminders(context.Background(), orgA)
		require.NoError(t, err)
		total += res.RemindersSent
		f.clock.Advance(time.Hour)
	}
	assert.Equal(t, 2, total, "onDue keeps matching but each channel is notified once")

	f.assign(t, ob, domain.AssigneeUser, 11)
	res, err := f.o.ProcessReminders(context.Background(), orgA)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RemindersSent, "only the new assignee is notified")

	assert.Len(t, f.events(t, orgA), 4)
	assert.Len(t, f.actions(t, orgA, ob, domain.ActionReminderSent), 2)

	// A moved due date is a new reminder.
	moved := now.Add(22 * time.Hour)
	got, err := f.store.GetObligation(context.Background(), orgA, ob)
	require.NoError(t, err)
	got.DueAt = &moved
	_, err = f.store.SaveObligation(context.Background(), got)
	require.NoError(t, err)

	res, err = f.o.ProcessReminders(context.Background(), orgA)
	require.NoError(t, err)
	assert.Equal(t, 4, res.RemindersSent)
}

func TestProcessReminders_EscalatesOncePerTrigger(t *testing.T) {
	f := newFixture(t)
	esc := f.escalationPolicy(t, orgA,
		domain.EscalationTrigger{DaysOverdue: 3, NotifyUserIDs: []int64{42}, EscalationLevel: 1},
	)
	ob := f.obligation(t, orgA, -3*24*time.Hour, func(o *domain.Obligation) { o.EscalationPolicyID = &esc })

	total := 0
	for pass := 0; pass < 23; pass++ {
		res, err := f.o.ProcessReminders(context.Background(), orgA)
		require.NoError(t, err)
		total += res.EscalationsSent
		f.clock.Advance(time.Hour)
	}

	assert.Equal(t, 1, total)
	assert.Len(t, f.events(t, orgA), 1)
	assert.Len(t, f.actions(t, orgA, ob, domain.ActionEscalated), 1)
}

func TestProcessReminders_EmptyTriggerLoggedOnce(t *testing.T) {
	f := newFixture(t)
	esc := f.escalationPolicy(t, orgA, domain.EscalationTrigger{DaysOverdue: 2, EscalationLevel: 1})
	ob := f.obligation(t, orgA, -2*24*time.Hour, func(o *domain.Obligation) { o.EscalationPolicyID = &esc })

	for pass := 0; pass < 3; pass++ {
		_, err := f.o.ProcessReminders(context.Background(), orgA)
		require.NoError(t, err)
		f.clock.Advance(time.Hour)
	}

	assert.Empty(t, f.events(t, orgA))
	assert.Len(t, f.actions(t, orgA, ob, domain.ActionEscalated), 1)
}

// flakyEnqueuer fails enqueues of one job type after the first `allow` calls.
type flakyEnqueuer struct {
	next     Enqueuer
	mu       sync.Mutex
	failType string
	allow    int
	calls    int
}

func (e *flakyEnqueuer) Enqueue(ctx context.Context, jobType string, payload map[string]any, opts dispatcher.EnqueueOptions) (dispatcher.EnqueueResult, error) {
	e.mu.Lock()
	if jobType == e.failType {
		e.calls++
		if e.calls > e.allow {
			e.mu.Unlock()
			return dispatcher.EnqueueResult{}, errors.New("queue unavailable")
		}
	}
	e.mu.Unlock()
	return e.next.Enqueue(ctx, jobType, payload, opts)
}

func TestProcessReminders_ReminderFailureStillEscalates(t *testing.T) {
	f := newFixture(t)
	f.reminderPolicy(t, orgA, true,
		domain.ReminderRules{AfterDue: []domain.AfterDueOffset{{Days: 3}}},
		domain.ChannelSet{Email: true, InApp: true},
	)
	esc := f.escalationPolicy(t, orgA, domain.EscalationTrigger{DaysOverdue: 3, NotifyUserIDs: []int64{42}, EscalationLevel: 1})
	ob := f.obligation(t, orgA, -3*24*time.Hour, func(o *domain.Obligation) { o.EscalationPolicyID = &esc })
	f.assign(t, ob, domain.AssigneeUser, 10, 11)

	jobs := &flakyEnqueuer{next: f.d, failType: domain.JobTypeNotificationSend, allow: 1}
	o := New(f.store, f.store, jobs, Config{}).WithClock(f.clock.Now)

	res, err := o.ProcessReminders(context.Background(), orgA)
	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 1, RemindersSent: 1, EscalationsSent: 1, Failed: 1}, res)

	sent := f.actions(t, orgA, ob, domain.ActionReminderSent)
	require.Len(t, sent, 1, "the partial fan-out is recorded")
	assert.Equal(t, 1, sent[0].Details["notifications"])
	assert.Len(t, f.actions(t, orgA, ob, domain.ActionEscalated), 1)

	jobs.mu.Lock()
	jobs.allow = 100
	jobs.mu.Unlock()
	f.clock.Advance(time.Hour)

	res, err = o.ProcessReminders(context.Background(), orgA)
	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 1, RemindersSent: 3}, res, "the next pass completes the fan-out only")
}

func TestProcessReminders_SkipsTerminalObligations(t *testing.T) {
	f := newFixture(t)
	f.reminderPolicy(t, orgA, true, domain.ReminderRules{OnDue: true}, domain.ChannelSet{Email: true})
	done := f.obligation(t, orgA, time.Hour, func(o *domain.Obligation) { o.Status = domain.ObligationStatusCompleted })
	f.assign(t, done, domain.AssigneeUser, 1)

	res, err := f.o.ProcessReminders(context.Background(), orgA)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

// recordingStore records the organization id of every scoped call.
type recordingStore struct {
	*memory.Store
	mu   sync.Mutex
	orgs []int64
}

func (r *recordingStore) saw(org int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orgs = append(r.orgs, org)
}

func (r *recordingStore) ListObligationsDueBetween(ctx context.Context, org int64, from, to time.Time) ([]domain.Obligation, error) {
	r.saw(org)
	return r.Store.ListObligationsDueBetween(ctx, org, from, to)
}

func (r *recordingStore) ListOverdueObligations(ctx context.Context, org int64, at time.Time) ([]domain.Obligation, error) {
	r.saw(org)
	return r.Store.ListOverdueObligations(ctx, org, at)
}

func (r *recordingStore) ListAssignments(ctx context.Context, org, id int64) ([]domain.ObligationAssignment, error) {
	r.saw(org)
	return r.Store.ListAssignments(ctx, org, id)
}

func (r *recordingStore) UpdateObligationStatus(ctx context.Context, org, id int64, s domain.ObligationStatus) error {
	r.saw(org)
	return r.Store.UpdateObligationStatus(ctx, org, id, s)
}

func (r *recordingStore) AppendObligationAction(ctx context.Context, a domain.ObligationAction) error {
	r.saw(a.OrganizationID)
	return r.Store.AppendObligationAction(ctx, a)
}

func (r *recordingStore) CreateNotificationEvent(ctx context.Context, ev domain.NotificationEvent) (int64, error) {
	r.saw(ev.OrganizationID)
	return r.Store.CreateNotificationEvent(ctx, ev)
}

func (r *recordingStore) AttachNotificationJob(ctx context.Context, org, eventID, jobID int64) error {
	r.saw(org)
	return r.Store.AttachNotificationJob(ctx, org, eventID, jobID)
}

func (r *recordingStore) GetReminderPolicy(ctx context.Context, org, id int64) (domain.ReminderPolicy, error) {
	r.saw(org)
	return r.Store.GetReminderPolicy(ctx, org, id)
}

func (r *recordingStore) GetDefaultReminderPolicy(ctx context.Context, org int64) (domain.ReminderPolicy, error) {
	r.saw(org)
	return r.Store.GetDefaultReminderPolicy(ctx, org)
}

func (r *recordingStore) GetEscalationPolicy(ctx context.Context, org, id int64) (domain.EscalationPolicy, error) {
	r.saw(org)
	return r.Store.GetEscalationPolicy(ctx, org, id)
}

func TestProcessReminders_MultiTenantIsolation(t *testing.T) {
	f := newFixture(t)
	rec := &recordingStore{Store: f.store}
	o := New(rec, rec, f.d, Config{}).WithClock(func() time.Time { return now })

	for _, org := range []int64{orgA, orgB} {
		f.reminderPolicy(t, org, true, domain.ReminderRules{OnDue: true}, domain.ChannelSet{Email: true})
		esc := f.escalationPolicy(t, org, domain.EscalationTrigger{DaysOverdue: 2, NotifyUserIDs: []int64{7}, EscalationLevel: 1})
		due := f.obligation(t, org, time.Hour, nil)
		f.assign(t, due, domain.AssigneeUser, 7)
		f.obligation(t, org, -2*24*time.Hour, func(ob *domain.Obligation) { ob.EscalationPolicyID = &esc })
	}

	res, err := o.ProcessReminders(context.Background(), orgA)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.RemindersSent)
	assert.Equal(t, 1, res.EscalationsSent)

	rec.mu.Lock()
	for _, org := range rec.orgs {
		assert.Equal(t, orgA, org)
	}
	assert.NotEmpty(t, rec.orgs)
	rec.mu.Unlock()

	assert.Empty(t, f.events(t, orgB))
	overdueB, _ := f.store.ListOverdueObligations(context.Background(), orgB, now)
	require.Len(t, overdueB, 1)
	assert.Equal(t, domain.ObligationStatusPending, overdueB[0].Status)

	jobs, _ := f.store.ListJobs(context.Background())
	for _, j := range jobs {
		require.NotNil(t, j.OrganizationID)
		assert.Equal(t, orgA, *j.OrganizationID)
	}
}

// flakyStore fails assignment lookups for one obligation.
type flakyStore struct {
	*memory.Store
	failFor int64
}

func (s *flakyStore) ListAssignments(ctx context.Context, org, id int64) ([]domain.ObligationAssignment, error) {
	if id == s.failFor {
		return nil, errors.New("connection reset")
	}
	return s.Store.ListAssignments(ctx, org, id)
}

func TestProcessReminders_BatchIsolation(t *testing.T) {
	f := newFixture(t)
	f.reminderPolicy(t, orgA, true, domain.ReminderRules{OnDue: true}, domain.ChannelSet{Email: true})

	first := f.obligation(t, orgA, time.Hour, nil)
	broken := f.obligation(t, orgA, 2*time.Hour, nil)
	last := f.obligation(t, orgA, 3*time.Hour, nil)
	for _, id := range []int64{first, broken, last} {
		f.assign(t, id, domain.AssigneeUser, 1)
	}

	flaky := &flakyStore{Store: f.store, failFor: broken}
	o := New(flaky, f.store, f.d, Config{}).WithClock(func() time.Time { return now })

	res, err := o.ProcessReminders(context.Background(), orgA)
	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 3, RemindersSent: 2, Failed: 1}, res)
}

type failingListStore struct {
	*memory.Store
}

func (failingListStore) ListOverdueObligations(context.Context, int64, time.Time) ([]domain.Obligation, error) {
	return nil, errors.New("db down")
}

func TestProcessReminders_ListFailureReturnsError(t *testing.T) {
	f := newFixture(t)
	o := New(failingListStore{f.store}, f.store, f.d, Config{})

	_, err := o.ProcessReminders(context.Background(), orgA)
	assert.ErrorContains(t, err, "db down")
}

// overlapStore returns the same obligations from both listings.
type overlapStore struct {
	*memory.Store
}

func (s overlapStore) ListOverdueObligations(ctx context.Context, org int64, _ time.Time) ([]domain.Obligation, error) {
	return s.Store.ListObligationsDueBetween(ctx, org, now, now.Add(DefaultLookahead))
}

func TestProcessReminders_DeduplicatesObligations(t *testing.T) {
	f := newFixture(t)
	f.reminderPolicy(t, orgA, true, domain.ReminderRules{OnDue: true}, domain.ChannelSet{Email: true})
	ob := f.obligation(t, orgA, time.Hour, nil)
	f.assign(t, ob, domain.AssigneeUser, 1)

	o := New(overlapStore{f.store}, f.store, f.d, Config{}).WithClock(func() time.Time { return now })
	res, err := o.ProcessReminders(context.Background(), orgA)
	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 1, RemindersSent: 1}, res)
}

type mockReminderMetrics struct {
	calls []Result
}

func (m *mockReminderMetrics) ReminderPassCompleted(processed, reminders, escalations, failed int, _ time.Duration) {
	m.calls = append(m.calls, Result{processed, reminders, escalations, failed})
}

type mockAnalytics struct {
	mu    sync.Mutex
	count map[domain.Channel]int
}

func (m *mockAnalytics) RecordNotification(_ context.Context, _ int64, _ domain.EventType, ch domain.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count[ch]++
}

func TestProcessReminders_MetricsAndAnalytics(t *testing.T) {
	f := newFixture(t)
	m := &mockReminderMetrics{}
	a := &mockAnalytics{count: map[domain.Channel]int{}}
	f.o.WithMetrics(m).WithAnalytics(a)

	f.reminderPolicy(t, orgA, true, domain.ReminderRules{OnDue: true}, domain.ChannelSet{Email: true, SMS: true})
	ob := f.obligation(t, orgA, time.Hour, nil)
	f.assign(t, ob, domain.AssigneeUser, 1)

	_, err := f.o.ProcessReminders(context.Background(), orgA)
	require.NoError(t, err)

	assert.Equal(t, []Result{{Processed: 1, RemindersSent: 2}}, m.calls)
	assert.Equal(t, map[domain.Channel]int{domain.ChannelEmail: 1, domain.ChannelSMS: 1}, a.count)
}
