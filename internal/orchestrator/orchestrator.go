// Package orchestrator drives one reminder pass for one organization: it
// loads due and overdue obligations, runs the reminder and escalation
// evaluators, and fans notifications out as delivery jobs.
//
// Every store call carries the organization id of the pass.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/djlord-it/easy-remind/internal/dispatcher"
	"github.com/djlord-it/easy-remind/internal/domain"
	"github.com/djlord-it/easy-remind/internal/reminder"
)

const DefaultLookahead = 30 * 24 * time.Hour

type ObligationStore interface {
	ListObligationsDueBetween(ctx context.Context, orgID int64, from, to time.Time) ([]domain.Obligation, error)
	ListOverdueObligations(ctx context.Context, orgID int64, now time.Time) ([]domain.Obligation, error)
	ListAssignments(ctx context.Context, orgID, obligationID int64) ([]domain.ObligationAssignment, error)
	UpdateObligationStatus(ctx context.Context, orgID, id int64, status domain.ObligationStatus) error
	AppendObligationAction(ctx context.Context, action domain.ObligationAction) error
	ListObligationActions(ctx context.Context, orgID, obligationID int64) ([]domain.ObligationAction, error)

	CreateNotificationEvent(ctx context.Context, ev domain.NotificationEvent) (int64, error)
	AttachNotificationJob(ctx context.Context, orgID, eventID, jobID int64) error

	ListUserIDsByRole(ctx context.Context, orgID int64, role string) ([]int64, error)
	ListTeamMemberIDs(ctx context.Context, orgID, teamID int64) ([]int64, error)
}

// PolicyStore returns domain.ErrNotFound for missing policies.
type PolicyStore interface {
	GetReminderPolicy(ctx context.Context, orgID, id int64) (domain.ReminderPolicy, error)
	GetDefaultReminderPolicy(ctx context.Context, orgID int64) (domain.ReminderPolicy, error)
	GetEscalationPolicy(ctx context.Context, orgID, id int64) (domain.EscalationPolicy, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload map[string]any, opts dispatcher.EnqueueOptions) (dispatcher.EnqueueResult, error)
}

type AnalyticsSink interface {
	RecordNotification(ctx context.Context, orgID int64, eventType domain.EventType, channel domain.Channel)
}

type MetricsSink interface {
	ReminderPassCompleted(processed, reminders, escalations, failed int, duration time.Duration)
}

type Config struct {
	Lookahead time.Duration
	Tolerance time.Duration
}

// Result counts one pass. RemindersSent and EscalationsSent count
// notification events created.
type Result struct {
	Processed       int `json:"processed"`
	RemindersSent   int `json:"remindersSent"`
	EscalationsSent int `json:"escalationsSent"`
	Failed          int `json:"failed"`
}

type Orchestrator struct {
	store     ObligationStore
	policies  PolicyStore
	jobs      Enqueuer
	evaluator reminder.Evaluator
	lookahead time.Duration

	logger    *zap.Logger
	analytics AnalyticsSink // optional, nil = disabled
	metrics   MetricsSink   // optional, nil = disabled
	now       func() time.Time
}

func New(store ObligationStore, policies PolicyStore, jobs Enqueuer, cfg Config) *Orchestrator {
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = DefaultLookahead
	}
	return &Orchestrator{
		store:     store,
		policies:  policies,
		jobs:      jobs,
		evaluator: reminder.NewEvaluator(cfg.Tolerance),
		lookahead: cfg.Lookahead,
		logger:    zap.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (o *Orchestrator) WithLogger(logger *zap.Logger) *Orchestrator {
	o.logger = logger.Named("orchestrator")
	return o
}

func (o *Orchestrator) WithAnalytics(sink AnalyticsSink) *Orchestrator {
	o.analytics = sink
	return o
}

func (o *Orchestrator) WithMetrics(sink MetricsSink) *Orchestrator {
	o.metrics = sink
	return o
}

func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// ProcessReminders runs one pass for orgID. Only failures to list
// obligations are returned; per-obligation failures are logged and counted.
func (o *Orchestrator) ProcessReminders(ctx context.Context, orgID int64) (Result, error) {
	start := time.Now()
	now := o.now()
	log := o.logger.With(zap.Int64("organization_id", orgID))

	due, err := o.store.ListObligationsDueBetween(ctx, orgID, now, now.Add(o.lookahead))
	if err != nil {
		return Result{}, fmt.Errorf("list due obligations: %w", err)
	}
	overdue, err := o.store.ListOverdueObligations(ctx, orgID, now)
	if err != nil {
		return Result{}, fmt.Errorf("list overdue obligations: %w", err)
	}

	var (
		res  Result
		errs *multierror.Error
	)
	for _, ob := range dedupe(due, overdue) {
		if ob.OrganizationID != orgID {
			log.Warn("skipping obligation from another organization", zap.Int64("obligation_id", ob.ID))
			continue
		}
		if ob.Status.IsTerminal() {
			continue
		}

		res.Processed++
		reminders, escalations, err := o.processObligation(ctx, orgID, ob, now)
		res.RemindersSent += reminders
		res.EscalationsSent += escalations
		if err != nil {
			res.Failed++
			errs = multierror.Append(errs, fmt.Errorf("obligation %d: %w", ob.ID, err))
			log.Error("obligation failed", zap.Int64("obligation_id", ob.ID), zap.Error(err))
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		log.Warn("reminder pass finished with failures", zap.Int("failed", res.Failed), zap.Error(err))
	}
	log.Info("reminder pass completed",
		zap.Int("processed", res.Processed),
		zap.Int("reminders_sent", res.RemindersSent),
		zap.Int("escalations_sent", res.EscalationsSent),
	)
	if o.metrics != nil {
		o.metrics.ReminderPassCompleted(res.Processed, res.RemindersSent, res.EscalationsSent, res.Failed, time.Since(start))
	}
	return res, nil
}

func dedupe(lists ...[]domain.Obligation) []domain.Obligation {
	seen := make(map[int64]struct{})
	var out []domain.Obligation
	for _, list := range lists {
		for _, ob := range list {
			if _, ok := seen[ob.ID]; ok {
				continue
			}
			seen[ob.ID] = struct{}{}
			out = append(out, ob)
		}
	}
	return out
}

// processObligation runs the reminder and the escalation independently; a
// failure in one does not skip the other.
func (o *Orchestrator) processObligation(ctx context.Context, orgID int64, ob domain.Obligation, now time.Time) (reminders, escalations int, err error) {
	var errs *multierror.Error

	assignments, err := o.store.ListAssignments(ctx, orgID, ob.ID)
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("list assignments: %w", err))
	} else {
		reminders, err = o.remind(ctx, orgID, ob, userAssignees(assignments), now)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("reminder: %w", err))
		}
	}

	if ob.DueAt != nil && now.After(*ob.DueAt) {
		escalations, err = o.escalate(ctx, orgID, ob, now)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("escalation: %w", err))
		}
	}
	return reminders, escalations, errs.ErrorOrNil()
}

// userAssignees returns USER assignee ids. TEAM assignments are not
// actionable for reminders.
func userAssignees(assignments []domain.ObligationAssignment) []int64 {
	var ids []int64
	for _, a := range assignments {
		if a.AssigneeType == domain.AssigneeUser {
			ids = append(ids, a.AssigneeID)
		}
	}
	return ids
}

// remind fans the matched rule out to every assignee and channel not already
// notified for it. Inside quiet hours the events are created now and their
// delivery jobs wait for the window to close.
func (o *Orchestrator) remind(ctx context.Context, orgID int64, ob domain.Obligation, users []int64, now time.Time) (int, error) {
	policy, ok, err := o.reminderPolicy(ctx, orgID, ob)
	if err != nil {
		return 0, err
	}
	if !ok || !policy.IsActive {
		return 0, nil
	}

	decision := o.evaluator.Evaluate(ob, policy, now)
	if !decision.ShouldSend || len(users) == 0 {
		return 0, nil
	}

	dueAt := ob.DueAt.UTC().Format(time.RFC3339)
	done, _, err := o.delivered(ctx, orgID, ob.ID, domain.ActionReminderSent, map[string]any{
		"rule":  decision.Rule,
		"dueAt": dueAt,
	})
	if err != nil {
		return 0, err
	}

	content := map[string]any{
		"title":     ob.Title,
		"dueAt":     dueAt,
		"eventType": string(decision.EventType),
		"rule":      decision.Rule,
	}
	if decision.Deferred() {
		content["deliverAt"] = decision.DeliverAt.UTC().Format(time.RFC3339)
		o.logger.Debug("reminder deferred by quiet hours",
			zap.Int64("organization_id", orgID),
			zap.Int64("obligation_id", ob.ID),
			zap.String("rule", decision.Rule),
			zap.Time("deliver_at", *decision.DeliverAt),
		)
	}

	var (
		sent    []string
		sendErr error
	)
fanOut:
	for _, userID := range users {
		for _, ch := range policy.Channels.Enabled() {
			key := recipientKey(userID, ch)
			if done[key] {
				continue
			}
			n := notification{
				obligation: ob,
				eventType:  decision.EventType,
				recipient:  userID,
				channel:    ch,
				content:    content,
				jobType:    domain.JobTypeNotificationSend,
				priority:   domain.PriorityNormal,
				deliverAt:  decision.DeliverAt,
			}
			if err := o.notify(ctx, orgID, n, now); err != nil {
				sendErr = err
				break fanOut
			}
			sent = append(sent, key)
		}
	}

	// Events created before a failure are already queued, so they are
	// recorded either way.
	if len(sent) > 0 {
		details := map[string]any{
			"eventType":     string(decision.EventType),
			"rule":          decision.Rule,
			"dueAt":         dueAt,
			"notifications": len(sent),
			"recipients":    sent,
		}
		if decision.Deferred() {
			details["deliverAt"] = content["deliverAt"]
		}
		err := o.store.AppendObligationAction(ctx, domain.ObligationAction{
			ObligationID:   ob.ID,
			OrganizationID: orgID,
			Action:         domain.ActionReminderSent,
			Details:        details,
			CreatedAt:      now,
		})
		if err != nil {
			sendErr = multierror.Append(sendErr, fmt.Errorf("append reminder action: %w", err))
		}
	}
	return len(sent), sendErr
}

// reminderPolicy resolves the explicit policy, falling back to the
// organization default when the obligation has none or it no longer exists.
func (o *Orchestrator) reminderPolicy(ctx context.Context, orgID int64, ob domain.Obligation) (domain.ReminderPolicy, bool, error) {
	if ob.ReminderPolicyID != nil {
		p, err := o.policies.GetReminderPolicy(ctx, orgID, *ob.ReminderPolicyID)
		if err == nil {
			return p, true, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.ReminderPolicy{}, false, fmt.Errorf("get reminder policy: %w", err)
		}
	}

	p, err := o.policies.GetDefaultReminderPolicy(ctx, orgID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ReminderPolicy{}, false, nil
	}
	if err != nil {
		return domain.ReminderPolicy{}, false, fmt.Errorf("get default reminder policy: %w", err)
	}
	return p, true, nil
}

type notification struct {
	obligation domain.Obligation
	eventType  domain.EventType
	recipient  int64
	channel    domain.Channel
	content    map[string]any
	jobType    string
	priority   domain.Priority
	deliverAt  *time.Time // nil delivers immediately
}

// notify records one NotificationEvent and enqueues its delivery job.
func (o *Orchestrator) notify(ctx context.Context, orgID int64, n notification, now time.Time) error {
	eventID, err := o.store.CreateNotificationEvent(ctx, domain.NotificationEvent{
		ObligationID:    n.obligation.ID,
		OrganizationID:  orgID,
		EventType:       n.eventType,
		RecipientUserID: n.recipient,
		Channel:         n.channel,
		Status:          domain.NotificationStatusPending,
		Content:         n.content,
		CreatedAt:       now,
	})
	if err != nil {
		return fmt.Errorf("create notification event: %w", err)
	}

	org, user := orgID, n.recipient
	res, err := o.jobs.Enqueue(ctx, n.jobType, map[string]any{
		"notification_event_id": eventID,
		"organization_id":       orgID,
	}, dispatcher.EnqueueOptions{
		Priority:       n.priority,
		OrganizationID: &org,
		UserID:         &user,
		CorrelationID:  fmt.Sprintf("notification:%d:%d", orgID, eventID),
		ScheduledFor:   n.deliverAt,
	})
	if err != nil {
		return fmt.Errorf("enqueue %s for event %d: %w", n.jobType, eventID, err)
	}
	if res.JobID != nil {
		if err := o.store.AttachNotificationJob(ctx, orgID, eventID, *res.JobID); err != nil {
			return fmt.Errorf("attach job to event %d: %w", eventID, err)
		}
	}

	if o.analytics != nil {
		o.analytics.RecordNotification(ctx, orgID, n.eventType, n.channel)
	}
	return nil
}
