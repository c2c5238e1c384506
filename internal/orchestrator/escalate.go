package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/djlord-it/easy-remind/internal/domain"
	"github.com/djlord-it/easy-remind/internal/escalation"
)

// escalate runs only with an explicit policy. There is no organization
// default for escalation.
func (o *Orchestrator) escalate(ctx context.Context, orgID int64, ob domain.Obligation, now time.Time) (int, error) {
	if ob.EscalationPolicyID == nil {
		return 0, nil
	}

	policy, err := o.policies.GetEscalationPolicy(ctx, orgID, *ob.EscalationPolicyID)
	if errors.Is(err, domain.ErrNotFound) {
		o.logger.Debug("escalation policy missing, skipping",
			zap.Int64("organization_id", orgID),
			zap.Int64("obligation_id", ob.ID),
			zap.Int64("policy_id", *ob.EscalationPolicyID),
		)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get escalation policy: %w", err)
	}
	if !policy.IsActive {
		return 0, nil
	}

	decision, ok := escalation.Evaluate(ob, policy, now)
	if !ok {
		return 0, nil
	}

	if escalation.ShouldMarkOverdue(ob.Status) {
		err := o.store.UpdateObligationStatus(ctx, orgID, ob.ID, domain.ObligationStatusOverdue)
		if err != nil && !errors.Is(err, domain.ErrStatusTransitionDenied) {
			return 0, fmt.Errorf("mark overdue: %w", err)
		}
	}

	recipients, err := o.recipients(ctx, orgID, decision.Trigger)
	if err != nil {
		return 0, err
	}

	dueAt := ob.DueAt.UTC().Format(time.RFC3339)
	done, recorded, err := o.delivered(ctx, orgID, ob.ID, domain.ActionEscalated, map[string]any{
		"escalationLevel": decision.Level,
		"daysOverdue":     decision.DaysOverdue,
		"dueAt":           dueAt,
	})
	if err != nil {
		return 0, err
	}

	content := map[string]any{
		"title":           ob.Title,
		"dueAt":           dueAt,
		"eventType":       string(domain.EventTypeEscalation),
		"escalationLevel": decision.Level,
		"daysOverdue":     decision.DaysOverdue,
	}

	var (
		sent    []string
		sendErr error
	)
	for _, userID := range recipients {
		key := recipientKey(userID, domain.ChannelEmail)
		if done[key] {
			continue
		}
		n := notification{
			obligation: ob,
			eventType:  domain.EventTypeEscalation,
			recipient:  userID,
			channel:    domain.ChannelEmail,
			content:    content,
			jobType:    domain.JobTypeEmailSend,
			priority:   domain.PriorityHigh,
		}
		if err := o.notify(ctx, orgID, n, now); err != nil {
			sendErr = err
			break
		}
		sent = append(sent, key)
	}
	// A trigger with no one to notify is still logged, once.
	if len(sent) == 0 && (recorded || sendErr != nil) {
		return 0, sendErr
	}

	err = o.store.AppendObligationAction(ctx, domain.ObligationAction{
		ObligationID:   ob.ID,
		OrganizationID: orgID,
		Action:         domain.ActionEscalated,
		Details: map[string]any{
			"escalationLevel": decision.Level,
			"daysOverdue":     decision.DaysOverdue,
			"dueAt":           dueAt,
			"recipients":      sent,
		},
		CreatedAt: now,
	})
	if err != nil {
		sendErr = multierror.Append(sendErr, fmt.Errorf("append escalation action: %w", err))
	}

	o.logger.Info("obligation escalated",
		zap.Int64("organization_id", orgID),
		zap.Int64("obligation_id", ob.ID),
		zap.Int("escalation_level", decision.Level),
		zap.Int("recipients", len(sent)),
	)
	return len(sent), sendErr
}

// recipients expands a trigger into user ids: explicit users first, then
// users holding each role, then members of each team. Duplicates are dropped
// and lookups stay inside orgID.
func (o *Orchestrator) recipients(ctx context.Context, orgID int64, tr domain.EscalationTrigger) ([]int64, error) {
	seen := make(map[int64]struct{})
	var out []int64
	add := func(ids []int64) {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}

	add(tr.NotifyUserIDs)
	for _, role := range tr.NotifyRoles {
		ids, err := o.store.ListUserIDsByRole(ctx, orgID, role)
		if err != nil {
			return nil, fmt.Errorf("list users with role %q: %w", role, err)
		}
		add(ids)
	}
	for _, teamID := range tr.NotifyTeamIDs {
		ids, err := o.store.ListTeamMemberIDs(ctx, orgID, teamID)
		if err != nil {
			return nil, fmt.Errorf("list members of team %d: %w", teamID, err)
		}
		add(ids)
	}
	return out, nil
}
