package orchestrator

import (
	"context"
	"fmt"

	"github.com/djlord-it/easy-remind/internal/domain"
)

// delivered collects the recipient keys already notified under earlier
// actions of the given kind whose details match, and reports whether any
// such action exists. A rule keeps matching for several passes (onDue for a
// whole day, escalation triggers for the day they hit), and this is what
// keeps each recipient to one notification.
//
// Details may come back from a JSON column, so values are compared by their
// printed form and recipient lists may be []any.
func (o *Orchestrator) delivered(ctx context.Context, orgID, obligationID int64, kind domain.ActionType, match map[string]any) (done map[string]bool, recorded bool, err error) {
	actions, err := o.store.ListObligationActions(ctx, orgID, obligationID)
	if err != nil {
		return nil, false, fmt.Errorf("list obligation actions: %w", err)
	}

	done = make(map[string]bool)
	for _, a := range actions {
		if a.Action != kind || !detailsMatch(a.Details, match) {
			continue
		}
		recorded = true
		for _, key := range stringList(a.Details["recipients"]) {
			done[key] = true
		}
	}
	return done, recorded, nil
}

func detailsMatch(details, match map[string]any) bool {
	for k, want := range match {
		got, ok := details[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func recipientKey(userID int64, ch domain.Channel) string {
	return fmt.Sprintf("%d:%s", userID, ch)
}
