// Package escalation decides whether an overdue obligation hits an
// escalation trigger.
package escalation

import (
	"math"
	"time"

	"github.com/djlord-it/easy-remind/internal/domain"
)

type Decision struct {
	Trigger     domain.EscalationTrigger
	DaysOverdue int
	Level       int
}

// Evaluate returns the first trigger whose DaysOverdue equals the whole days
// elapsed since the due date. Matching is exact: an obligation 4 days overdue
// does not match a trigger for day 3. Triggers above MaxEscalationLevel are
// ignored when a maximum is set.
func Evaluate(o domain.Obligation, p domain.EscalationPolicy, now time.Time) (Decision, bool) {
	if o.DueAt == nil || !now.After(*o.DueAt) {
		return Decision{}, false
	}

	days := int(math.Floor(now.Sub(*o.DueAt).Hours() / 24))
	maxLevel := p.Rules.MaxEscalationLevel

	for _, tr := range p.Rules.Triggers {
		if tr.DaysOverdue != days {
			continue
		}
		if maxLevel > 0 && tr.EscalationLevel > maxLevel {
			continue
		}
		return Decision{Trigger: tr, DaysOverdue: days, Level: tr.EscalationLevel}, true
	}
	return Decision{}, false
}

// ShouldMarkOverdue reports whether an obligation in status s may move to
// OVERDUE.
func ShouldMarkOverdue(s domain.ObligationStatus) bool {
	return !s.IsTerminal() && s != domain.ObligationStatusOverdue
}
