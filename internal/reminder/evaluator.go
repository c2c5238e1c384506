// Package reminder decides whether an obligation is due a reminder.
//
// Rules are checked in a fixed order and the first match wins: onDue, then
// beforeDue offsets, then afterDue offsets. At most one event fires per pass.
package reminder

import (
	"fmt"
	"math"
	"time"

	"github.com/djlord-it/easy-remind/internal/domain"
)

// DefaultMatchTolerance is how far from a beforeDue target the current time
// may be and still match. The orchestrator must run at least every
// 2 × tolerance or offsets can be skipped.
const DefaultMatchTolerance = 30 * time.Minute

type Decision struct {
	ShouldSend bool
	EventType  domain.EventType

	// Rule names the matched rule, e.g. "onDue", "beforeDue:7d0h", "afterDue:3d".
	Rule string

	// DeliverAt is set when the rule matched inside quiet hours. Delivery
	// waits until the window closes; the reminder is still created now.
	DeliverAt *time.Time
}

// Deferred reports whether quiet hours pushed delivery back.
func (d Decision) Deferred() bool {
	return d.DeliverAt != nil
}

type Evaluator struct {
	Tolerance time.Duration
}

func NewEvaluator(tolerance time.Duration) Evaluator {
	if tolerance <= 0 {
		tolerance = DefaultMatchTolerance
	}
	return Evaluator{Tolerance: tolerance}
}

// Evaluate uses DefaultMatchTolerance.
func Evaluate(o domain.Obligation, p domain.ReminderPolicy, now time.Time) Decision {
	return NewEvaluator(DefaultMatchTolerance).Evaluate(o, p, now)
}

func (e Evaluator) Evaluate(o domain.Obligation, p domain.ReminderPolicy, now time.Time) Decision {
	if o.DueAt == nil {
		return Decision{}
	}

	d, ok := e.match(*o.DueAt, p.Rules, now)
	if !ok {
		return Decision{}
	}
	if until, quiet := QuietUntil(p.QuietHours, now); quiet {
		d.DeliverAt = &until
	}
	return d
}

func (e Evaluator) match(dueAt time.Time, rules domain.ReminderRules, now time.Time) (Decision, bool) {
	hoursUntilDue := dueAt.Sub(now).Hours()
	tolerance := e.Tolerance.Hours()

	if rules.OnDue && hoursUntilDue >= 0 && hoursUntilDue <= 24 {
		return Decision{ShouldSend: true, EventType: domain.EventTypeDueToday, Rule: "onDue"}, true
	}

	for _, off := range rules.BeforeDue {
		target := float64(off.Days*24 + off.Hours)
		if math.Abs(hoursUntilDue-target) <= tolerance {
			return Decision{
				ShouldSend: true,
				EventType:  domain.EventTypeReminder,
				Rule:       fmt.Sprintf("beforeDue:%dd%dh", off.Days, off.Hours),
			}, true
		}
	}

	if now.After(dueAt) {
		days := DaysOverdue(dueAt, now)
		for _, off := range rules.AfterDue {
			if off.Days == days {
				return Decision{
					ShouldSend: true,
					EventType:  domain.EventTypeOverdue,
					Rule:       fmt.Sprintf("afterDue:%dd", off.Days),
				}, true
			}
		}
	}

	return Decision{}, false
}

// DaysOverdue is the number of whole days elapsed since dueAt.
func DaysOverdue(dueAt, now time.Time) int {
	return int(math.Floor(now.Sub(dueAt).Hours() / 24))
}
