// Package cron parses standard five-field cron expressions in a time zone.
package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

func (p *Parser) Parse(expression string, timezone string) (Schedule, error) {
	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron: %w", err)
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	return &schedule{sched: sched, loc: loc}, nil
}

type Schedule interface {
	Next(after time.Time) time.Time
}

type schedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s *schedule) Next(after time.Time) time.Time {
	return s.sched.Next(after.In(s.loc))
}

// MaxGap returns the longest interval between consecutive fires of s over
// the window starting at start. At least one interval is measured, so sparse
// schedules report their first gap even when it exceeds the window.
func MaxGap(s Schedule, start time.Time, window time.Duration) time.Duration {
	end := start.Add(window)
	var gap time.Duration

	prev := s.Next(start)
	if prev.IsZero() {
		return 0
	}
	for {
		next := s.Next(prev)
		if next.IsZero() {
			break
		}
		if d := next.Sub(prev); d > gap {
			gap = d
		}
		prev = next
		if !prev.Before(end) {
			break
		}
	}
	return gap
}
