package cron

import (
	"testing"
	"time"
)

func TestParser_Expressions(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"hourly", "0 * * * *", false},
		{"every 15 minutes", "*/15 * * * *", false},
		{"business hours", "0 8-18 * * 1-5", false},
		{"daily", "0 6 * * *", false},
		{"four fields", "* * * *", true},
		{"seconds field", "0 0 * * * *", true},
		{"minute out of range", "60 * * * *", true},
		{"garbage", "every hour", true},
		{"empty", "", true},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched, err := p.Parse(tt.expr, "UTC")
			if tt.wantErr {
				if err == nil {
					t.Errorf("Parse(%q) should fail", tt.expr)
				}
				return
			}
			if err != nil || sched == nil {
				t.Errorf("Parse(%q) = %v, %v", tt.expr, sched, err)
			}
		})
	}
}

func TestParser_InvalidTimezone(t *testing.T) {
	if _, err := NewParser().Parse("0 * * * *", "Mars/Olympus"); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestParser_NextInTimezone(t *testing.T) {
	p := NewParser()
	sched, err := p.Parse("0 9 * * *", "Europe/Paris")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	// 09:00 CEST is 07:00 UTC.
	after := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	want := time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)
	if got := sched.Next(after); !got.Equal(want) {
		t.Errorf("Next(%v) = %v, want %v", after, got.UTC(), want)
	}
}

func TestMaxGap(t *testing.T) {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	week := 7 * 24 * time.Hour

	tests := []struct {
		expr string
		want time.Duration
	}{
		{"0 * * * *", time.Hour},
		{"*/30 * * * *", 30 * time.Minute},
		{"0 */2 * * *", 2 * time.Hour},
		{"0 6 * * *", 24 * time.Hour},
		// Weekdays only: Friday 18:00 to Monday 08:00.
		{"0 8-18 * * 1-5", 62 * time.Hour},
		// Yearly schedules report their gap even beyond the window.
		{"0 0 1 1 *", 365 * 24 * time.Hour},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			sched, err := p.Parse(tt.expr, "UTC")
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if got := MaxGap(sched, start, week); got != tt.want {
				t.Errorf("MaxGap(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}
