package reminder

import (
	"time"

	"github.com/djlord-it/easy-remind/internal/domain"
)

// maxQuietSteps bounds QuietUntil. A weekend plus a daily window needs at
// most four jumps; the rest is slack.
const maxQuietSteps = 16

// IsQuietHours reports whether now falls inside the policy's quiet window,
// evaluated in the window's timezone. A window whose start is after its end
// wraps midnight. Malformed configuration is treated as not quiet.
func IsQuietHours(qh domain.QuietHours, now time.Time) bool {
	if !qh.Enabled {
		return false
	}
	loc, ok := quietLocation(qh)
	if !ok {
		return false
	}
	local := now.In(loc)

	if qh.ExcludeWeekends && isWeekend(local) {
		return true
	}

	start, ok := minuteOfDay(qh.Start)
	if !ok {
		return false
	}
	end, ok := minuteOfDay(qh.End)
	if !ok {
		return false
	}
	cur := local.Hour()*60 + local.Minute()

	switch {
	case start == end:
		return false
	case start > end:
		return cur >= start || cur < end
	default:
		return cur >= start && cur < end
	}
}

// QuietUntil returns the first instant at or after now that is outside the
// quiet window, in UTC, and whether now was quiet at all. Weekends are
// skipped when ExcludeWeekends is set.
func QuietUntil(qh domain.QuietHours, now time.Time) (time.Time, bool) {
	if !IsQuietHours(qh, now) {
		return now, false
	}
	loc, _ := quietLocation(qh)
	t := now.In(loc)

	for i := 0; i < maxQuietSteps && IsQuietHours(qh, t); i++ {
		y, m, d := t.Date()
		if qh.ExcludeWeekends && isWeekend(t) {
			t = time.Date(y, m, d+1, 0, 0, 0, 0, loc)
			continue
		}
		// Inside the daily window, so End parsed.
		end, _ := minuteOfDay(qh.End)
		next := time.Date(y, m, d, end/60, end%60, 0, 0, loc)
		if !next.After(t) {
			next = time.Date(y, m, d+1, end/60, end%60, 0, 0, loc)
		}
		t = next
	}
	return t.UTC(), true
}

func quietLocation(qh domain.QuietHours) (*time.Location, bool) {
	if qh.Timezone == "" {
		return time.UTC, true
	}
	loc, err := time.LoadLocation(qh.Timezone)
	if err != nil {
		return nil, false
	}
	return loc, true
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func minuteOfDay(hhmm string) (int, bool) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
