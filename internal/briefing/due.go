// Package briefing schedules and executes recurring report runs. Due-ness is
// a pure function of the briefing's cadence and last execution so it can be
// evaluated on every tick without extra state.
package briefing

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/driftline/driftline/internal/store"
)

// Due reports whether b should run now. A briefing is due when the current
// period's scheduled instant has passed and the briefing has not executed
// since that instant. Wall times are evaluated in the briefing's timezone.
func Due(b store.Briefing, now time.Time) (bool, error) {
	scheduled, err := lastScheduledInstant(b, now)
	if err != nil {
		return false, err
	}
	if scheduled.IsZero() {
		return false, nil
	}
	if b.LastExecutedAt == nil {
		return true, nil
	}
	return b.LastExecutedAt.Before(scheduled), nil
}

// lastScheduledInstant returns the most recent instant at or before now at
// which b was scheduled to run. The zero time means no instant has occurred
// yet (weekly briefings created mid-week).
func lastScheduledInstant(b store.Briefing, now time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("briefing %d: bad timezone %q: %w", b.ID, b.Timezone, err)
	}
	hour, minute, err := parseScheduleTime(b.ScheduleTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("briefing %d: %w", b.ID, err)
	}

	local := now.In(loc)
	scheduled := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)

	switch b.Cadence {
	case store.CadenceDaily:
		if scheduled.After(local) {
			scheduled = scheduled.AddDate(0, 0, -1)
		}
	case store.CadenceWeekly:
		day := 1 // default Monday
		if b.DayOfWeek != nil {
			day = *b.DayOfWeek
		}
		// Walk back to the most recent matching weekday.
		offset := (int(scheduled.Weekday()) - day + 7) % 7
		scheduled = scheduled.AddDate(0, 0, -offset)
		if scheduled.After(local) {
			scheduled = scheduled.AddDate(0, 0, -7)
		}
	default:
		return time.Time{}, fmt.Errorf("briefing %d: unknown cadence %q", b.ID, b.Cadence)
	}

	if scheduled.Before(b.CreatedAt) {
		return time.Time{}, nil
	}
	return scheduled, nil
}

func parseScheduleTime(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("bad schedule time %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("bad schedule time %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("bad schedule time %q", s)
	}
	return hour, minute, nil
}
