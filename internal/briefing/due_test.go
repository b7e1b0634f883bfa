package briefing

import (
	"testing"
	"time"

	"github.com/driftline/driftline/internal/store"
)

func timePtr(t time.Time) *time.Time { return &t }

func testBriefing(cadence store.Cadence) store.Briefing {
	day := 1 // Monday
	b := store.Briefing{
		ID:           1,
		AccountID:    1,
		Name:         "digest",
		Cadence:      cadence,
		ScheduleTime: "08:00",
		Timezone:     "UTC",
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if cadence == store.CadenceWeekly {
		b.DayOfWeek = &day
	}
	return b
}

func TestDueDaily(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		last *time.Time
		want bool
	}{
		{
			name: "never executed, past schedule time",
			now:  time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC), // Friday 09:00
			want: true,
		},
		{
			name: "never executed, before schedule time",
			now:  time.Date(2026, 8, 28, 7, 0, 0, 0, time.UTC),
			want: true, // yesterday's instant already passed
		},
		{
			name: "executed earlier today after the instant",
			now:  time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC),
			last: timePtr(time.Date(2026, 8, 28, 8, 0, 5, 0, time.UTC)),
			want: false,
		},
		{
			name: "executed yesterday",
			now:  time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC),
			last: timePtr(time.Date(2026, 8, 27, 8, 0, 5, 0, time.UTC)),
			want: true,
		},
		{
			name: "executed yesterday, today's instant not reached",
			now:  time.Date(2026, 8, 28, 7, 59, 0, 0, time.UTC),
			last: timePtr(time.Date(2026, 8, 27, 8, 0, 5, 0, time.UTC)),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testBriefing(store.CadenceDaily)
			b.LastExecutedAt = tt.last
			due, err := Due(b, tt.now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if due != tt.want {
				t.Errorf("Due = %v, want %v", due, tt.want)
			}
		})
	}
}

func TestDueWeekly(t *testing.T) {
	// 2026-08-24 is a Monday.
	tests := []struct {
		name string
		now  time.Time
		last *time.Time
		want bool
	}{
		{
			name: "on the scheduled day after the instant",
			now:  time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC),
			want: true,
		},
		{
			name: "later in the same week, not yet run",
			now:  time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC), // Thursday
			want: true,
		},
		{
			name: "already ran this week",
			now:  time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC),
			last: timePtr(time.Date(2026, 8, 24, 8, 1, 0, 0, time.UTC)),
			want: false,
		},
		{
			name: "ran last week, new instant passed",
			now:  time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC), // next Monday
			last: timePtr(time.Date(2026, 8, 24, 8, 1, 0, 0, time.UTC)),
			want: true,
		},
		{
			name: "scheduled day not reached this week",
			now:  time.Date(2026, 8, 24, 7, 0, 0, 0, time.UTC), // Monday before 08:00
			last: timePtr(time.Date(2026, 8, 17, 8, 1, 0, 0, time.UTC)),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testBriefing(store.CadenceWeekly)
			b.LastExecutedAt = tt.last
			due, err := Due(b, tt.now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if due != tt.want {
				t.Errorf("Due = %v, want %v", due, tt.want)
			}
		})
	}
}

func TestDueHonorsTimezone(t *testing.T) {
	b := testBriefing(store.CadenceDaily)
	b.Timezone = "America/New_York"
	b.ScheduleTime = "08:00"
	b.LastExecutedAt = timePtr(time.Date(2026, 8, 27, 12, 30, 0, 0, time.UTC)) // 08:30 NY on the 27th

	// 11:00 UTC on the 28th is 07:00 in New York: today's instant has not
	// occurred there yet.
	due, err := Due(b, time.Date(2026, 8, 28, 11, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if due {
		t.Error("expected not due before the local schedule time")
	}

	due, _ = Due(b, time.Date(2026, 8, 28, 13, 0, 0, 0, time.UTC)) // 09:00 NY
	if !due {
		t.Error("expected due after the local schedule time")
	}
}

func TestDueBeforeCreation(t *testing.T) {
	b := testBriefing(store.CadenceWeekly)
	b.CreatedAt = time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC) // Wednesday

	// The most recent Monday instant predates the briefing; it must not fire
	// immediately on creation.
	due, err := Due(b, time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if due {
		t.Error("expected briefing created mid-week to wait for its first instant")
	}
}

func TestDueBadInputs(t *testing.T) {
	b := testBriefing(store.CadenceDaily)
	b.Timezone = "Not/AZone"
	if _, err := Due(b, time.Now()); err == nil {
		t.Error("expected error for unknown timezone")
	}

	b = testBriefing(store.CadenceDaily)
	b.ScheduleTime = "25:99"
	if _, err := Due(b, time.Now()); err == nil {
		t.Error("expected error for invalid schedule time")
	}

	b = testBriefing(store.CadenceDaily)
	b.Cadence = "hourly"
	if _, err := Due(b, time.Now()); err == nil {
		t.Error("expected error for unknown cadence")
	}
}
