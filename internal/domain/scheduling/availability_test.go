package scheduling

import (
	"testing"
	"time"
)

func schedulesOn(dates ...string) []Schedule {
	var out []Schedule
	for i, d := range dates {
		day, _ := ParseDate(d)
		out = append(out, Schedule{
			ID:        "s" + string(rune('a'+i)),
			Date:      day,
			Active:    true,
			TimeSlots: []TimeSlot{{Start: "09:00", End: "09:30", MaxBookings: 3}},
		})
	}
	return out
}

func TestMonthAvailability_MarksScheduledDays(t *testing.T) {
	today := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	a := MonthAvailability(schedulesOn("2025-03-10", "2025-03-12", "2025-04-01"), 2025, time.March, today)

	days := a.Days()
	if len(days) != 2 || days[0] != 10 || days[1] != 12 {
		t.Fatalf("expected days [10 12], got %v", days)
	}
	if a.Has(11) {
		t.Error("expected day 11 to be unavailable")
	}
	if !a.HasDate(time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC)) {
		t.Error("expected HasDate to ignore the time of day")
	}
	if len(a.Dates()) != 2 {
		t.Errorf("expected 2 dates, got %d", len(a.Dates()))
	}
}

func TestMonthAvailability_NeverMarksPastDays(t *testing.T) {
	today := time.Date(2025, 3, 11, 23, 0, 0, 0, time.UTC)
	a := MonthAvailability(schedulesOn("2025-03-10", "2025-03-11", "2025-03-20"), 2025, time.March, today)

	if a.Has(10) {
		t.Error("expected a past date never to be available")
	}
	if !a.Has(11) {
		t.Error("expected today to stay available")
	}
	if !a.Has(20) {
		t.Error("expected a future date to be available")
	}
}

func TestMonthAvailability_IgnoresEmptyAndInactive(t *testing.T) {
	today := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	scheds := schedulesOn("2025-03-10", "2025-03-11")
	scheds[0].TimeSlots = nil
	scheds[1].Active = false

	if days := MonthAvailability(scheds, 2025, time.March, today).Days(); len(days) != 0 {
		t.Errorf("expected no available days, got %v", days)
	}
}

func TestToday_UsesLocation(t *testing.T) {
	loc := time.FixedZone("ICT", 7*3600)
	now := time.Date(2025, 3, 10, 18, 30, 0, 0, time.UTC) // 01:30 on the 11th in ICT
	if got := Today(now, loc); !got.Equal(time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected 2025-03-11, got %v", got)
	}
}
