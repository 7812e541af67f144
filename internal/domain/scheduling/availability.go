package scheduling

import (
	"sort"
	"time"
)

// Availability marks the days of one month that have at least one open
// schedule. It is rebuilt from scratch whenever the schedules or the displayed
// month change.
type Availability struct {
	Year  int
	Month time.Month
	days  map[int]struct{}
}

// MonthAvailability scans all schedules and keeps the active ones with at
// least one slot whose date falls in the month. Days strictly before today
// are never available.
func MonthAvailability(schedules []Schedule, year int, month time.Month, today time.Time) Availability {
	a := Availability{Year: year, Month: month, days: make(map[int]struct{})}
	cutoff := DayOf(today)

	for _, sched := range schedules {
		if !sched.Active || len(sched.TimeSlots) == 0 {
			continue
		}
		d := DayOf(sched.Date)
		if d.Year() != year || d.Month() != month {
			continue
		}
		if d.Before(cutoff) {
			continue
		}
		a.days[d.Day()] = struct{}{}
	}
	return a
}

// Has reports whether day (1-31) is available.
func (a Availability) Has(day int) bool {
	_, ok := a.days[day]
	return ok
}

// HasDate reports whether the calendar day of t is available.
func (a Availability) HasDate(t time.Time) bool {
	d := DayOf(t)
	return d.Year() == a.Year && d.Month() == a.Month && a.Has(d.Day())
}

// Days returns the available days in ascending order.
func (a Availability) Days() []int {
	out := make([]int, 0, len(a.days))
	for d := range a.days {
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}

// Dates returns the available days as UTC midnights.
func (a Availability) Dates() []time.Time {
	days := a.Days()
	out := make([]time.Time, len(days))
	for i, d := range days {
		out[i] = time.Date(a.Year, a.Month, d, 0, 0, 0, 0, time.UTC)
	}
	return out
}
