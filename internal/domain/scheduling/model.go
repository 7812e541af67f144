package scheduling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxBookings is the capacity assumed for a time slot that does not
// carry maxBookings.
const DefaultMaxBookings = 3

// DateLayout is the wire format of calendar dates exchanged with the backend.
const DateLayout = "2006-01-02"

// RawSchedule is a schedule exactly as the backend returns it. Several fields
// arrive in more than one shape; Normalize is the only consumer.
type RawSchedule struct {
	ID        string          `json:"_id"`
	DoctorID  json.RawMessage `json:"doctorId,omitempty"`
	Date      string          `json:"date"`
	IsActive  *bool           `json:"isActive,omitempty"`
	TimeSlots []RawTimeSlot   `json:"timeSlots"`
}

// RawTimeSlot is one entry of RawSchedule.TimeSlots.
type RawTimeSlot struct {
	ID          string          `json:"_id,omitempty"`
	StartTime   string          `json:"startTime"`
	EndTime     string          `json:"endTime"`
	MaxBookings *int            `json:"maxBookings,omitempty"`
	BookedCount *int            `json:"bookedCount,omitempty"`
	IsBooked    *bool           `json:"isBooked,omitempty"`
	RoomID      json.RawMessage `json:"roomId,omitempty"`
}

// Schedule is one doctor's availability for one calendar day.
type Schedule struct {
	ID        string
	DoctorID  string
	Date      time.Time // UTC midnight
	Active    bool
	TimeSlots []TimeSlot
}

// TimeSlot is a bounded-capacity interval inside a Schedule. Start and End are
// always HH:MM.
type TimeSlot struct {
	ID          string
	ScheduleID  string
	Start       string
	End         string
	MaxBookings int
	BookedCount int
	RoomID      string
	RoomName    string
}

// IsFull reports whether the slot has no remaining capacity.
func (t TimeSlot) IsFull() bool { return t.BookedCount >= t.MaxBookings }

// SlotKey identifies a slot for deduplication and locking. The same wall-clock
// interval can appear in several schedule records, so object identity is not
// usable.
type SlotKey struct {
	ScheduleID string
	Start      string
}

func (k SlotKey) String() string { return k.ScheduleID + "@" + k.Start }

// Slot is a normalized, per-date entry of the time picker.
type Slot struct {
	ScheduleID  string `json:"scheduleId"`
	TimeSlotID  string `json:"timeSlotId,omitempty"`
	Start       string `json:"startTime"`
	End         string `json:"endTime"`
	BookedCount int    `json:"bookedCount"`
	MaxBookings int    `json:"maxBookings"`
	IsBooked    bool   `json:"isBooked"`
	RoomName    string `json:"roomName,omitempty"`
}

// Key returns the lock identity of the slot.
func (s Slot) Key() SlotKey { return SlotKey{ScheduleID: s.ScheduleID, Start: s.Start} }

// RangeKey returns the schedule-independent dedup key "HH:MM-HH:MM".
func (s Slot) RangeKey() string { return s.Start + "-" + s.End }

// Remaining returns the number of free places, never negative.
func (s Slot) Remaining() int {
	if r := s.MaxBookings - s.BookedCount; r > 0 {
		return r
	}
	return 0
}

// Label renders the slot interval for display.
func (s Slot) Label() string { return s.Start + " - " + s.End }

// EndedBefore reports whether the slot, placed on date in loc, has already
// ended at now. This is a display concern and is not applied by SlotsForDate.
func (s Slot) EndedBefore(date, now time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	end := Minutes(s.End)
	at := time.Date(date.Year(), date.Month(), date.Day(), end/60, end%60, 0, 0, loc)
	return !now.Before(at)
}

// ---------------------------------------------------------------------------
// Normalization boundary
// ---------------------------------------------------------------------------

// Normalize converts a raw schedule fetch into strict Schedules. Schedules
// whose date cannot be parsed are skipped; the number skipped is returned so
// the caller can log it.
func Normalize(raw []RawSchedule, defaultMax int) ([]Schedule, int) {
	if defaultMax <= 0 {
		defaultMax = DefaultMaxBookings
	}
	out := make([]Schedule, 0, len(raw))
	dropped := 0
	for _, rs := range raw {
		date, err := ParseScheduleDate(rs.Date)
		if err != nil {
			dropped++
			continue
		}
		doctorID, _ := DecodeRef(rs.DoctorID)
		sched := Schedule{
			ID:       rs.ID,
			DoctorID: doctorID,
			Date:     date,
			Active:   rs.IsActive == nil || *rs.IsActive,
		}
		for _, rt := range rs.TimeSlots {
			roomID, roomName := DecodeRef(rt.RoomID)
			sched.TimeSlots = append(sched.TimeSlots, TimeSlot{
				ID:          rt.ID,
				ScheduleID:  rs.ID,
				Start:       NormalizeTime(rt.StartTime),
				End:         NormalizeTime(rt.EndTime),
				MaxBookings: normalizeCapacity(rt.MaxBookings, defaultMax),
				BookedCount: normalizeCount(rt.BookedCount),
				RoomID:      roomID,
				RoomName:    roomName,
			})
		}
		out = append(out, sched)
	}
	return out, dropped
}

// NormalizeTime converts the time formats seen on the wire ("9:00", "09:00:00",
// "9h30", "02:30 PM", RFC3339 timestamps) to HH:MM. Anything unparsable
// becomes "00:00".
func NormalizeTime(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "00:00"
	}
	if strings.Contains(s, "T") {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC().Format("15:04")
		}
	}

	upper := strings.ToUpper(s)
	meridiem := ""
	switch {
	case strings.HasSuffix(upper, "AM"):
		meridiem = "AM"
	case strings.HasSuffix(upper, "PM"):
		meridiem = "PM"
	}
	if meridiem != "" {
		upper = strings.TrimSpace(strings.TrimSuffix(upper, meridiem))
	}
	upper = strings.ReplaceAll(upper, "H", ":")

	parts := strings.Split(upper, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return "00:00"
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return "00:00"
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return "00:00"
	}
	switch meridiem {
	case "AM":
		if h < 1 || h > 12 {
			return "00:00"
		}
		if h == 12 {
			h = 0
		}
	case "PM":
		if h < 1 || h > 12 {
			return "00:00"
		}
		if h != 12 {
			h += 12
		}
	}
	if h < 0 || h > 23 {
		return "00:00"
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

// Minutes returns minutes since midnight for an HH:MM string produced by
// NormalizeTime.
func Minutes(hhmm string) int {
	n := NormalizeTime(hhmm)
	h, _ := strconv.Atoi(n[:2])
	m, _ := strconv.Atoi(n[3:])
	return h*60 + m
}

// ParseScheduleDate accepts "2006-01-02" or an RFC3339 timestamp and returns
// the UTC calendar day, discarding any time-of-day component.
func ParseScheduleDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return DayOf(t), nil
	}
	return time.Time{}, fmt.Errorf("invalid schedule date %q", s)
}

// ParseDate parses a "2006-01-02" calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

// FormatDate renders a calendar day in DateLayout.
func FormatDate(t time.Time) string { return DayOf(t).Format(DateLayout) }

// DayOf truncates t to its UTC calendar day.
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay compares two instants at UTC day granularity.
func SameDay(a, b time.Time) bool { return DayOf(a).Equal(DayOf(b)) }

// Today returns the calendar day of now as seen in loc, expressed as UTC
// midnight so it compares with schedule dates.
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	l := now.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, time.UTC)
}

func normalizeCapacity(v *int, def int) int {
	if v == nil || *v <= 0 {
		return def
	}
	return *v
}

func normalizeCount(v *int) int {
	if v == nil || *v < 0 {
		return 0
	}
	return *v
}

// DecodeRef reads a reference that is either a bare id string or a populated
// object such as {"_id": "...", "name": "..."}.
func DecodeRef(raw json.RawMessage) (id, name string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", ""
	}
	if raw[0] == '"' {
		_ = json.Unmarshal(raw, &id)
		return id, ""
	}
	var obj struct {
		MongoID string `json:"_id"`
		ID      string `json:"id"`
		Name    string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", ""
	}
	if obj.MongoID != "" {
		return obj.MongoID, obj.Name
	}
	return obj.ID, obj.Name
}
