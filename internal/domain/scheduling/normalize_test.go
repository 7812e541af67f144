package scheduling

import (
	"encoding/json"
	"testing"
	"time"
)

// ---------- Helper ----------

func intPtr(v int) *int { return &v }

func boolPtr(v bool) *bool { return &v }

func mustNormalize(t *testing.T, raw []RawSchedule) []Schedule {
	t.Helper()
	scheds, dropped := Normalize(raw, DefaultMaxBookings)
	if dropped != 0 {
		t.Fatalf("expected no dropped schedules, got %d", dropped)
	}
	return scheds
}

var march10 = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

// ---------- NormalizeTime ----------

func TestNormalizeTime(t *testing.T) {
	cases := map[string]string{
		"09:00":                "09:00",
		"9:00":                 "09:00",
		"09:30:00":             "09:30",
		"9h30":                 "09:30",
		"  14:05 ":             "14:05",
		"02:30 PM":             "14:30",
		"12:15 AM":             "00:15",
		"2025-03-10T08:45:00Z": "08:45",
		"":                     "00:00",
		"garbage":              "00:00",
		"25:00":                "00:00",
		"10:75":                "00:00",
	}
	for in, want := range cases {
		if got := NormalizeTime(in); got != want {
			t.Errorf("NormalizeTime(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMinutes(t *testing.T) {
	if got := Minutes("09:30"); got != 570 {
		t.Errorf("expected 570, got %d", got)
	}
	if got := Minutes("bad"); got != 0 {
		t.Errorf("expected 0 for malformed input, got %d", got)
	}
}

func TestParseScheduleDate_DiscardsTimeOfDay(t *testing.T) {
	for _, in := range []string{"2025-03-10", "2025-03-10T17:00:00.000Z", "2025-03-10T00:00:00Z"} {
		got, err := ParseScheduleDate(in)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", in, err)
		}
		if !got.Equal(march10) {
			t.Errorf("ParseScheduleDate(%q) = %v, want %v", in, got, march10)
		}
	}
	if _, err := ParseScheduleDate("10/03/2025"); err == nil {
		t.Error("expected error for unsupported layout")
	}
}

// ---------- Normalize ----------

func TestNormalize_DefaultsAndRefs(t *testing.T) {
	raw := []RawSchedule{{
		ID:       "s1",
		DoctorID: json.RawMessage(`{"_id":"doc-1","name":"BS. An"}`),
		Date:     "2025-03-10T00:00:00.000Z",
		TimeSlots: []RawTimeSlot{
			{StartTime: "9:00", EndTime: "9:30", RoomID: json.RawMessage(`"room-7"`)},
			{StartTime: "10:00", EndTime: "10:30", MaxBookings: intPtr(0), BookedCount: intPtr(-2),
				RoomID: json.RawMessage(`{"_id":"room-8","name":"Phòng 8"}`)},
		},
	}}

	scheds := mustNormalize(t, raw)
	if len(scheds) != 1 {
		t.Fatalf("expected 1 schedule, got %d", len(scheds))
	}
	s := scheds[0]
	if s.DoctorID != "doc-1" {
		t.Errorf("expected doctor id from populated object, got %q", s.DoctorID)
	}
	if !s.Active {
		t.Error("expected schedule without isActive to be active")
	}
	if s.TimeSlots[0].MaxBookings != DefaultMaxBookings {
		t.Errorf("expected default capacity %d, got %d", DefaultMaxBookings, s.TimeSlots[0].MaxBookings)
	}
	if s.TimeSlots[0].RoomID != "room-7" {
		t.Errorf("expected room-7, got %q", s.TimeSlots[0].RoomID)
	}
	if s.TimeSlots[1].MaxBookings != DefaultMaxBookings || s.TimeSlots[1].BookedCount != 0 {
		t.Errorf("expected sanitized capacity/count, got %+v", s.TimeSlots[1])
	}
	if s.TimeSlots[1].RoomName != "Phòng 8" {
		t.Errorf("expected room name, got %q", s.TimeSlots[1].RoomName)
	}
	if s.TimeSlots[0].Start != "09:00" || s.TimeSlots[0].End != "09:30" {
		t.Errorf("expected normalized times, got %s-%s", s.TimeSlots[0].Start, s.TimeSlots[0].End)
	}
}

func TestNormalize_DropsUnparsableDates(t *testing.T) {
	raw := []RawSchedule{{ID: "a", Date: "not-a-date"}, {ID: "b", Date: "2025-03-10"}}
	scheds, dropped := Normalize(raw, 0)
	if dropped != 1 || len(scheds) != 1 || scheds[0].ID != "b" {
		t.Fatalf("expected one kept and one dropped, got %d kept, %d dropped", len(scheds), dropped)
	}
}

// ---------- SlotsForDate ----------

func TestSlotsForDate_SortedAndDeduplicated(t *testing.T) {
	raw := []RawSchedule{
		{ID: "s1", Date: "2025-03-10", TimeSlots: []RawTimeSlot{
			{StartTime: "14:00", EndTime: "14:30"},
			{StartTime: "09:00", EndTime: "09:30"},
			{StartTime: "10:00", EndTime: "10:30"},
		}},
		{ID: "s2", Date: "2025-03-10T05:00:00Z", TimeSlots: []RawTimeSlot{
			{StartTime: "9:00", EndTime: "9:30"},
			{StartTime: "08:00", EndTime: "08:30"},
		}},
		{ID: "s3", Date: "2025-03-11", TimeSlots: []RawTimeSlot{
			{StartTime: "07:00", EndTime: "07:30"},
		}},
	}

	slots := SlotsForDate(mustNormalize(t, raw), march10)
	if len(slots) != 4 {
		t.Fatalf("expected 4 slots, got %d: %+v", len(slots), slots)
	}

	seen := map[string]bool{}
	for i, s := range slots {
		if seen[s.RangeKey()] {
			t.Errorf("duplicate range %s", s.RangeKey())
		}
		seen[s.RangeKey()] = true
		if i > 0 && Minutes(slots[i-1].Start) > Minutes(s.Start) {
			t.Errorf("slots not sorted: %s before %s", slots[i-1].Start, s.Start)
		}
	}
	if slots[0].Start != "08:00" {
		t.Errorf("expected 08:00 first, got %s", slots[0].Start)
	}
}

func TestSlotsForDate_PrefersSlotWithCapacity(t *testing.T) {
	raw := []RawSchedule{
		{ID: "full", Date: "2025-03-10", TimeSlots: []RawTimeSlot{
			{StartTime: "09:00", EndTime: "09:30", MaxBookings: intPtr(3), BookedCount: intPtr(3)},
		}},
		{ID: "open", Date: "2025-03-10", TimeSlots: []RawTimeSlot{
			{StartTime: "09:00", EndTime: "09:30", MaxBookings: intPtr(3), BookedCount: intPtr(2)},
		}},
	}

	slots := SlotsForDate(mustNormalize(t, raw), march10)
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if slots[0].ScheduleID != "open" || slots[0].IsBooked || slots[0].Remaining() != 1 {
		t.Errorf("expected the slot with remaining capacity to win, got %+v", slots[0])
	}

	// Same outcome regardless of order.
	raw[0], raw[1] = raw[1], raw[0]
	slots = SlotsForDate(mustNormalize(t, raw), march10)
	if slots[0].ScheduleID != "open" {
		t.Errorf("expected order-independent tie-break, got %s", slots[0].ScheduleID)
	}
}

func TestSlotsForDate_LargerRemainingWins(t *testing.T) {
	raw := []RawSchedule{
		{ID: "a", Date: "2025-03-10", TimeSlots: []RawTimeSlot{
			{StartTime: "09:00", EndTime: "09:30", MaxBookings: intPtr(3), BookedCount: intPtr(2)},
		}},
		{ID: "b", Date: "2025-03-10", TimeSlots: []RawTimeSlot{
			{StartTime: "09:00", EndTime: "09:30", MaxBookings: intPtr(5), BookedCount: intPtr(1)},
		}},
		{ID: "c", Date: "2025-03-10", TimeSlots: []RawTimeSlot{
			{StartTime: "09:00", EndTime: "09:30", MaxBookings: intPtr(5), BookedCount: intPtr(1)},
		}},
	}
	slots := SlotsForDate(mustNormalize(t, raw), march10)
	if slots[0].ScheduleID != "b" {
		t.Errorf("expected b (remaining 4, first seen), got %s", slots[0].ScheduleID)
	}
}

func TestSlotsForDate_SkipsInactive(t *testing.T) {
	raw := []RawSchedule{{ID: "s1", Date: "2025-03-10", IsActive: boolPtr(false), TimeSlots: []RawTimeSlot{
		{StartTime: "09:00", EndTime: "09:30"},
	}}}
	if slots := SlotsForDate(mustNormalize(t, raw), march10); len(slots) != 0 {
		t.Errorf("expected inactive schedules to be ignored, got %d slots", len(slots))
	}
}

func TestSlotsForDate_FullSlotIsBooked(t *testing.T) {
	raw := []RawSchedule{{ID: "s1", Date: "2025-03-10", TimeSlots: []RawTimeSlot{
		{StartTime: "09:00", EndTime: "09:30", MaxBookings: intPtr(3), BookedCount: intPtr(3)},
	}}}
	slots := SlotsForDate(mustNormalize(t, raw), march10)
	if len(slots) != 1 || !slots[0].IsBooked {
		t.Fatalf("expected a single booked slot, got %+v", slots)
	}
}

func TestSlot_EndedBefore(t *testing.T) {
	loc := time.FixedZone("ICT", 7*3600)
	s := Slot{Start: "09:00", End: "09:30"}
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	if !s.EndedBefore(day, time.Date(2025, 3, 10, 9, 30, 0, 0, loc), loc) {
		t.Error("expected slot to be ended at its end time")
	}
	if s.EndedBefore(day, time.Date(2025, 3, 10, 9, 29, 0, 0, loc), loc) {
		t.Error("expected slot to still be open one minute before its end")
	}
}

func TestFindSlotByStart(t *testing.T) {
	slots := []Slot{{ScheduleID: "s1", Start: "09:00", End: "09:30"}}
	if _, ok := FindSlotByStart(slots, "9:00"); !ok {
		t.Error("expected lookup to normalize the start time")
	}
	if _, ok := FindSlot(slots, SlotKey{ScheduleID: "s2", Start: "09:00"}); ok {
		t.Error("expected key lookup to include the schedule id")
	}
}
