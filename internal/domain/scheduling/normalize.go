package scheduling

import (
	"sort"
	"time"
)

// SlotsForDate builds the time-picker list for one date from a doctor's
// schedules. Candidates sharing a start-end range are collapsed: a slot with
// capacity beats a full one, otherwise the larger remaining capacity wins and
// ties keep the first seen. The result is sorted by start time.
func SlotsForDate(schedules []Schedule, date time.Time) []Slot {
	day := DayOf(date)
	index := make(map[string]int)
	var out []Slot

	for _, sched := range schedules {
		if !sched.Active || !SameDay(sched.Date, day) {
			continue
		}
		for _, ts := range sched.TimeSlots {
			cand := Slot{
				ScheduleID:  sched.ID,
				TimeSlotID:  ts.ID,
				Start:       ts.Start,
				End:         ts.End,
				BookedCount: ts.BookedCount,
				MaxBookings: ts.MaxBookings,
				IsBooked:    ts.IsFull(),
				RoomName:    ts.RoomName,
			}
			key := cand.RangeKey()
			if i, ok := index[key]; ok {
				if preferSlot(cand, out[i]) {
					out[i] = cand
				}
				continue
			}
			index[key] = len(out)
			out = append(out, cand)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		si, sj := Minutes(out[i].Start), Minutes(out[j].Start)
		if si != sj {
			return si < sj
		}
		return Minutes(out[i].End) < Minutes(out[j].End)
	})
	return out
}

func preferSlot(cand, cur Slot) bool {
	if cand.IsBooked != cur.IsBooked {
		return !cand.IsBooked
	}
	return cand.Remaining() > cur.Remaining()
}

// FindSlot returns the slot with the given key.
func FindSlot(slots []Slot, key SlotKey) (Slot, bool) {
	for _, s := range slots {
		if s.Key() == key {
			return s, true
		}
	}
	return Slot{}, false
}

// FindSlotByStart returns the first slot starting at start (any format
// accepted by NormalizeTime).
func FindSlotByStart(slots []Slot, start string) (Slot, bool) {
	start = NormalizeTime(start)
	for _, s := range slots {
		if s.Start == start {
			return s, true
		}
	}
	return Slot{}, false
}
