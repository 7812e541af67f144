package slotlock

import (
	"time"

	"github.com/clinic/booking/internal/domain/scheduling"
)

// Picker labels for disabled slots.
const (
	LabelFull  = "Hết chỗ"
	LabelHeld  = "Đang được giữ"
	LabelEnded = "Đã qua"
)

// SlotView is one row of the slot picker.
type SlotView struct {
	Slot        scheduling.Slot
	Disabled    bool
	Label       string
	Selected    bool
	HeldByMe    bool
	HeldByOther bool
}

// View renders the picker rows at now. Holder awareness is dropped while the
// channel is disconnected; capacity always applies.
func (c *Coordinator) View(now time.Time) []SlotView {
	connected := c.ch.Connected()

	c.mu.Lock()
	defer c.mu.Unlock()

	var date time.Time
	if c.room != nil {
		date = c.room.Date
	}
	out := make([]SlotView, 0, len(c.slots))
	for _, s := range c.slots {
		v := SlotView{Slot: s, Label: s.Label()}
		if c.selected != nil && c.selected.Key() == s.Key() {
			v.Selected = true
		}
		if connected {
			if h, ok := c.locks[s.Key()]; ok {
				v.HeldByMe = h == c.holderID
				v.HeldByOther = h != c.holderID
			}
		}
		switch {
		case s.IsBooked:
			v.Disabled, v.Label = true, LabelFull
		case v.HeldByOther:
			v.Disabled, v.Label = true, LabelHeld
		case !date.IsZero() && s.EndedBefore(date, now, c.loc):
			v.Disabled, v.Label = true, LabelEnded
		}
		out = append(out, v)
	}
	return out
}
