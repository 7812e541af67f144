package booking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/clinic/booking/internal/domain/appointment"
	"github.com/clinic/booking/internal/domain/scheduling"
)

// SlotSelector is satisfied by *slotlock.Coordinator.
type SlotSelector interface {
	Enter(doctorID string, date time.Time, slots []scheduling.Slot) error
	Select(slot *scheduling.Slot) error
	Release()
	Selected() *scheduling.Slot
}

// SlotLoader returns the picker slots of doctorID on date.
type SlotLoader func(ctx context.Context, doctorID string, date time.Time) ([]scheduling.Slot, error)

var ErrNoDate = errors.New("choose a date before a time slot")

// WizardOption configures a Wizard.
type WizardOption func(*Wizard)

// WithSlotLoader makes SelectDate move the slot selector into the lock room
// of the chosen doctor and date with that date's slots.
func WithSlotLoader(f SlotLoader) WizardOption { return func(w *Wizard) { w.load = f } }

// Wizard holds the selection of one booking flow. Date selection goes
// through the daily-limit guard and slot selection through the lock
// coordinator when one is attached.
type Wizard struct {
	submitter *Submitter
	guard     LimitChecker
	slots     SlotSelector
	load      SlotLoader

	mu  sync.Mutex
	sel Selection
	// room is the doctor and date the selector was last entered for.
	room struct {
		doctorID string
		date     time.Time
	}
}

// NewWizard creates a wizard. guard and slots may be nil.
func NewWizard(submitter *Submitter, guard LimitChecker, slots SlotSelector, opts ...WizardOption) *Wizard {
	w := &Wizard{submitter: submitter, guard: guard, slots: slots}
	for _, o := range opts {
		o(w)
	}
	return w
}

// SetProvider sets the hospital, specialty, doctor and service. Changing the
// doctor clears the date and slot.
func (w *Wizard) SetProvider(hospitalID, specialtyID, doctorID, serviceID string) {
	w.mu.Lock()
	changed := w.sel.DoctorID != "" && w.sel.DoctorID != doctorID
	w.sel.HospitalID = hospitalID
	w.sel.SpecialtyID = specialtyID
	w.sel.DoctorID = doctorID
	w.sel.ServiceID = serviceID
	if changed {
		w.sel.Date = nil
		w.sel.Slot = nil
	}
	w.mu.Unlock()
	if changed && w.slots != nil {
		w.slots.Release()
	}
}

// SetDetails sets the free-text metadata of the appointment.
func (w *Wizard) SetDetails(appointmentType, symptoms, history, notes, coupon string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sel.AppointmentType = appointmentType
	w.sel.Symptoms = symptoms
	w.sel.MedicalHistory = history
	w.sel.Notes = notes
	w.sel.CouponCode = coupon
}

// SelectDate runs the daily-limit guard for date. A blocked date returns a
// KindLimitReached error and leaves the selection untouched; otherwise the
// date is set and any selected slot is released. With a slot loader the
// selector is re-entered for the new doctor and date.
func (w *Wizard) SelectDate(ctx context.Context, date time.Time) error {
	if w.guard != nil {
		if res := w.guard.Check(ctx, date); res.Blocked {
			return &Error{Kind: KindLimitReached, Field: "date", Message: res.Message()}
		}
	}
	day := scheduling.DayOf(date)

	w.mu.Lock()
	doctorID := w.sel.DoctorID
	moved := w.room.doctorID != doctorID || !w.room.date.Equal(day)
	w.mu.Unlock()

	if w.slots != nil && w.load != nil && doctorID != "" && moved {
		slots, err := w.load(ctx, doctorID, day)
		if err != nil {
			return err
		}
		// Enter exits the previous room, unlocking its held slot.
		if err := w.slots.Enter(doctorID, day, slots); err != nil {
			return err
		}
		w.mu.Lock()
		w.room.doctorID, w.room.date = doctorID, day
		w.sel.Date = &day
		w.sel.Slot = nil
		w.mu.Unlock()
		return nil
	}

	w.mu.Lock()
	hadSlot := w.sel.Slot != nil
	w.sel.Date = &day
	w.sel.Slot = nil
	w.mu.Unlock()

	if hadSlot && w.slots != nil {
		w.slots.Release()
	}
	return nil
}

// SelectSlot selects slot for the chosen date. Lock conflicts and capacity
// refusals come back from the coordinator unchanged.
func (w *Wizard) SelectSlot(slot *scheduling.Slot) error {
	w.mu.Lock()
	if w.sel.Date == nil {
		w.mu.Unlock()
		return ErrNoDate
	}
	w.mu.Unlock()

	if w.slots != nil {
		if err := w.slots.Select(slot); err != nil {
			return err
		}
		slot = w.slots.Selected()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if slot == nil {
		w.sel.Slot = nil
		return nil
	}
	s := *slot
	w.sel.Slot = &s
	return nil
}

// Selection returns a copy of the current selection. The slot reflects the
// coordinator, which clears it when the server rejects the lock.
func (w *Wizard) Selection() Selection {
	w.sync()
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sel.clone()
}

// Submit creates the appointment and releases the slot lock on success. On
// failure the selection and lock are kept so the patient can retry.
func (w *Wizard) Submit(ctx context.Context) (*appointment.Appointment, error) {
	sel := w.Selection()
	appt, err := w.submitter.Submit(ctx, sel)
	if err != nil {
		return nil, err
	}
	if w.slots != nil {
		w.slots.Release()
	}
	w.mu.Lock()
	w.sel.Slot = nil
	w.mu.Unlock()
	return appt, nil
}

func (w *Wizard) sync() {
	if w.slots == nil {
		return
	}
	cur := w.slots.Selected()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sel.Slot = cur
}
