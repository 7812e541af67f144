package booking

import (
	"time"

	"github.com/clinic/booking/internal/domain/scheduling"
)

// Selection is the booking wizard's state.
type Selection struct {
	HospitalID  string
	SpecialtyID string
	DoctorID    string
	ServiceID   string
	Date        *time.Time
	Slot        *scheduling.Slot

	AppointmentType string
	Symptoms        string
	MedicalHistory  string
	Notes           string
	CouponCode      string
}

// firstMissing returns the first required field that is not set, in wizard
// order.
func (s Selection) firstMissing() string {
	switch {
	case s.HospitalID == "":
		return "hospital"
	case s.SpecialtyID == "":
		return "specialty"
	case s.DoctorID == "":
		return "doctor"
	case s.ServiceID == "":
		return "service"
	case s.Date == nil:
		return "date"
	case s.Slot == nil:
		return "slot"
	}
	return ""
}

func (s Selection) clone() Selection {
	out := s
	if s.Date != nil {
		d := *s.Date
		out.Date = &d
	}
	if s.Slot != nil {
		sl := *s.Slot
		out.Slot = &sl
	}
	return out
}
