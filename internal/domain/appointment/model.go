package appointment

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/clinic/booking/internal/domain/scheduling"
)

// DefaultRescheduleLimit is the per-appointment reschedule ceiling.
const DefaultRescheduleLimit = 2

// Status is the lifecycle status of an appointment. Unknown values from the
// server are kept as-is.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
)

// PaymentStatus is the status of a bill component or of the bill as a whole.
type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
	PaymentPending PaymentStatus = "pending"
)

// BillType names one of the three independently payable bill components.
type BillType string

const (
	BillConsultation    BillType = "consultation"
	BillMedication      BillType = "medication"
	BillHospitalization BillType = "hospitalization"
)

// ParseBillType accepts the bill component names used on the wire.
func ParseBillType(s string) (BillType, bool) {
	switch BillType(strings.ToLower(strings.TrimSpace(s))) {
	case BillConsultation:
		return BillConsultation, true
	case BillMedication:
		return BillMedication, true
	case BillHospitalization:
		return BillHospitalization, true
	}
	return "", false
}

// Component is one payable charge of a Bill. Amounts are whole VND.
type Component struct {
	Amount int64
	Status PaymentStatus
}

// Settled reports whether nothing is owed on the component.
func (c Component) Settled() bool {
	return c.Amount == 0 || c.Status == PaymentPaid
}

// Bill is the per-appointment money ledger.
type Bill struct {
	ID              string
	Consultation    Component
	Medication      Component
	Hospitalization Component
	OverallStatus   PaymentStatus
	Remaining       int64
	Prescriptions   []BillPrescription
}

// Component returns the component for t.
func (b Bill) Component(t BillType) (Component, bool) {
	switch t {
	case BillConsultation:
		return b.Consultation, true
	case BillMedication:
		return b.Medication, true
	case BillHospitalization:
		return b.Hospitalization, true
	}
	return Component{}, false
}

func (b *Bill) UnmarshalJSON(data []byte) error {
	var w struct {
		ID                    string             `json:"_id"`
		ConsultationAmount    float64            `json:"consultationAmount"`
		ConsultationStatus    PaymentStatus      `json:"consultationStatus"`
		MedicationAmount      float64            `json:"medicationAmount"`
		MedicationStatus      PaymentStatus      `json:"medicationStatus"`
		HospitalizationAmount float64            `json:"hospitalizationAmount"`
		HospitalizationStatus PaymentStatus      `json:"hospitalizationStatus"`
		OverallStatus         PaymentStatus      `json:"overallStatus"`
		RemainingAmount       float64            `json:"remainingAmount"`
		Prescriptions         []BillPrescription `json:"prescriptions"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*b = Bill{
		ID:              w.ID,
		Consultation:    Component{Amount: toAmount(w.ConsultationAmount), Status: w.ConsultationStatus},
		Medication:      Component{Amount: toAmount(w.MedicationAmount), Status: w.MedicationStatus},
		Hospitalization: Component{Amount: toAmount(w.HospitalizationAmount), Status: w.HospitalizationStatus},
		OverallStatus:   w.OverallStatus,
		Remaining:       toAmount(w.RemainingAmount),
		Prescriptions:   w.Prescriptions,
	}
	return nil
}

// TimeRange is an HH:MM interval.
type TimeRange struct {
	Start string `json:"startTime"`
	End   string `json:"endTime"`
}

// Appointment is the server's appointment record, normalized.
type Appointment struct {
	ID              string
	PatientID       string
	DoctorID        string
	DoctorName      string
	HospitalID      string
	HospitalName    string
	SpecialtyID     string
	ServiceID       string
	ScheduleID      string
	AppointmentDate time.Time
	TimeSlot        TimeRange
	Status          Status
	RescheduleCount int
	AppointmentType string
	Symptoms        string
	Notes           string
	CancelReason    string
	// PaymentMethod is the server's payment method tag. Checkout overwrites it
	// locally with the method the patient just chose; the next fetch replaces it.
	PaymentMethod string
	Bill          *Bill
	Prescriptions []AppointmentPrescription
	MedicalRecord *RecordPrescription
}

func (a *Appointment) UnmarshalJSON(data []byte) error {
	var w struct {
		ID              string                    `json:"_id"`
		AltID           string                    `json:"id"`
		PatientID       json.RawMessage           `json:"patientId"`
		DoctorID        json.RawMessage           `json:"doctorId"`
		HospitalID      json.RawMessage           `json:"hospitalId"`
		SpecialtyID     json.RawMessage           `json:"specialtyId"`
		ServiceID       json.RawMessage           `json:"serviceId"`
		ScheduleID      json.RawMessage           `json:"scheduleId"`
		AppointmentDate string                    `json:"appointmentDate"`
		TimeSlot        TimeRange                 `json:"timeSlot"`
		Status          Status                    `json:"status"`
		RescheduleCount int                       `json:"rescheduleCount"`
		AppointmentType string                    `json:"appointmentType"`
		Symptoms        string                    `json:"symptoms"`
		Notes           string                    `json:"notes"`
		CancelReason    string                    `json:"cancellationReason"`
		PaymentMethod   string                    `json:"paymentMethod"`
		Bill            *Bill                     `json:"bill"`
		Prescriptions   []AppointmentPrescription `json:"prescriptions"`
		MedicalRecord   *RecordPrescription       `json:"medicalRecord"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	out := Appointment{
		ID:              w.ID,
		TimeSlot:        TimeRange{Start: scheduling.NormalizeTime(w.TimeSlot.Start), End: scheduling.NormalizeTime(w.TimeSlot.End)},
		Status:          Status(strings.ToLower(string(w.Status))),
		RescheduleCount: w.RescheduleCount,
		AppointmentType: w.AppointmentType,
		Symptoms:        w.Symptoms,
		Notes:           w.Notes,
		CancelReason:    w.CancelReason,
		PaymentMethod:   w.PaymentMethod,
		Bill:            w.Bill,
		Prescriptions:   w.Prescriptions,
		MedicalRecord:   w.MedicalRecord,
	}
	if out.ID == "" {
		out.ID = w.AltID
	}
	out.PatientID, _ = scheduling.DecodeRef(w.PatientID)
	out.DoctorID, out.DoctorName = scheduling.DecodeRef(w.DoctorID)
	out.HospitalID, out.HospitalName = scheduling.DecodeRef(w.HospitalID)
	out.SpecialtyID, _ = scheduling.DecodeRef(w.SpecialtyID)
	out.ServiceID, _ = scheduling.DecodeRef(w.ServiceID)
	out.ScheduleID, _ = scheduling.DecodeRef(w.ScheduleID)
	if w.AppointmentDate != "" {
		if d, err := scheduling.ParseScheduleDate(w.AppointmentDate); err == nil {
			out.AppointmentDate = d
		}
	}
	*a = out
	return nil
}

// IsPaymentFullyPaid reports whether the appointment is fully paid for
// action-gating purposes: a bill is present, its overall status is exactly
// paid, and every component is settled.
func IsPaymentFullyPaid(a *Appointment) bool {
	if a == nil || a.Bill == nil {
		return false
	}
	b := a.Bill
	if b.OverallStatus != PaymentPaid {
		return false
	}
	return b.Consultation.Settled() && b.Medication.Settled() && b.Hospitalization.Settled()
}

// PaymentActionsVisible reports whether pay buttons should be offered.
func PaymentActionsVisible(a *Appointment) bool { return !IsPaymentFullyPaid(a) }

// CanModify reports whether the appointment may still be rescheduled or
// cancelled by the patient.
func CanModify(a *Appointment) bool {
	if a == nil {
		return false
	}
	switch a.Status {
	case StatusCancelled, StatusCompleted, StatusRejected, StatusConfirmed:
		return false
	}
	return true
}

// CanReschedule reports whether the appointment can be moved once more. A
// non-positive limit uses DefaultRescheduleLimit.
func CanReschedule(a *Appointment, limit int) bool {
	if limit <= 0 {
		limit = DefaultRescheduleLimit
	}
	return CanModify(a) && a.RescheduleCount < limit
}

// PayableComponents lists the bill components that still have money owed, in
// display order.
func PayableComponents(a *Appointment) []BillType {
	if a == nil || a.Bill == nil {
		return nil
	}
	var out []BillType
	for _, t := range []BillType{BillConsultation, BillMedication, BillHospitalization} {
		c, _ := a.Bill.Component(t)
		if !c.Settled() {
			out = append(out, t)
		}
	}
	return out
}

func toAmount(v float64) int64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return int64(math.Round(v))
}
