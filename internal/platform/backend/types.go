package backend

import (
	"encoding/json"

	"github.com/clinic/booking/internal/domain/appointment"
)

// envelope is the response wrapper every endpoint uses.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func (e envelope) message() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

func (e envelope) failed() bool { return e.Success != nil && !*e.Success }

// PaymentMethodCash defers payment to an explicit later step. Creating an
// appointment never marks it paid.
const PaymentMethodCash = "cash"

type CreateAppointmentRequest struct {
	DoctorID        string                `json:"doctorId"`
	HospitalID      string                `json:"hospitalId"`
	SpecialtyID     string                `json:"specialtyId"`
	ServiceID       string                `json:"serviceId"`
	ScheduleID      string                `json:"scheduleId"`
	AppointmentDate string                `json:"appointmentDate"`
	TimeSlot        appointment.TimeRange `json:"timeSlot"`
	AppointmentType string                `json:"appointmentType,omitempty"`
	Symptoms        string                `json:"symptoms,omitempty"`
	MedicalHistory  string                `json:"medicalHistory,omitempty"`
	Notes           string                `json:"notes,omitempty"`
	CouponCode      string                `json:"couponCode,omitempty"`
	PaymentMethod   string                `json:"paymentMethod"`
}

// CreateAppointmentResult keeps the application-level failure flag so the
// caller can tell a rejection apart from a transport failure.
type CreateAppointmentResult struct {
	Success     bool
	Appointment *appointment.Appointment
	Message     string
}

type RescheduleRequest struct {
	ScheduleID      string                `json:"scheduleId"`
	TimeSlot        appointment.TimeRange `json:"timeSlot"`
	AppointmentDate string                `json:"appointmentDate"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type MomoPaymentRequest struct {
	AppointmentID  string               `json:"appointmentId"`
	Amount         int64                `json:"amount"`
	BillType       appointment.BillType `json:"billType"`
	OrderInfo      string               `json:"orderInfo"`
	RedirectURL    string               `json:"redirectUrl"`
	PrescriptionID string               `json:"prescriptionId,omitempty"`
}

type PaypalPaymentRequest struct {
	AppointmentID  string               `json:"appointmentId"`
	Amount         int64                `json:"amount"`
	BillType       appointment.BillType `json:"billType"`
	PrescriptionID string               `json:"prescriptionId,omitempty"`
}

// PaymentLink is the gateway page the patient is sent to.
type PaymentLink struct {
	PayURL      string `json:"payUrl,omitempty"`
	Deeplink    string `json:"deeplink,omitempty"`
	ApprovalURL string `json:"approvalUrl,omitempty"`
	OrderID     string `json:"orderId,omitempty"`
	PaymentID   string `json:"paymentId,omitempty"`
}

// URL returns the page to open.
func (l PaymentLink) URL() string {
	switch {
	case l.PayURL != "":
		return l.PayURL
	case l.ApprovalURL != "":
		return l.ApprovalURL
	}
	return l.Deeplink
}
