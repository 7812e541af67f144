package appointment

import (
	"encoding/json"
	"strings"

	"github.com/clinic/booking/internal/domain/scheduling"
)

// Medication is one line of a prescription.
type Medication struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage,omitempty"`
	Frequency    string `json:"frequency,omitempty"`
	Duration     string `json:"duration,omitempty"`
	Quantity     int    `json:"quantity,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// Prescription is the merged view of one prescription across every record
// that mentions it.
type Prescription struct {
	ID            string
	Status        string
	PaymentStatus PaymentStatus
	TotalAmount   int64
	Diagnosis     string
	Notes         string
	Medications   []Medication
}

// The appointment detail carries prescriptions in three shapes. Each shape is
// a PrescriptionSource; MergePrescriptions folds them by id.

// AppointmentPrescription is an entry of appointment.prescriptions.
type AppointmentPrescription struct {
	ID          string       `json:"_id"`
	Status      string       `json:"status"`
	TotalAmount float64      `json:"totalAmount"`
	Medications []Medication `json:"medications"`
	Notes       string       `json:"notes"`
}

// BillPrescription is an entry of bill.prescriptions. It only knows payment.
type BillPrescription struct {
	PrescriptionID json.RawMessage `json:"prescriptionId"`
	Amount         float64         `json:"amount"`
	Status         PaymentStatus   `json:"status"`
}

// RecordPrescription is the prescription attached to the appointment's
// medical record.
type RecordPrescription struct {
	ID           string        `json:"_id"`
	Diagnosis    string        `json:"diagnosis"`
	Prescription *RecordedItem `json:"prescription"`
}

// RecordedItem is the prescription body inside a medical record.
type RecordedItem struct {
	ID          string       `json:"_id"`
	Medications []Medication `json:"medications"`
	Notes       string       `json:"notes"`
}

// PrescriptionSource is implemented by FromAppointment, FromBill and
// FromRecord only.
type PrescriptionSource interface {
	partial() Prescription
}

type (
	FromAppointment struct{ AppointmentPrescription }
	FromBill        struct{ BillPrescription }
	FromRecord      struct{ RecordPrescription }
)

func (s FromAppointment) partial() Prescription {
	return Prescription{
		ID:          s.ID,
		Status:      s.Status,
		TotalAmount: toAmount(s.TotalAmount),
		Notes:       s.Notes,
		Medications: s.Medications,
	}
}

func (s FromBill) partial() Prescription {
	id, _ := scheduling.DecodeRef(s.PrescriptionID)
	return Prescription{
		ID:            id,
		PaymentStatus: s.Status,
		TotalAmount:   toAmount(s.Amount),
	}
}

func (s FromRecord) partial() Prescription {
	p := Prescription{Diagnosis: s.Diagnosis}
	if s.Prescription != nil {
		p.ID = s.Prescription.ID
		p.Notes = s.Prescription.Notes
		p.Medications = s.Prescription.Medications
	}
	return p
}

// MergePrescriptions folds the sources into one Prescription per id. Ids are
// compared trimmed and case-insensitively; sources without an id are skipped.
// For every field the last non-empty value wins. The result keeps the order
// in which ids first appeared.
func MergePrescriptions(sources ...PrescriptionSource) []Prescription {
	index := make(map[string]int)
	var out []Prescription

	for _, src := range sources {
		if src == nil {
			continue
		}
		p := src.partial()
		key := normalizeID(p.ID)
		if key == "" {
			continue
		}
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			p.ID = strings.TrimSpace(p.ID)
			out = append(out, p)
			continue
		}
		mergeInto(&out[i], p)
	}
	return out
}

// SourcesOf collects every prescription source carried by a, in the order
// appointment, bill, medical record.
func SourcesOf(a *Appointment) []PrescriptionSource {
	if a == nil {
		return nil
	}
	var out []PrescriptionSource
	for _, p := range a.Prescriptions {
		out = append(out, FromAppointment{p})
	}
	if a.Bill != nil {
		for _, p := range a.Bill.Prescriptions {
			out = append(out, FromBill{p})
		}
	}
	if a.MedicalRecord != nil {
		out = append(out, FromRecord{*a.MedicalRecord})
	}
	return out
}

// PrescriptionsOf is MergePrescriptions(SourcesOf(a)...).
func PrescriptionsOf(a *Appointment) []Prescription {
	return MergePrescriptions(SourcesOf(a)...)
}

func mergeInto(dst *Prescription, src Prescription) {
	if s := strings.TrimSpace(src.Status); s != "" {
		dst.Status = s
	}
	if src.PaymentStatus != "" {
		dst.PaymentStatus = src.PaymentStatus
	}
	if src.TotalAmount != 0 {
		dst.TotalAmount = src.TotalAmount
	}
	if s := strings.TrimSpace(src.Diagnosis); s != "" {
		dst.Diagnosis = s
	}
	if s := strings.TrimSpace(src.Notes); s != "" {
		dst.Notes = s
	}
	if len(src.Medications) > 0 {
		dst.Medications = src.Medications
	}
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
