package appointment

import (
	"encoding/json"
	"testing"
	"time"
)

func decode(t *testing.T, body string) *Appointment {
	t.Helper()
	var a Appointment
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		t.Fatalf("unmarshal appointment: %v", err)
	}
	return &a
}

func TestAppointment_UnmarshalNormalizes(t *testing.T) {
	a := decode(t, `{
		"_id": "apt-1",
		"doctorId": {"_id": "doc-1", "name": "BS. Lan"},
		"hospitalId": "hosp-1",
		"scheduleId": {"_id": "sch-1"},
		"appointmentDate": "2025-03-10T00:00:00.000Z",
		"timeSlot": {"startTime": "9:00", "endTime": "09:30:00"},
		"status": "PENDING",
		"rescheduleCount": 1,
		"bill": {"consultationAmount": 200000.0, "consultationStatus": "unpaid", "overallStatus": "unpaid", "remainingAmount": 200000}
	}`)

	if a.ID != "apt-1" || a.DoctorID != "doc-1" || a.DoctorName != "BS. Lan" || a.HospitalID != "hosp-1" {
		t.Errorf("unexpected refs: %+v", a)
	}
	if a.ScheduleID != "sch-1" {
		t.Errorf("expected schedule id from object ref, got %q", a.ScheduleID)
	}
	if !a.AppointmentDate.Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected date %v", a.AppointmentDate)
	}
	if a.TimeSlot.Start != "09:00" || a.TimeSlot.End != "09:30" {
		t.Errorf("expected normalized time slot, got %+v", a.TimeSlot)
	}
	if a.Status != StatusPending {
		t.Errorf("expected lower-cased status, got %q", a.Status)
	}
	if a.Bill == nil || a.Bill.Consultation.Amount != 200000 || a.Bill.Remaining != 200000 {
		t.Errorf("unexpected bill %+v", a.Bill)
	}
}

// ---------- Payment predicates ----------

func TestIsPaymentFullyPaid_ConsultationOnly(t *testing.T) {
	a := decode(t, `{"_id":"a","status":"pending","bill":{
		"consultationAmount":200000,"consultationStatus":"paid",
		"medicationAmount":0,"hospitalizationAmount":0,"overallStatus":"paid"}}`)

	if !IsPaymentFullyPaid(a) {
		t.Fatal("expected fully paid")
	}
	if PaymentActionsVisible(a) {
		t.Error("expected payment actions to be hidden")
	}
	if got := PayableComponents(a); len(got) != 0 {
		t.Errorf("expected nothing payable, got %v", got)
	}
}

func TestIsPaymentFullyPaid_RequiresExactPaid(t *testing.T) {
	tests := []struct {
		name string
		bill Bill
		want bool
	}{
		{"partial overall", Bill{Consultation: Component{100, PaymentPaid}, OverallStatus: PaymentPartial}, false},
		{"pending overall", Bill{Consultation: Component{100, PaymentPaid}, OverallStatus: PaymentPending}, false},
		{"unsettled component", Bill{Consultation: Component{100, PaymentPaid}, Medication: Component{50, PaymentUnpaid}, OverallStatus: PaymentPaid}, false},
		{"zero amount counts as settled", Bill{Consultation: Component{100, PaymentPaid}, Medication: Component{0, PaymentUnpaid}, OverallStatus: PaymentPaid}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bill := tt.bill
			if got := IsPaymentFullyPaid(&Appointment{Bill: &bill}); got != tt.want {
				t.Errorf("IsPaymentFullyPaid = %v, want %v", got, tt.want)
			}
		})
	}

	if IsPaymentFullyPaid(&Appointment{}) {
		t.Error("expected an appointment without a bill not to be paid")
	}
	if IsPaymentFullyPaid(nil) {
		t.Error("expected nil not to be paid")
	}
}

// ---------- Status gating ----------

func TestCanModify(t *testing.T) {
	for _, st := range []Status{StatusCancelled, StatusCompleted, StatusRejected, StatusConfirmed} {
		if CanModify(&Appointment{Status: st}) {
			t.Errorf("expected %s to be final", st)
		}
	}
	if !CanModify(&Appointment{Status: StatusPending}) {
		t.Error("expected pending to be modifiable")
	}
}

func TestCanReschedule_Ceiling(t *testing.T) {
	a := &Appointment{Status: StatusPending, RescheduleCount: 1}
	if !CanReschedule(a, 2) {
		t.Error("expected one reschedule left")
	}
	a.RescheduleCount = 2
	if CanReschedule(a, 2) {
		t.Error("expected reschedule to be refused at the ceiling")
	}
	if CanReschedule(a, 0) {
		t.Error("expected the default ceiling of 2 to apply")
	}
}

func TestParseBillType(t *testing.T) {
	if bt, ok := ParseBillType(" Medication "); !ok || bt != BillMedication {
		t.Errorf("expected medication, got %q %v", bt, ok)
	}
	if _, ok := ParseBillType("tip"); ok {
		t.Error("expected unknown bill type to be rejected")
	}
}
