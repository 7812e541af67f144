package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/clinic/booking/internal/domain/appointment"
	"github.com/clinic/booking/internal/domain/scheduling"
	"github.com/clinic/booking/internal/domain/slotlock"
)

func printSlots(w io.Writer, rows []slotlock.SlotView) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KHUNG GIỜ\tCÒN\tTRẠNG THÁI\t")
	for _, r := range rows {
		state := "Có thể đặt"
		if r.Disabled {
			state = r.Label
		}
		switch {
		case r.Selected && r.HeldByMe:
			state += " (bạn đang giữ)"
		case r.Selected:
			state += " (đã chọn)"
		}
		fmt.Fprintf(tw, "%s\t%d/%d\t%s\t\n", r.Slot.Label(), r.Slot.Remaining(), r.Slot.MaxBookings, state)
	}
	tw.Flush()
}

func printCalendar(w io.Writer, month time.Time, avail scheduling.Availability) {
	fmt.Fprintf(w, "Tháng %s\n", month.Format("01/2006"))
	days := avail.Days()
	if len(days) == 0 {
		fmt.Fprintln(w, "Không có ngày nào còn lịch khám.")
		return
	}
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	fmt.Fprintf(w, "Ngày có lịch: %s\n", strings.Join(parts, ", "))
}

var statusLabels = map[appointment.Status]string{
	appointment.StatusPending:   "Chờ xác nhận",
	appointment.StatusConfirmed: "Đã xác nhận",
	appointment.StatusCancelled: "Đã hủy",
	appointment.StatusCompleted: "Đã hoàn thành",
	appointment.StatusRejected:  "Bị từ chối",
}

var paymentLabels = map[appointment.PaymentStatus]string{
	appointment.PaymentUnpaid:  "Chưa thanh toán",
	appointment.PaymentPartial: "Thanh toán một phần",
	appointment.PaymentPaid:    "Đã thanh toán",
	appointment.PaymentPending: "Đang xử lý",
}

func label[K comparable](m map[K]string, k K) string {
	if s, ok := m[k]; ok {
		return s
	}
	return fmt.Sprint(k)
}

func printAppointment(w io.Writer, a *appointment.Appointment, rescheduleLimit int) {
	if a == nil {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Mã lịch hẹn:\t%s\n", a.ID)
	if a.DoctorName != "" {
		fmt.Fprintf(tw, "Bác sĩ:\t%s\n", a.DoctorName)
	}
	if a.HospitalName != "" {
		fmt.Fprintf(tw, "Cơ sở:\t%s\n", a.HospitalName)
	}
	if !a.AppointmentDate.IsZero() {
		fmt.Fprintf(tw, "Thời gian:\t%s %s - %s\n", a.AppointmentDate.Format("02/01/2006"), a.TimeSlot.Start, a.TimeSlot.End)
	}
	fmt.Fprintf(tw, "Trạng thái:\t%s\n", label(statusLabels, a.Status))
	if a.CancelReason != "" {
		fmt.Fprintf(tw, "Lý do hủy:\t%s\n", a.CancelReason)
	}
	if a.Bill != nil {
		fmt.Fprintf(tw, "Thanh toán:\t%s\n", label(paymentLabels, a.Bill.OverallStatus))
		for _, bt := range []appointment.BillType{appointment.BillConsultation, appointment.BillMedication, appointment.BillHospitalization} {
			c, _ := a.Bill.Component(bt)
			if c.Amount == 0 {
				continue
			}
			fmt.Fprintf(tw, "  %s:\t%s\t%s\n", string(bt), formatVND(c.Amount), label(paymentLabels, c.Status))
		}
	}
	tw.Flush()

	if rx := appointment.PrescriptionsOf(a); len(rx) > 0 {
		fmt.Fprintln(w, "Đơn thuốc:")
		for _, p := range rx {
			fmt.Fprintf(w, "  %s", p.ID)
			if p.Diagnosis != "" {
				fmt.Fprintf(w, " - %s", p.Diagnosis)
			}
			if p.PaymentStatus != "" {
				fmt.Fprintf(w, " [%s]", label(paymentLabels, p.PaymentStatus))
			}
			fmt.Fprintln(w)
			for _, m := range p.Medications {
				fmt.Fprintf(w, "    - %s %s %s\n", m.Name, m.Dosage, m.Frequency)
			}
		}
	}

	var actions []string
	if appointment.CanReschedule(a, rescheduleLimit) {
		actions = append(actions, "reschedule")
	}
	if appointment.CanModify(a) {
		actions = append(actions, "cancel")
	}
	if appointment.PaymentActionsVisible(a) {
		for _, bt := range appointment.PayableComponents(a) {
			actions = append(actions, "pay --bill "+string(bt))
		}
	}
	if len(actions) > 0 {
		fmt.Fprintf(w, "Có thể: %s\n", strings.Join(actions, ", "))
	}
}

// formatVND renders 1500000 as "1.500.000 ₫".
func formatVND(amount int64) string {
	s := strconv.FormatInt(amount, 10)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	out := b.String() + " ₫"
	if neg {
		out = "-" + out
	}
	return out
}
