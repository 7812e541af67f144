package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinic/booking/internal/domain/booking"
	"github.com/clinic/booking/internal/domain/scheduling"
	"github.com/clinic/booking/internal/domain/slotlock"
	"github.com/clinic/booking/internal/platform/realtime"
)

var slotErrorMessages = map[error]string{
	slotlock.ErrSlotHeld:    "Khung giờ này đang được người khác giữ. Vui lòng chọn khung giờ khác.",
	slotlock.ErrSlotFull:    "Khung giờ này đã hết chỗ.",
	slotlock.ErrSlotPast:    "Khung giờ này đã qua.",
	slotlock.ErrUnknownSlot: "Không tìm thấy khung giờ đã chọn.",
}

func (a *app) coordinator(rt *realtime.Client) *slotlock.Coordinator {
	return slotlock.New(rt, a.holderID(rt),
		slotlock.WithLogger(a.logger),
		slotlock.WithMetrics(a.metrics),
		slotlock.WithHeartbeat(a.cfg.LockHeartbeat),
		slotlock.WithClock(time.Now, a.cfg.Location()),
		slotlock.WithNoticeHook(func(n slotlock.Notice) { a.printf("! %s\n", n.Message) }),
	)
}

// offeredSlot finds the slot starting at hhmm among the coordinator's slots.
func offeredSlot(coord *slotlock.Coordinator, date time.Time, hhmm string) (*scheduling.Slot, error) {
	start := scheduling.NormalizeTime(hhmm)
	slot, ok := scheduling.FindSlotByStart(coord.Slots(), start)
	if !ok {
		return nil, fmt.Errorf("bác sĩ không có khung giờ %s vào ngày %s", start, scheduling.FormatDate(date))
	}
	return &slot, nil
}

// lockedSlot joins the lock room for doctorID on date and selects the slot
// starting at hhmm. The returned coordinator must be exited.
func (a *app) lockedSlot(ctx context.Context, rt *realtime.Client, doctorID string, date time.Time, hhmm string) (*slotlock.Coordinator, error) {
	slots, err := a.slotsFor(ctx, doctorID, date)
	if err != nil {
		return nil, a.fail(err)
	}
	coord := a.coordinator(rt)
	if err := coord.Enter(doctorID, date, slots); err != nil {
		return nil, err
	}
	slot, err := offeredSlot(coord, date, hhmm)
	if err != nil {
		coord.Exit()
		return nil, err
	}
	if err := coord.Select(slot); err != nil {
		coord.Exit()
		if msg, ok := slotMessage(err); ok {
			return nil, &cliError{msg: msg, err: err}
		}
		return nil, a.fail(err)
	}
	return coord, nil
}

func slotMessage(err error) (string, bool) {
	for target, msg := range slotErrorMessages {
		if errors.Is(err, target) {
			return msg, true
		}
	}
	return "", false
}

func bookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Book an appointment",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.logMetrics()
			f := cmd.Flags()
			hospitalID, _ := f.GetString("hospital")
			specialtyID, _ := f.GetString("specialty")
			doctorID, _ := f.GetString("doctor")
			serviceID, _ := f.GetString("service")
			dateStr, _ := f.GetString("date")
			hhmm, _ := f.GetString("time")
			apptType, _ := f.GetString("type")
			symptoms, _ := f.GetString("symptoms")
			history, _ := f.GetString("history")
			notes, _ := f.GetString("notes")
			coupon, _ := f.GetString("coupon")

			date, err := scheduling.ParseDate(dateStr)
			if err != nil {
				return fmt.Errorf("--date: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			guard := a.guard()
			submitter := booking.NewSubmitter(a.api, guard,
				booking.WithLogger(a.logger),
				booking.WithMetrics(a.metrics),
				booking.WithRescheduleLimit(a.cfg.RescheduleLimit),
			)

			// The limit is checked before connecting or taking any lock.
			if res := guard.Check(ctx, date); res.Blocked {
				return &cliError{msg: res.Message()}
			}

			rt := a.realtime(ctx)
			defer rt.Close()
			coord := a.coordinator(rt)
			defer coord.Exit()

			w := booking.NewWizard(submitter, guard, coord, booking.WithSlotLoader(a.slotsFor))
			w.SetProvider(hospitalID, specialtyID, doctorID, serviceID)
			w.SetDetails(apptType, symptoms, history, notes, coupon)
			if err := w.SelectDate(ctx, date); err != nil {
				return a.fail(err)
			}
			slot, err := offeredSlot(coord, date, hhmm)
			if err != nil {
				return err
			}
			if err := w.SelectSlot(slot); err != nil {
				if msg, ok := slotMessage(err); ok {
					return &cliError{msg: msg, err: err}
				}
				return a.fail(err)
			}

			appt, err := w.Submit(ctx)
			if err != nil {
				return a.fail(err)
			}
			a.printf("Đặt lịch thành công.\n")
			printAppointment(a.out, appt, a.cfg.RescheduleLimit)
			return nil
		},
	}
	f := cmd.Flags()
	f.String("hospital", "", "Hospital id")
	f.String("specialty", "", "Specialty id")
	f.String("doctor", "", "Doctor id")
	f.String("service", "", "Service id")
	f.String("date", "", "Date (YYYY-MM-DD)")
	f.String("time", "", "Slot start time (HH:MM)")
	f.String("type", "first_visit", "Appointment type")
	f.String("symptoms", "", "Symptoms")
	f.String("history", "", "Medical history")
	f.String("notes", "", "Notes")
	f.String("coupon", "", "Coupon code")
	for _, name := range []string{"doctor", "date", "time"} {
		cmd.MarkFlagRequired(name)
	}
	return cmd
}

func rescheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reschedule",
		Short: "Move an appointment to another date or time",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.logMetrics()
			id, _ := cmd.Flags().GetString("appointment")
			dateStr, _ := cmd.Flags().GetString("date")
			hhmm, _ := cmd.Flags().GetString("time")

			date, err := scheduling.ParseDate(dateStr)
			if err != nil {
				return fmt.Errorf("--date: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			appt, err := a.api.GetAppointment(ctx, id)
			if err != nil {
				return a.fail(err)
			}
			submitter := a.submitter()
			// Refused appointments never reach the lock room.
			if err := submitter.CheckReschedulable(appt); err != nil {
				return a.fail(err)
			}

			rt := a.realtime(ctx)
			defer rt.Close()
			coord, err := a.lockedSlot(ctx, rt, appt.DoctorID, date, hhmm)
			if err != nil {
				return err
			}
			defer coord.Exit()

			updated, err := submitter.Reschedule(ctx, appt, &date, coord.Selected())
			if err != nil {
				return a.fail(err)
			}
			coord.Release()
			a.printf("Đổi lịch thành công.\n")
			printAppointment(a.out, updated, a.cfg.RescheduleLimit)
			return nil
		},
	}
	cmd.Flags().String("appointment", "", "Appointment id")
	cmd.Flags().String("date", "", "New date (YYYY-MM-DD)")
	cmd.Flags().String("time", "", "New slot start time (HH:MM)")
	for _, name := range []string{"appointment", "date", "time"} {
		cmd.MarkFlagRequired(name)
	}
	return cmd
}

func cancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel an appointment",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.logMetrics()
			id, _ := cmd.Flags().GetString("appointment")
			reason, _ := cmd.Flags().GetString("reason")

			appt, err := a.api.GetAppointment(cmd.Context(), id)
			if err != nil {
				return a.fail(err)
			}
			updated, err := a.submitter().Cancel(cmd.Context(), appt, reason)
			if err != nil {
				return a.fail(err)
			}
			a.printf("Đã hủy lịch hẹn.\n")
			printAppointment(a.out, updated, a.cfg.RescheduleLimit)
			return nil
		},
	}
	cmd.Flags().String("appointment", "", "Appointment id")
	cmd.Flags().String("reason", "", "Cancellation reason")
	cmd.MarkFlagRequired("appointment")
	return cmd
}
