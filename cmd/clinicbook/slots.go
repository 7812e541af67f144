package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinic/booking/internal/domain/scheduling"
	"github.com/clinic/booking/internal/domain/slotlock"
	"github.com/clinic/booking/internal/platform/realtime"
)

func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List a doctor's time slots for a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.logMetrics()
			doctorID, _ := cmd.Flags().GetString("doctor")
			dateStr, _ := cmd.Flags().GetString("date")
			watch, _ := cmd.Flags().GetBool("watch")

			date, err := scheduling.ParseDate(dateStr)
			if err != nil {
				return fmt.Errorf("--date: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			slots, err := a.slotsFor(ctx, doctorID, date)
			if err != nil {
				return a.fail(err)
			}
			if len(slots) == 0 {
				a.printf("Bác sĩ không có lịch khám vào ngày %s.\n", scheduling.FormatDate(date))
				return nil
			}
			return a.runPicker(ctx, doctorID, date, slots, watch)
		},
	}
	cmd.Flags().String("doctor", "", "Doctor id")
	cmd.Flags().String("date", "", "Date (YYYY-MM-DD)")
	cmd.Flags().Bool("watch", false, "Join the lock room and print changes until interrupted")
	cmd.MarkFlagRequired("doctor")
	cmd.MarkFlagRequired("date")
	return cmd
}

func (a *app) runPicker(ctx context.Context, doctorID string, date time.Time, slots []scheduling.Slot, watch bool) error {
	loc := a.cfg.Location()
	if !watch {
		// Never connected: capacity and past slots only.
		coord := slotlock.New(realtime.New(a.cfg.RealtimeURL), "", slotlock.WithClock(time.Now, loc))
		if err := coord.Enter(doctorID, date, slots); err != nil {
			return err
		}
		printSlots(a.out, coord.View(time.Now()))
		return nil
	}

	rt := a.realtime(ctx)
	defer rt.Close()

	var coord *slotlock.Coordinator
	coord = slotlock.New(rt, a.holderID(rt),
		slotlock.WithLogger(a.logger),
		slotlock.WithMetrics(a.metrics),
		slotlock.WithClock(time.Now, loc),
		slotlock.WithChangeHook(func() {
			a.printf("\n[%s]\n", time.Now().In(loc).Format("15:04:05"))
			printSlots(a.out, coord.View(time.Now()))
		}),
		slotlock.WithNoticeHook(func(n slotlock.Notice) { a.printf("! %s\n", n.Message) }),
	)
	if err := coord.Enter(doctorID, date, slots); err != nil {
		return err
	}
	defer coord.Exit()

	<-ctx.Done()
	return nil
}

func calendarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Show which days of a month have bookable schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.logMetrics()
			doctorID, _ := cmd.Flags().GetString("doctor")
			monthStr, _ := cmd.Flags().GetString("month")

			month, err := time.Parse("2006-01", monthStr)
			if err != nil {
				return fmt.Errorf("--month must be YYYY-MM: %w", err)
			}
			schedules, err := a.schedules(cmd.Context(), doctorID)
			if err != nil {
				return a.fail(err)
			}
			today := scheduling.Today(time.Now(), a.cfg.Location())
			avail := scheduling.MonthAvailability(schedules, month.Year(), month.Month(), today)
			printCalendar(a.out, month, avail)
			return nil
		},
	}
	cmd.Flags().String("doctor", "", "Doctor id")
	cmd.Flags().String("month", time.Now().Format("2006-01"), "Month (YYYY-MM)")
	cmd.MarkFlagRequired("doctor")
	return cmd
}
