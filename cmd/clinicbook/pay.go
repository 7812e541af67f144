package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clinic/booking/internal/domain/appointment"
	"github.com/clinic/booking/internal/domain/payment"
	"github.com/clinic/booking/internal/platform/callback"
)

var checkoutMessages = map[error]string{
	payment.ErrNoBill:            "Lịch hẹn chưa có hóa đơn.",
	payment.ErrNothingToPay:      "Khoản này không có số tiền cần thanh toán.",
	payment.ErrAlreadySettled:    "Khoản này đã được thanh toán.",
	payment.ErrUnknownBillType:   "Loại hóa đơn không hợp lệ.",
	payment.ErrUnsupportedMethod: "Phương thức thanh toán không được hỗ trợ.",
}

func showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show an appointment with its bill and prescriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.logMetrics()
			id, _ := cmd.Flags().GetString("appointment")
			appt, err := a.api.GetAppointment(cmd.Context(), id)
			if err != nil {
				return a.fail(err)
			}
			printAppointment(a.out, appt, a.cfg.RescheduleLimit)
			return nil
		},
	}
	cmd.Flags().String("appointment", "", "Appointment id")
	cmd.MarkFlagRequired("appointment")
	return cmd
}

func (a *app) poller(ctx context.Context, id string) *payment.Poller {
	return payment.NewPoller(a.api, id,
		payment.WithConfig(a.cfg.PollerConfig()),
		payment.WithLogger(a.logger),
		payment.WithMetrics(a.metrics),
		payment.WithContext(ctx),
		payment.WithNoticeHook(func(msg string) { a.printf("! %s\n", msg) }),
	)
}

func (a *app) printOutcome(o payment.Outcome) {
	switch o.State {
	case payment.StateSettled:
		a.printf("Thanh toán đã được xác nhận.\n")
	case payment.StateExhausted:
		a.printf("Chưa nhận được xác nhận thanh toán. Trạng thái sẽ được cập nhật khi hệ thống nhận được kết quả.\n")
	case payment.StateAborted:
		// The notice hook already told the patient.
	default:
		a.printf("Đã cập nhật trạng thái lịch hẹn.\n")
	}
	printAppointment(a.out, o.Appointment, a.cfg.RescheduleLimit)
}

func payCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Pay a bill component and wait for the payment to be reconciled",
		Long: "Opens a MoMo or PayPal payment, listens for the gateway redirect and\n" +
			"reconciles the appointment. Press Enter to refresh while waiting.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.logMetrics()
			id, _ := cmd.Flags().GetString("appointment")
			methodStr, _ := cmd.Flags().GetString("method")
			billStr, _ := cmd.Flags().GetString("bill")

			method, ok := payment.ParseMethod(methodStr)
			if !ok {
				return fmt.Errorf("--method must be momo or paypal, got %q", methodStr)
			}
			bt, ok := appointment.ParseBillType(billStr)
			if !ok {
				return fmt.Errorf("--bill must be consultation, medication or hospitalization, got %q", billStr)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			appt, err := a.api.GetAppointment(ctx, id)
			if err != nil {
				return a.fail(err)
			}
			p := a.poller(ctx, appt.ID)
			defer p.Stop()
			p.Seed(appt)

			returned := make(chan callback.Return, 1)
			srv := callback.New(a.cfg.CallbackAddr,
				callback.WithLogger(a.logger),
				callback.WithMetrics(a.metrics),
				callback.WithReturnHook(func(r callback.Return) {
					if r.AppointmentID != appt.ID {
						return
					}
					select {
					case returned <- r:
					default:
					}
				}),
			)
			go func() {
				if err := srv.Start(ctx); err != nil {
					a.logger.Error().Err(err).Msg("payment callback listener failed")
				}
			}()

			link, err := payment.NewCheckout(a.api, a.cfg.PaymentRedirectURL,
				payment.WithCheckoutLogger(a.logger),
				payment.WithHintRecorder(p),
			).Start(ctx, appt, method, bt)
			if err != nil {
				for target, msg := range checkoutMessages {
					if errors.Is(err, target) {
						return &cliError{msg: msg, err: err}
					}
				}
				return a.fail(err)
			}
			a.printf("Mở liên kết sau để thanh toán:\n%s\n", link.URL())

			// Enter stands in for the app regaining focus.
			go func() {
				sc := bufio.NewScanner(os.Stdin)
				for sc.Scan() {
					p.FocusRegained()
				}
			}()

			for {
				select {
				case <-ctx.Done():
					return nil
				case r := <-returned:
					if !r.Success {
						a.printf("Cổng thanh toán báo giao dịch chưa thành công (mã %s). Đang kiểm tra lại...\n", r.ResultCode)
					} else {
						a.printf("Đang xác nhận thanh toán...\n")
					}
					p.ReturnedFromPayment()
					o := p.Wait(ctx)
					a.printOutcome(o)
					if o.State != payment.StateExhausted {
						return nil
					}
				}
			}
		},
	}
	cmd.Flags().String("appointment", "", "Appointment id")
	cmd.Flags().String("method", "momo", "Payment method (momo, paypal)")
	cmd.Flags().String("bill", "consultation", "Bill component (consultation, medication, hospitalization)")
	cmd.MarkFlagRequired("appointment")
	return cmd
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Re-fetch an appointment until its payment is confirmed",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.logMetrics()
			id, _ := cmd.Flags().GetString("appointment")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p := a.poller(ctx, id)
			defer p.Stop()
			p.ReturnedFromPayment()
			a.printOutcome(p.Wait(ctx))
			return nil
		},
	}
	cmd.Flags().String("appointment", "", "Appointment id")
	cmd.MarkFlagRequired("appointment")
	return cmd
}
