package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinic/booking/internal/config"
	"github.com/clinic/booking/internal/domain/booking"
	"github.com/clinic/booking/internal/domain/scheduling"
	"github.com/clinic/booking/internal/platform/auth"
	"github.com/clinic/booking/internal/platform/backend"
	"github.com/clinic/booking/internal/platform/metrics"
	"github.com/clinic/booking/internal/platform/realtime"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "clinicbook",
		Short:         "Book, lock and pay for clinic appointments",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(slotsCmd())
	rootCmd.AddCommand(calendarCmd())
	rootCmd.AddCommand(bookCmd())
	rootCmd.AddCommand(rescheduleCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(payCmd())
	rootCmd.AddCommand(reconcileCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// app carries what every command needs.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Collector
	session *auth.Session
	api     *backend.Client
	out     io.Writer
}

func newApp(cmd *cobra.Command) (*app, error) {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := newLogger(cfg, os.Stderr)

	// Session
	var session *auth.Session
	if cfg.AccessToken != "" {
		session, err = auth.ParseSession(cfg.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("ACCESS_TOKEN: %w", err)
		}
		if session.Expired(time.Now()) {
			return nil, errors.New(booking.MsgSessionExpired)
		}
	}

	collector := metrics.NewCollector("clinicbook")
	api, err := backend.New(cfg.APIBaseURL,
		backend.WithTimeout(cfg.HTTPTimeout),
		backend.WithLogger(logger),
		backend.WithSession(session),
	)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: collector,
		session: session,
		api:     api,
		out:     cmd.OutOrStdout(),
	}, nil
}

func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	if cfg.IsDev() {
		w = zerolog.ConsoleWriter{Out: w}
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// logMetrics writes the command's counters to the debug log.
func (a *app) logMetrics() {
	totals := a.metrics.Totals()
	if len(totals) == 0 {
		return
	}
	d := zerolog.Dict()
	for k, v := range totals {
		d.Float64(k, v)
	}
	a.logger.Debug().Dict("metrics", d).Msg("command metrics")
}

// holderID is the id the server reports as lock holder for this client.
func (a *app) holderID(rt *realtime.Client) string {
	if a.session != nil && a.session.PatientID != "" {
		return a.session.PatientID
	}
	return rt.ID()
}

// realtime connects the event channel in the background. It waits briefly
// for the first connection; slot selection works without one.
func (a *app) realtime(ctx context.Context) *realtime.Client {
	rt := realtime.New(a.cfg.RealtimeURL,
		realtime.WithLogger(a.logger),
		realtime.WithReconnect(a.cfg.RealtimeReconnect),
		realtime.WithToken(a.cfg.AccessToken),
	)
	go func() {
		if err := rt.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.Warn().Err(err).Msg("event channel stopped")
		}
	}()

	deadline := time.Now().Add(3 * time.Second)
	for !rt.Connected() && time.Now().Before(deadline) && ctx.Err() == nil {
		time.Sleep(50 * time.Millisecond)
	}
	if !rt.Connected() {
		a.logger.Warn().Str("url", a.cfg.RealtimeURL).Msg("event channel unavailable, slot locks disabled")
	}
	return rt
}

// slotsFor fetches and normalizes the doctor's schedules and returns the
// picker slots for date.
func (a *app) slotsFor(ctx context.Context, doctorID string, date time.Time) ([]scheduling.Slot, error) {
	schedules, err := a.schedules(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	return scheduling.SlotsForDate(schedules, date), nil
}

func (a *app) schedules(ctx context.Context, doctorID string) ([]scheduling.Schedule, error) {
	raw, err := a.api.GetDoctorSchedules(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	schedules, dropped := scheduling.Normalize(raw, a.cfg.DefaultMaxBookings)
	if dropped > 0 {
		a.logger.Warn().Int("dropped", dropped).Str("doctor_id", doctorID).Msg("schedules with unparsable dates skipped")
	}
	return schedules, nil
}

func (a *app) guard() *scheduling.DailyLimitGuard {
	return scheduling.NewDailyLimitGuard(a.api, a.cfg.DefaultDailyLimit, a.logger, a.metrics)
}

func (a *app) submitter() *booking.Submitter {
	return booking.NewSubmitter(a.api, a.guard(),
		booking.WithLogger(a.logger),
		booking.WithMetrics(a.metrics),
		booking.WithRescheduleLimit(a.cfg.RescheduleLimit),
	)
}

// cliError is printed as-is; the cause goes to the log.
type cliError struct {
	msg string
	err error
}

func (e *cliError) Error() string { return e.msg }

func (e *cliError) Unwrap() error { return e.err }

func (a *app) fail(err error) error {
	a.logger.Debug().Err(err).Msg("command failed")
	return &cliError{msg: booking.UserMessage(err), err: err}
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}
