package booking

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/booking/internal/domain/appointment"
	"github.com/clinic/booking/internal/domain/scheduling"
	"github.com/clinic/booking/internal/platform/backend"
	"github.com/clinic/booking/internal/platform/metrics"
)

// API is the part of the backend the submitter calls.
type API interface {
	CreateAppointment(ctx context.Context, req backend.CreateAppointmentRequest) (*backend.CreateAppointmentResult, error)
	RescheduleAppointment(ctx context.Context, id string, req backend.RescheduleRequest) (*appointment.Appointment, error)
	CancelAppointment(ctx context.Context, id, reason string) (*appointment.Appointment, error)
}

// LimitChecker is satisfied by *scheduling.DailyLimitGuard.
type LimitChecker interface {
	Check(ctx context.Context, date time.Time) scheduling.LimitResult
}

// Option configures a Submitter.
type Option func(*Submitter)

func WithLogger(l zerolog.Logger) Option { return func(s *Submitter) { s.logger = l } }

func WithMetrics(m *metrics.Collector) Option { return func(s *Submitter) { s.metrics = m } }

// WithRescheduleLimit overrides the per-appointment reschedule ceiling.
func WithRescheduleLimit(n int) Option {
	return func(s *Submitter) {
		if n > 0 {
			s.rescheduleLimit = n
		}
	}
}

// Submitter sends create, reschedule and cancel requests. Only one request is
// outstanding at a time; a second call while one is in flight is refused
// rather than queued. Nothing is retried automatically.
type Submitter struct {
	api             API
	guard           LimitChecker
	logger          zerolog.Logger
	metrics         *metrics.Collector
	rescheduleLimit int

	inFlight atomic.Bool
}

func NewSubmitter(api API, guard LimitChecker, opts ...Option) *Submitter {
	s := &Submitter{
		api:             api,
		guard:           guard,
		logger:          zerolog.Nop(),
		rescheduleLimit: appointment.DefaultRescheduleLimit,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Submitter) acquire(op string) error {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.metrics.ObserveBooking(op, string(KindInFlight))
		return &Error{Kind: KindInFlight, Message: MsgInFlight}
	}
	return nil
}

func (s *Submitter) release() { s.inFlight.Store(false) }

// Submit creates an appointment from sel.
func (s *Submitter) Submit(ctx context.Context, sel Selection) (*appointment.Appointment, error) {
	const op = "create"
	if err := s.acquire(op); err != nil {
		return nil, err
	}
	defer s.release()

	if field := sel.firstMissing(); field != "" {
		return nil, s.fail(op, missing(field))
	}
	if err := s.checkLimit(ctx, *sel.Date); err != nil {
		return nil, s.fail(op, err)
	}

	req := backend.CreateAppointmentRequest{
		DoctorID:        sel.DoctorID,
		HospitalID:      sel.HospitalID,
		SpecialtyID:     sel.SpecialtyID,
		ServiceID:       sel.ServiceID,
		ScheduleID:      sel.Slot.ScheduleID,
		AppointmentDate: scheduling.FormatDate(*sel.Date),
		TimeSlot:        appointment.TimeRange{Start: sel.Slot.Start, End: sel.Slot.End},
		AppointmentType: sel.AppointmentType,
		Symptoms:        strings.TrimSpace(sel.Symptoms),
		MedicalHistory:  strings.TrimSpace(sel.MedicalHistory),
		Notes:           strings.TrimSpace(sel.Notes),
		CouponCode:      strings.ToUpper(strings.TrimSpace(sel.CouponCode)),
		PaymentMethod:   backend.PaymentMethodCash,
	}

	res, err := s.api.CreateAppointment(ctx, req)
	if err != nil {
		return nil, s.fail(op, classify(err))
	}
	if !res.Success {
		msg := res.Message
		if msg == "" {
			msg = MsgFailed
		}
		return nil, s.fail(op, &Error{Kind: KindRejected, Message: msg})
	}
	if res.Appointment == nil {
		return nil, s.fail(op, &Error{Kind: KindTransport, Message: MsgFailed, Err: backend.ErrEmptyResponse})
	}

	s.metrics.ObserveBooking(op, "success")
	s.logger.Info().
		Str("appointment_id", res.Appointment.ID).
		Str("doctor_id", sel.DoctorID).
		Str("date", req.AppointmentDate).
		Str("slot", sel.Slot.Label()).
		Msg("appointment created")
	return res.Appointment, nil
}

// Reschedule moves appt to slot on date.
func (s *Submitter) Reschedule(ctx context.Context, appt *appointment.Appointment, date *time.Time, slot *scheduling.Slot) (*appointment.Appointment, error) {
	const op = "reschedule"
	if err := s.acquire(op); err != nil {
		return nil, err
	}
	defer s.release()

	if err := s.reschedulable(appt); err != nil {
		return nil, s.fail(op, err)
	}
	if date == nil {
		return nil, s.fail(op, missing("date"))
	}
	if slot == nil {
		return nil, s.fail(op, missing("slot"))
	}
	if !scheduling.SameDay(*date, appt.AppointmentDate) {
		if err := s.checkLimit(ctx, *date); err != nil {
			return nil, s.fail(op, err)
		}
	}

	req := backend.RescheduleRequest{
		ScheduleID:      slot.ScheduleID,
		TimeSlot:        appointment.TimeRange{Start: slot.Start, End: slot.End},
		AppointmentDate: scheduling.FormatDate(*date),
	}
	updated, err := s.api.RescheduleAppointment(ctx, appt.ID, req)
	if err != nil {
		return nil, s.fail(op, classify(err))
	}

	s.metrics.ObserveBooking(op, "success")
	s.logger.Info().Str("appointment_id", appt.ID).Str("date", req.AppointmentDate).
		Str("slot", slot.Label()).Msg("appointment rescheduled")
	return updated, nil
}

// CheckReschedulable reports, without any network call, whether appt may be
// moved. Callers run it before locking a new slot.
func (s *Submitter) CheckReschedulable(appt *appointment.Appointment) error {
	if err := s.reschedulable(appt); err != nil {
		return s.fail("reschedule", err)
	}
	return nil
}

func (s *Submitter) reschedulable(appt *appointment.Appointment) *Error {
	if !appointment.CanModify(appt) {
		return &Error{Kind: KindValidation, Field: "status", Message: MsgNotModifiable}
	}
	if !appointment.CanReschedule(appt, s.rescheduleLimit) {
		return &Error{
			Kind:    KindValidation,
			Field:   "rescheduleCount",
			Message: fmt.Sprintf("Bạn đã đổi lịch tối đa %d lần cho lịch hẹn này.", s.rescheduleLimit),
		}
	}
	return nil
}

// Cancel cancels appt with the patient's reason.
func (s *Submitter) Cancel(ctx context.Context, appt *appointment.Appointment, reason string) (*appointment.Appointment, error) {
	const op = "cancel"
	if err := s.acquire(op); err != nil {
		return nil, err
	}
	defer s.release()

	if !appointment.CanModify(appt) {
		return nil, s.fail(op, &Error{Kind: KindValidation, Field: "status", Message: MsgNotModifiable})
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, s.fail(op, &Error{Kind: KindValidation, Field: "reason", Message: MsgCancelReason})
	}

	updated, err := s.api.CancelAppointment(ctx, appt.ID, reason)
	if err != nil {
		return nil, s.fail(op, classify(err))
	}
	s.metrics.ObserveBooking(op, "success")
	s.logger.Info().Str("appointment_id", appt.ID).Msg("appointment cancelled")
	return updated, nil
}

func (s *Submitter) checkLimit(ctx context.Context, date time.Time) *Error {
	if s.guard == nil {
		return nil
	}
	res := s.guard.Check(ctx, date)
	if res.Blocked {
		return &Error{Kind: KindLimitReached, Field: "date", Message: res.Message()}
	}
	return nil
}

func (s *Submitter) fail(op string, e *Error) *Error {
	s.metrics.ObserveBooking(op, string(e.Kind))
	ev := s.logger.Warn()
	if e.Kind == KindValidation || e.Kind == KindLimitReached {
		ev = s.logger.Debug()
	}
	ev.Err(e.Err).Str("operation", op).Str("kind", string(e.Kind)).Str("field", e.Field).Msg("booking request refused")
	return e
}
