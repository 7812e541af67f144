package payment

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/booking/internal/domain/appointment"
	"github.com/clinic/booking/internal/platform/backend"
	"github.com/clinic/booking/internal/platform/metrics"
)

// State of a Poller.
type State string

const (
	StateIdle       State = "idle"
	StateRefreshing State = "refreshing"
	StateSettled    State = "settled"
	StateExhausted  State = "exhausted"
	StateAborted    State = "aborted"
)

// MsgUnreachable is shown once when the backend cannot be reached.
const MsgUnreachable = "Không thể kết nối đến máy chủ để cập nhật trạng thái thanh toán. Vui lòng thử lại sau."

// Fetcher loads the authoritative appointment.
type Fetcher interface {
	GetAppointment(ctx context.Context, id string) (*appointment.Appointment, error)
}

// Config holds the poller's timing. Attempts are numbered from 0; a forced
// cycle keeps fetching while the attempt is below MaxAttempts.
type Config struct {
	InitialDelay      time.Duration
	RetryDelay        time.Duration
	ErrorInitialDelay time.Duration
	FocusDelay        time.Duration
	FocusRearm        time.Duration
	MaxAttempts       int
}

func DefaultConfig() Config {
	return Config{
		InitialDelay:      2 * time.Second,
		RetryDelay:        2 * time.Second,
		ErrorInitialDelay: time.Second,
		FocusDelay:        500 * time.Millisecond,
		FocusRearm:        2 * time.Second,
		MaxAttempts:       5,
	}
}

// Outcome summarises the latest reconciliation cycle.
type Outcome struct {
	State       State
	Attempt     int
	Fetches     int
	Appointment *appointment.Appointment
	Err         error
}

// Paid reports whether the cycle ended with the appointment fully paid.
func (o Outcome) Paid() bool { return o.State == StateSettled }

type PollerOption func(*Poller)

func WithScheduler(s Scheduler) PollerOption { return func(p *Poller) { p.sched = s } }

func WithConfig(c Config) PollerOption { return func(p *Poller) { p.cfg = c } }

func WithLogger(l zerolog.Logger) PollerOption { return func(p *Poller) { p.logger = l } }

func WithMetrics(m *metrics.Collector) PollerOption { return func(p *Poller) { p.metrics = m } }

// WithContext sets the parent of the fetch context. Stop cancels it.
func WithContext(ctx context.Context) PollerOption { return func(p *Poller) { p.parent = ctx } }

// WithUpdateHook is called with every fetched snapshot.
func WithUpdateHook(f func(*appointment.Appointment)) PollerOption {
	return func(p *Poller) { p.onUpdate = f }
}

// WithNoticeHook is called with user-facing messages.
func WithNoticeHook(f func(string)) PollerOption { return func(p *Poller) { p.onNotice = f } }

// Poller reconciles one appointment's payment status after the patient comes
// back from a payment gateway. The backend learns about the payment through
// a webhook, so the first fetch may still show it unpaid.
//
// Every decision to retry or stop is made in settle; timers only carry the
// attempt number and a generation that Stop and new cycles invalidate.
type Poller struct {
	fetcher  Fetcher
	id       string
	cfg      Config
	sched    Scheduler
	logger   zerolog.Logger
	metrics  *metrics.Collector
	parent   context.Context
	onUpdate func(*appointment.Appointment)
	onNotice func(string)

	fetchMu sync.Mutex

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	state      State
	snapshot   *appointment.Appointment
	gen        uint64
	forced     bool
	attempt    int
	fetches    int
	errRetries int
	lastErr    error
	timer      Timer
	rearm      Timer
	focusArmed bool
	done       chan struct{}
	stopped    bool
}

// NewPoller creates an idle poller for appointmentID.
func NewPoller(fetcher Fetcher, appointmentID string, opts ...PollerOption) *Poller {
	p := &Poller{
		fetcher:    fetcher,
		id:         appointmentID,
		cfg:        DefaultConfig(),
		sched:      RealScheduler,
		logger:     zerolog.Nop(),
		parent:     context.Background(),
		state:      StateIdle,
		focusArmed: true,
	}
	for _, o := range opts {
		o(p)
	}
	if p.cfg.MaxAttempts < 1 {
		p.cfg.MaxAttempts = 1
	}
	p.ctx, p.cancel = context.WithCancel(p.parent)
	p.logger = p.logger.With().Str("appointment_id", appointmentID).Logger()
	return p
}

// Seed installs the snapshot the caller already has.
func (p *Poller) Seed(a *appointment.Appointment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshot = a
}

// SetPaymentMethodHint records the method the patient just chose on the
// local snapshot. The next fetch overwrites it.
func (p *Poller) SetPaymentMethodHint(method string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.snapshot == nil {
		return
	}
	cp := *p.snapshot
	cp.PaymentMethod = method
	p.snapshot = &cp
}

// Snapshot returns the latest appointment. Callers must not mutate it.
func (p *Poller) Snapshot() *appointment.Appointment {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot
}

func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Refreshing reports whether a fetch is pending or running.
func (p *Poller) Refreshing() bool { return p.State() == StateRefreshing }

// Outcome returns the latest cycle's outcome.
func (p *Poller) Outcome() Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outcomeLocked()
}

// ReturnedFromPayment starts a forced cycle: a fetch after InitialDelay,
// retried while the appointment is not fully paid. A cycle already running is
// replaced.
func (p *Poller) ReturnedFromPayment() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.resetLocked(true)
	// The gateway return doubles as this focus event.
	p.focusArmed = false
	p.scheduleLocked(p.cfg.InitialDelay, 0)
	p.logger.Debug().Dur("delay", p.cfg.InitialDelay).Msg("payment return, reconciliation scheduled")
}

// FocusRegained performs a single non-forced fetch after FocusDelay. It is
// ignored while a forced cycle runs and until the re-arm window has passed.
func (p *Poller) FocusRegained() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.forced || !p.focusArmed || p.state == StateRefreshing {
		return
	}
	p.focusArmed = false
	p.resetLocked(false)
	p.scheduleLocked(p.cfg.FocusDelay, 0)
	p.armFocusLocked()
}

// Stop cancels pending timers and the in-flight fetch. The poller cannot be
// restarted.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.gen++
	p.stopTimersLocked()
	if p.state == StateRefreshing {
		p.state = StateIdle
		p.forced = false
		p.closeDoneLocked()
	}
	p.mu.Unlock()
	p.cancel()
}

// Wait blocks until the current cycle ends or ctx is done.
func (p *Poller) Wait(ctx context.Context) Outcome {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	return p.Outcome()
}

// ---------------------------------------------------------------------------
// Cycle
// ---------------------------------------------------------------------------

func (p *Poller) resetLocked(forced bool) {
	p.gen++
	p.stopTimerLocked()
	p.closeDoneLocked()
	p.done = make(chan struct{})
	p.state = StateRefreshing
	p.forced = forced
	p.attempt = 0
	p.fetches = 0
	p.errRetries = 0
	p.lastErr = nil
}

func (p *Poller) scheduleLocked(d time.Duration, attempt int) {
	gen, forced := p.gen, p.forced
	p.timer = p.sched.AfterFunc(d, func() { p.fetch(gen, attempt, forced) })
}

func (p *Poller) fetch(gen uint64, attempt int, forced bool) {
	p.fetchMu.Lock()
	defer p.fetchMu.Unlock()

	p.mu.Lock()
	if gen != p.gen || p.stopped {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	ctx := p.ctx
	p.mu.Unlock()

	appt, err := p.fetcher.GetAppointment(ctx, p.id)
	p.settle(gen, attempt, forced, appt, err)
}

// settle decides whether the cycle retries or ends.
func (p *Poller) settle(gen uint64, attempt int, forced bool, appt *appointment.Appointment, err error) {
	var (
		notice  string
		updated *appointment.Appointment
	)

	p.mu.Lock()
	if gen != p.gen || p.stopped {
		p.mu.Unlock()
		return
	}
	p.fetches++
	p.attempt = attempt
	log := p.logger.With().Int("attempt", attempt).Bool("forced", forced).Logger()

	switch {
	case err != nil && backend.IsConnectivity(err):
		p.metrics.ObserveReconcileFetch("unreachable")
		log.Warn().Err(err).Msg("backend unreachable, reconciliation aborted")
		p.finishLocked(StateAborted, err)
		notice = MsgUnreachable

	case err != nil:
		p.metrics.ObserveReconcileFetch("error")
		p.lastErr = err
		if forced && attempt < p.cfg.MaxAttempts {
			delay := p.cfg.RetryDelay
			if p.errRetries == 0 {
				delay = p.cfg.ErrorInitialDelay
			}
			p.errRetries++
			log.Warn().Err(err).Dur("delay", delay).Msg("reconciliation fetch failed, retrying")
			p.scheduleLocked(delay, attempt+1)
		} else if forced {
			log.Warn().Err(err).Msg("reconciliation fetch failed, giving up")
			p.finishLocked(StateExhausted, err)
		} else {
			log.Warn().Err(err).Msg("refresh failed")
			p.finishLocked(StateIdle, err)
		}

	default:
		p.snapshot = appt
		updated = appt
		p.lastErr = nil
		paid := appointment.IsPaymentFullyPaid(appt)
		if paid {
			p.metrics.ObserveReconcileFetch("paid")
		} else {
			p.metrics.ObserveReconcileFetch("unpaid")
		}

		switch {
		case paid:
			log.Info().Msg("payment reconciled")
			p.finishLocked(StateSettled, nil)
		case !forced:
			p.finishLocked(StateIdle, nil)
		case attempt < p.cfg.MaxAttempts:
			log.Debug().Dur("delay", p.cfg.RetryDelay).Msg("payment not settled yet, retrying")
			p.scheduleLocked(p.cfg.RetryDelay, attempt+1)
		default:
			log.Info().Msg("payment still not settled, reconciliation exhausted")
			p.finishLocked(StateExhausted, nil)
		}
	}
	p.mu.Unlock()

	if updated != nil && p.onUpdate != nil {
		p.onUpdate(updated)
	}
	if notice != "" && p.onNotice != nil {
		p.onNotice(notice)
	}
}

func (p *Poller) finishLocked(state State, err error) {
	wasForced := p.forced
	p.state = state
	p.forced = false
	p.timer = nil
	p.lastErr = err
	if state != StateIdle || wasForced {
		p.metrics.ObserveReconcileOutcome(string(state))
	}
	if wasForced {
		p.armFocusLocked()
	}
	p.closeDoneLocked()
}

func (p *Poller) armFocusLocked() {
	if p.rearm != nil {
		p.rearm.Stop()
	}
	p.rearm = p.sched.AfterFunc(p.cfg.FocusRearm, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if !p.stopped {
			p.focusArmed = true
		}
	})
}

func (p *Poller) outcomeLocked() Outcome {
	return Outcome{
		State:       p.state,
		Attempt:     p.attempt,
		Fetches:     p.fetches,
		Appointment: p.snapshot,
		Err:         p.lastErr,
	}
}

func (p *Poller) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Poller) stopTimersLocked() {
	p.stopTimerLocked()
	if p.rearm != nil {
		p.rearm.Stop()
		p.rearm = nil
	}
}

func (p *Poller) closeDoneLocked() {
	if p.done == nil {
		return
	}
	select {
	case <-p.done:
	default:
		close(p.done)
	}
}
