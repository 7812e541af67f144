package scheduling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/booking/internal/platform/metrics"
)

// DefaultDailyLimit is used when the server omits the limit.
const DefaultDailyLimit = 3

// DailyCount is the server's answer to "how many appointments does the patient
// hold on this date". A non-positive Limit means the server omitted it.
type DailyCount struct {
	Count int `json:"count"`
	Limit int `json:"limit"`
}

// DailyCountSource fetches the patient's appointment count for a date.
type DailyCountSource interface {
	GetDailyAppointmentCount(ctx context.Context, date time.Time) (DailyCount, error)
}

// LimitStatus is the lifecycle tag of the cached daily-limit entry.
type LimitStatus string

const (
	LimitIdle    LimitStatus = "idle"
	LimitLoading LimitStatus = "loading"
	LimitLoaded  LimitStatus = "loaded"
	LimitError   LimitStatus = "error"
)

// DailyLimitState is the single cached entry of the guard.
type DailyLimitState struct {
	Date   time.Time
	Status LimitStatus
	Count  int
	Limit  int
}

// LimitResult is the outcome of DailyLimitGuard.Check.
type LimitResult struct {
	Blocked bool
	Count   int
	Limit   int
	Status  LimitStatus
}

// Message is the user-facing text for a blocked date.
func (r LimitResult) Message() string {
	return fmt.Sprintf("Bạn đã đặt %d/%d lịch hẹn trong ngày này. Vui lòng chọn ngày khác.", r.Count, r.Limit)
}

// DailyLimitGuard gates date selection on the per-patient daily appointment
// limit. It caches at most one date. It is a UX guard, not an authorization
// gate: when the count cannot be fetched it lets the selection through and
// leaves the final word to the server at submission time.
type DailyLimitGuard struct {
	source       DailyCountSource
	defaultLimit int
	logger       zerolog.Logger
	metrics      *metrics.Collector

	mu    sync.Mutex
	state DailyLimitState
}

// NewDailyLimitGuard creates a guard. A non-positive defaultLimit falls back
// to DefaultDailyLimit; collector may be nil.
func NewDailyLimitGuard(source DailyCountSource, defaultLimit int, logger zerolog.Logger, collector *metrics.Collector) *DailyLimitGuard {
	if defaultLimit <= 0 {
		defaultLimit = DefaultDailyLimit
	}
	return &DailyLimitGuard{
		source:       source,
		defaultLimit: defaultLimit,
		logger:       logger,
		metrics:      collector,
		state:        DailyLimitState{Status: LimitIdle},
	}
}

// Check returns whether date is blocked by the daily limit. A loaded entry for
// exactly this date is served without a network call; any other date replaces
// the cache.
func (g *DailyLimitGuard) Check(ctx context.Context, date time.Time) LimitResult {
	day := DayOf(date)

	g.mu.Lock()
	if g.state.Status == LimitLoaded && g.state.Date.Equal(day) {
		res := g.resultLocked()
		g.mu.Unlock()
		g.metrics.ObserveDailyLimit("cached")
		return res
	}
	g.state = DailyLimitState{Date: day, Status: LimitLoading}
	g.mu.Unlock()

	count, err := g.source.GetDailyAppointmentCount(ctx, day)

	g.mu.Lock()
	defer g.mu.Unlock()

	// A newer Check for another date owns the cache now.
	superseded := !g.state.Date.Equal(day)

	if err != nil {
		g.logger.Warn().Err(err).Str("date", FormatDate(day)).
			Msg("daily appointment count unavailable, allowing selection")
		g.metrics.ObserveDailyLimit("error")
		if !superseded {
			g.state.Status = LimitError
		}
		return LimitResult{Limit: g.defaultLimit, Status: LimitError}
	}

	limit := count.Limit
	if limit <= 0 {
		limit = g.defaultLimit
	}
	loaded := DailyLimitState{Date: day, Status: LimitLoaded, Count: count.Count, Limit: limit}
	if !superseded {
		g.state = loaded
	}

	res := LimitResult{
		Blocked: loaded.Count >= loaded.Limit,
		Count:   loaded.Count,
		Limit:   loaded.Limit,
		Status:  LimitLoaded,
	}
	if res.Blocked {
		g.metrics.ObserveDailyLimit("blocked")
	} else {
		g.metrics.ObserveDailyLimit("allowed")
	}
	return res
}

// State returns a copy of the cached entry.
func (g *DailyLimitGuard) State() DailyLimitState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Invalidate drops the cached entry.
func (g *DailyLimitGuard) Invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = DailyLimitState{Status: LimitIdle}
}

func (g *DailyLimitGuard) resultLocked() LimitResult {
	return LimitResult{
		Blocked: g.state.Count >= g.state.Limit,
		Count:   g.state.Count,
		Limit:   g.state.Limit,
		Status:  g.state.Status,
	}
}
