// Package metrics holds the prometheus collectors for the booking engine.
// Collectors are registered on a private registry so several instances can
// coexist (one per CLI run, one per test).
package metrics

import (
	"net/http"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	BookingSubmissions *prometheus.CounterVec
	DailyLimitChecks   *prometheus.CounterVec
	LockEvents         *prometheus.CounterVec
	ReconcileFetches   *prometheus.CounterVec
	ReconcileOutcomes  *prometheus.CounterVec
	PaymentReturns     *prometheus.CounterVec
}

func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		BookingSubmissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "submissions_total",
			Help:      "Booking operations by operation (create, reschedule, cancel) and outcome.",
		}, []string{"operation", "outcome"}),

		DailyLimitChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "daily_limit_checks_total",
			Help:      "Daily-limit checks by result (cached, allowed, blocked, error).",
		}, []string{"result"}),

		LockEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "slot_lock",
			Name:      "events_total",
			Help:      "Advisory slot-lock events sent and received, by event name.",
		}, []string{"event"}),

		ReconcileFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "reconcile_fetches_total",
			Help:      "Appointment re-fetches made by the reconciliation poller, by result.",
		}, []string{"result"}),

		ReconcileOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "reconcile_outcomes_total",
			Help:      "Terminal states reached by the reconciliation poller.",
		}, []string{"state"}),

		PaymentReturns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "redirect_returns_total",
			Help:      "Payment gateway redirects received by the callback listener.",
		}, []string{"result"}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the collector's registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Totals returns every counter sample keyed as name{label=value,...}.
// Commands without a /metrics listener log it when they finish.
func (c *Collector) Totals() map[string]float64 {
	if c == nil {
		return nil
	}
	families, err := c.registry.Gather()
	if err != nil {
		return nil
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			sort.Strings(labels)
			key := mf.GetName()
			if len(labels) > 0 {
				key += "{" + strings.Join(labels, ",") + "}"
			}
			out[key] = m.GetCounter().GetValue()
		}
	}
	return out
}

// The Observe helpers are nil-safe so components can run without metrics.

func (c *Collector) ObserveBooking(operation, outcome string) {
	if c == nil {
		return
	}
	c.BookingSubmissions.WithLabelValues(operation, outcome).Inc()
}

func (c *Collector) ObserveDailyLimit(result string) {
	if c == nil {
		return
	}
	c.DailyLimitChecks.WithLabelValues(result).Inc()
}

func (c *Collector) ObserveLockEvent(event string) {
	if c == nil {
		return
	}
	c.LockEvents.WithLabelValues(event).Inc()
}

func (c *Collector) ObserveReconcileFetch(result string) {
	if c == nil {
		return
	}
	c.ReconcileFetches.WithLabelValues(result).Inc()
}

func (c *Collector) ObserveReconcileOutcome(state string) {
	if c == nil {
		return
	}
	c.ReconcileOutcomes.WithLabelValues(state).Inc()
}

func (c *Collector) ObservePaymentReturn(result string) {
	if c == nil {
		return
	}
	c.PaymentReturns.WithLabelValues(result).Inc()
}
