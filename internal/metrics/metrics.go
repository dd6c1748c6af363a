// Package metrics holds the Prometheus instrumentation for the guardrail
// core. One Registry is owned by the engine wiring, never global, so tests
// can run multiple instances without collector collisions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every guardrail metric with the prometheus registry they
// are registered on.
type Registry struct {
	reg *prometheus.Registry

	// Event intake
	EventsTotal     *prometheus.CounterVec
	EventsDeduped   prometheus.Counter
	EventsGated     prometheus.Counter
	EvalDuration    prometheus.Histogram
	PolicyErrors    *prometheus.CounterVec
	ViolationsTotal *prometheus.CounterVec

	// Enforcement
	EnforcementTotal  *prometheus.CounterVec
	LockoutFailures   prometheus.Counter
	ActiveLockouts    prometheus.Gauge
	ActiveTimers      prometheus.Gauge
	RealizedPnL       *prometheus.GaugeVec
	ResetsFired       prometheus.Counter
	StreamReconnects  prometheus.Counter
	StreamEventsTotal prometheus.Counter
}

// NewRegistry creates and registers all guardrail metrics.
func NewRegistry() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flatguard_events_total",
		Help: "Normalized events processed, by kind",
	}, []string{"kind"})

	r.EventsDeduped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flatguard_events_deduped_total",
		Help: "Events dropped as duplicate deliveries",
	})

	r.EventsGated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flatguard_events_gated_total",
		Help: "Events short-circuited by the lockout pre-check",
	})

	r.EvalDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flatguard_evaluation_duration_seconds",
		Help:    "Duration of one full evaluation cycle",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
	})

	r.PolicyErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flatguard_policy_errors_total",
		Help: "Policy evaluation failures, isolated per policy",
	}, []string{"policy"})

	r.ViolationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flatguard_violations_total",
		Help: "Violations produced, by policy and action",
	}, []string{"policy", "action"})

	r.EnforcementTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flatguard_enforcement_total",
		Help: "Enforcement dispatch outcomes, by action and result",
	}, []string{"action", "result"})

	r.LockoutFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flatguard_lockout_failures_total",
		Help: "Failures to create a lockout before enforcement; the last line of defense",
	})

	r.ActiveLockouts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flatguard_active_lockouts",
		Help: "Accounts currently locked out",
	})

	r.ActiveTimers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flatguard_active_timers",
		Help: "Registered countdown timers",
	})

	r.RealizedPnL = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flatguard_realized_pnl",
		Help: "Daily realized P&L by account",
	}, []string{"account"})

	r.ResetsFired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flatguard_resets_fired_total",
		Help: "Daily resets fired",
	})

	r.StreamReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flatguard_stream_reconnects_total",
		Help: "Event feed reconnects",
	})

	r.StreamEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flatguard_stream_events_total",
		Help: "Events received from the feed before dedup",
	})

	r.reg.MustRegister(
		r.EventsTotal, r.EventsDeduped, r.EventsGated, r.EvalDuration,
		r.PolicyErrors, r.ViolationsTotal, r.EnforcementTotal,
		r.LockoutFailures, r.ActiveLockouts, r.ActiveTimers, r.RealizedPnL,
		r.ResetsFired, r.StreamReconnects, r.StreamEventsTotal,
	)
	return r
}

// Prometheus exposes the underlying registry for the /metrics handler.
func (r *Registry) Prometheus() *prometheus.Registry { return r.reg }
