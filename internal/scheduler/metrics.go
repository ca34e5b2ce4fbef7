package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/yourorg/draftwatch/internal/resolver"
)

// Metrics holds Prometheus metrics for the pipeline. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	ticks            prometheus.Counter
	tickDuration     prometheus.Histogram
	sourceErrors     *prometheus.CounterVec
	candidates       *prometheus.CounterVec
	dispatches       *prometheus.CounterVec
	resolverAttempts *prometheus.CounterVec
	upstreamCalls    *prometheus.CounterVec
	claimedMaps      prometheus.Gauge
}

// NewMetrics creates the pipeline metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "draftwatch_ticks_total",
				Help: "Total number of scheduler ticks run",
			},
		),
		tickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "draftwatch_tick_duration_seconds",
				Help:    "Tick duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		sourceErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "draftwatch_source_errors_total",
				Help: "Total number of failed match source fetches",
			},
			[]string{"provider"},
		),
		candidates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "draftwatch_candidates_total",
				Help: "Candidates processed, by outcome",
			},
			[]string{"outcome"},
		),
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "draftwatch_dispatches_total",
				Help: "Dispatch attempts, by result",
			},
			[]string{"result"},
		),
		resolverAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "draftwatch_resolver_attempts_total",
				Help: "Composition tier attempts, by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		upstreamCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "draftwatch_upstream_calls_total",
				Help: "Calls granted by the per-API rate limiters",
			},
			[]string{"api"},
		),
		claimedMaps: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "draftwatch_claimed_maps",
				Help: "Number of maps claimed since start",
			},
		),
	}

	reg.MustRegister(
		m.ticks,
		m.tickDuration,
		m.sourceErrors,
		m.candidates,
		m.dispatches,
		m.resolverAttempts,
		m.upstreamCalls,
		m.claimedMaps,
	)
	return m
}

// ObserveAttempt records one resolver tier attempt. It is meant to be passed
// to resolver.WithAttemptHook.
func (m *Metrics) ObserveAttempt(a resolver.Attempt) {
	if m == nil {
		return
	}
	m.resolverAttempts.WithLabelValues(a.Tier, string(a.Outcome)).Inc()
}

// UpstreamHook returns a callback for ratelimit.Limiter.WithAcquireHook that
// counts granted calls to api.
func (m *Metrics) UpstreamHook(api string) func(time.Time) {
	if m == nil {
		return nil
	}
	c := m.upstreamCalls.WithLabelValues(api)
	return func(time.Time) { c.Inc() }
}

func (m *Metrics) observeTick(d time.Duration, failedSources []string) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.tickDuration.Observe(d.Seconds())
	for _, p := range failedSources {
		m.sourceErrors.WithLabelValues(p).Inc()
	}
}

func (m *Metrics) observeCandidate(o Outcome) {
	if m == nil {
		return
	}
	m.candidates.WithLabelValues(string(o)).Inc()
	switch o {
	case OutcomeDispatched:
		m.dispatches.WithLabelValues("sent").Inc()
	case OutcomeRateLimited:
		m.dispatches.WithLabelValues("rate_limited").Inc()
	case OutcomeDispatchFailed:
		m.dispatches.WithLabelValues("failed").Inc()
	}
}

func (m *Metrics) setClaimed(n int) {
	if m == nil {
		return
	}
	m.claimedMaps.Set(float64(n))
}
