package daemon

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus gauges, counters, and histograms for vmdeskd.
type Metrics struct {
	registry               *prometheus.Registry
	sessionsOpen           prometheus.Gauge
	wizardMutationsTotal   *prometheus.CounterVec
	wizardDerivationsTotal *prometheus.CounterVec
	submissionResultsTotal *prometheus.CounterVec
	apiRequestsTotal       *prometheus.CounterVec
	backendDispatchSeconds prometheus.Histogram
}

// NewMetrics constructs a metrics registry and registers all collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	sessionsOpen := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vmdesk",
			Subsystem: "session",
			Name:      "open",
			Help:      "Number of wizard sessions currently open.",
		},
	)
	wizardMutationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vmdesk",
			Subsystem: "wizard",
			Name:      "mutations_total",
			Help:      "Total wizard document mutations by kind.",
		},
		[]string{"kind"},
	)
	wizardDerivationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vmdesk",
			Subsystem: "wizard",
			Name:      "derivations_total",
			Help:      "Total first-visit step derivations by step.",
		},
		[]string{"step"},
	)
	submissionResultsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vmdesk",
			Subsystem: "submission",
			Name:      "results_total",
			Help:      "Total finished submissions by result.",
		},
		[]string{"result"},
	)
	apiRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vmdesk",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total control API requests by route and status code.",
		},
		[]string{"route", "code"},
	)
	backendDispatchSeconds := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vmdesk",
			Subsystem: "backend",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent in backend create calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	registry.MustRegister(
		sessionsOpen,
		wizardMutationsTotal,
		wizardDerivationsTotal,
		submissionResultsTotal,
		apiRequestsTotal,
		backendDispatchSeconds,
	)

	return &Metrics{
		registry:               registry,
		sessionsOpen:           sessionsOpen,
		wizardMutationsTotal:   wizardMutationsTotal,
		wizardDerivationsTotal: wizardDerivationsTotal,
		submissionResultsTotal: submissionResultsTotal,
		apiRequestsTotal:       apiRequestsTotal,
		backendDispatchSeconds: backendDispatchSeconds,
	}
}

// Handler returns an HTTP handler that serves the metrics registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetOpenSessions(count int) {
	if m == nil {
		return
	}
	m.sessionsOpen.Set(float64(count))
}

func (m *Metrics) IncMutation(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.wizardMutationsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncDerivation(step string) {
	if m == nil {
		return
	}
	if step == "" {
		step = "unknown"
	}
	m.wizardDerivationsTotal.WithLabelValues(step).Inc()
}

func (m *Metrics) IncSubmission(result string) {
	if m == nil {
		return
	}
	if result == "" {
		result = "unknown"
	}
	m.submissionResultsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncAPIRequest(route, code string) {
	if m == nil {
		return
	}
	m.apiRequestsTotal.WithLabelValues(route, code).Inc()
}

func (m *Metrics) ObserveDispatch(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		return
	}
	m.backendDispatchSeconds.Observe(seconds)
}
