// Package metrics holds the Prometheus collectors for the scan service.
// Collectors live on a private registry so tests can build as many as they
// need without clashing on the default one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scanner"

// Metrics is the set of collectors recorded by the orchestrator and server.
type Metrics struct {
	registry *prometheus.Registry

	submissions      *prometheus.CounterVec
	quotaDenials     prometheus.Counter
	engineErrors     *prometheus.CounterVec
	phaseTransitions *prometheus.CounterVec
	discardedEvents  *prometheus.CounterVec
	malformedResults prometheus.Counter
	activeWatchers   prometheus.Gauge
	activeStreams    prometheus.Gauge
	requestDuration  *prometheus.HistogramVec
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Scan submissions by outcome and identity kind.",
		}, []string{"outcome", "identity"}),
		quotaDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_denials_total",
			Help:      "Anonymous submissions rejected by the quota guard.",
		}),
		engineErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_errors_total",
			Help:      "Failed calls to the scanning engine by operation.",
		}, []string{"operation"}),
		phaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Session phase changes by new phase and event source.",
		}, []string{"phase", "source"}),
		discardedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discarded_events_total",
			Help:      "Phase events that did not change the session.",
		}, []string{"source"}),
		malformedResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_results_total",
			Help:      "Terminal results that could not be normalized.",
		}),
		activeWatchers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_watchers",
			Help:      "Sessions currently tracked by a watcher.",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Open caller websocket streams.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Caller-facing request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.submissions,
		m.quotaDenials,
		m.engineErrors,
		m.phaseTransitions,
		m.discardedEvents,
		m.malformedResults,
		m.activeWatchers,
		m.activeStreams,
		m.requestDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Submission(outcome, identity string) {
	m.submissions.WithLabelValues(outcome, identity).Inc()
}

func (m *Metrics) QuotaDenied() { m.quotaDenials.Inc() }

func (m *Metrics) EngineError(op string) { m.engineErrors.WithLabelValues(op).Inc() }

func (m *Metrics) PhaseTransition(phase, source string) {
	m.phaseTransitions.WithLabelValues(phase, source).Inc()
}

func (m *Metrics) EventDiscarded(source string) { m.discardedEvents.WithLabelValues(source).Inc() }

func (m *Metrics) MalformedResult() { m.malformedResults.Inc() }

func (m *Metrics) WatcherStarted() { m.activeWatchers.Inc() }

func (m *Metrics) WatcherStopped() { m.activeWatchers.Dec() }

func (m *Metrics) StreamOpened() { m.activeStreams.Inc() }

func (m *Metrics) StreamClosed() { m.activeStreams.Dec() }

// ObserveRequest records one caller-facing request.
func (m *Metrics) ObserveRequest(route, method, status string, seconds float64) {
	m.requestDuration.WithLabelValues(route, method, status).Observe(seconds)
}
