// Package metrics exposes transport engine counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	transitionsTotal  *prometheus.CounterVec
	eventsFetched     prometheus.Counter
	fetchDuration     prometheus.Histogram
	mappedStreams     prometheus.Gauge
	skippedStreams    prometheus.Counter
	loopWraps         prometheus.Counter
	recordFailures    prometheus.Counter
	transportRequests prometheus.Counter
	requestsTotal     prometheus.Counter
	errorsTotal       prometheus.Counter
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sequencer_transitions_total",
			Help: "Transport state transitions by target state",
		}, []string{"status"}),
		eventsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sequencer_events_fetched_total",
			Help: "Events fetched from segment streams and handed to the driver",
		}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sequencer_fetch_seconds",
			Help:    "Time spent merging one read-ahead slice",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
		}),
		mappedStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sequencer_mapped_streams",
			Help: "Segment and system streams currently mapped",
		}),
		skippedStreams: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sequencer_skipped_streams_total",
			Help: "Streams that could not be mapped and were skipped",
		}),
		loopWraps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sequencer_loop_wraps_total",
			Help: "Times playback jumped from loop end back to loop start",
		}),
		recordFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sequencer_record_failures_total",
			Help: "Record requests refused by the driver or authoring side",
		}),
		transportRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sequencer_transport_requests_total",
			Help: "Transport requests queued from other goroutines",
		}),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sequencer_http_requests_total",
			Help: "Total number of control HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sequencer_http_errors_total",
			Help: "Control HTTP responses with status 4xx or 5xx",
		}),
	}

	registry.MustRegister(
		m.transitionsTotal,
		m.eventsFetched,
		m.fetchDuration,
		m.mappedStreams,
		m.skippedStreams,
		m.loopWraps,
		m.recordFailures,
		m.transportRequests,
		m.requestsTotal,
		m.errorsTotal,
	)
	return m
}

// Registry is exposed for tests and for callers that add their own collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(status).Inc()
}

// ObserveFetch records one merged slice.
func (m *Metrics) ObserveFetch(events int, took time.Duration) {
	if m == nil {
		return
	}
	m.eventsFetched.Add(float64(events))
	m.fetchDuration.Observe(took.Seconds())
}

func (m *Metrics) SetMappedStreams(n int) {
	if m == nil {
		return
	}
	m.mappedStreams.Set(float64(n))
}

func (m *Metrics) IncSkippedStreams() {
	if m == nil {
		return
	}
	m.skippedStreams.Inc()
}

func (m *Metrics) IncLoopWraps() {
	if m == nil {
		return
	}
	m.loopWraps.Inc()
}

func (m *Metrics) IncRecordFailures() {
	if m == nil {
		return
	}
	m.recordFailures.Inc()
}

func (m *Metrics) IncTransportRequests() {
	if m == nil {
		return
	}
	m.transportRequests.Inc()
}

func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// Handler serves the registry. updateGauges runs before each scrape.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
