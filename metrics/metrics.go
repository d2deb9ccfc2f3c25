// Package metrics exposes Prometheus instrumentation for the browser
// core: event throughput, wait outcomes and latencies, and network
// activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/headlessweb/hweb/event"
)

// Metrics holds the browser metric instruments.
type Metrics struct {
	EventsEmitted *prometheus.CounterVec

	WaitsStarted  *prometheus.CounterVec
	WaitTimeouts  *prometheus.CounterVec
	WaitDuration  *prometheus.HistogramVec
	ActiveWaits   prometheus.Gauge

	NavigationDuration prometheus.Histogram
	ActiveRequests     prometheus.Gauge
	RequestsTotal      *prometheus.CounterVec
}

// New creates and registers the browser metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hweb",
			Name:      "events_emitted_total",
			Help:      "Browser lifecycle events emitted on the bus, by kind.",
		}, []string{"kind"}),
		WaitsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hweb",
			Name:      "waits_started_total",
			Help:      "Wait operations started, by wait type.",
		}, []string{"wait"}),
		WaitTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hweb",
			Name:      "wait_timeouts_total",
			Help:      "Wait operations that expired before their condition held.",
		}, []string{"wait"}),
		WaitDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hweb",
			Name:      "wait_duration_seconds",
			Help:      "Time from wait start to settlement.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"wait"}),
		ActiveWaits: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hweb",
			Name:      "active_waits",
			Help:      "Wait operations currently in flight.",
		}),
		NavigationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hweb",
			Name:      "navigation_duration_seconds",
			Help:      "Time from load start to load finish.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		ActiveRequests: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hweb",
			Name:      "active_requests",
			Help:      "Network requests currently in flight.",
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hweb",
			Name:      "requests_total",
			Help:      "Network requests observed, by outcome.",
		}, []string{"outcome"}),
	}
}

// EmitHook adapts the metrics to the event bus hook, counting every
// emitted event and mirroring network activity.
func (m *Metrics) EmitHook() func(event.Kind) {
	return func(kind event.Kind) {
		m.EventsEmitted.WithLabelValues(kind.String()).Inc()
		switch kind {
		case event.KindRequestStarted:
			m.ActiveRequests.Inc()
		case event.KindRequestCompleted:
			m.ActiveRequests.Dec()
			m.RequestsTotal.WithLabelValues("completed").Inc()
		case event.KindRequestFailed:
			m.ActiveRequests.Dec()
			m.RequestsTotal.WithLabelValues("failed").Inc()
		}
	}
}

// ObserveWait records one completed wait: its duration and, when the
// wait expired unsatisfied, a timeout.
func (m *Metrics) ObserveWait(wait string, started time.Time, satisfied bool) {
	m.WaitDuration.WithLabelValues(wait).Observe(time.Since(started).Seconds())
	if !satisfied {
		m.WaitTimeouts.WithLabelValues(wait).Inc()
	}
}

// TrackWait marks a wait as started and returns the completion callback
// for ObserveWait.
func (m *Metrics) TrackWait(wait string) func(satisfied bool) {
	m.WaitsStarted.WithLabelValues(wait).Inc()
	m.ActiveWaits.Inc()
	started := time.Now()
	return func(satisfied bool) {
		m.ActiveWaits.Dec()
		m.ObserveWait(wait, started, satisfied)
	}
}
