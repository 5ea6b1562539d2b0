// Package metrics exports reconciliation counters to Prometheus.
//
// A nil *Metrics is valid and records nothing, so components can be built without
// a registry in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "doc_reconciler"

// Outcome labels for ingest objects.
const (
	OutcomeProcessed = "processed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeUntouched = "untouched"
)

// Metrics holds the collectors for one process.
type Metrics struct {
	registry     *prometheus.Registry
	objects      *prometheus.CounterVec
	published    *prometheus.CounterVec
	markers      *prometheus.CounterVec
	cycles       *prometheus.CounterVec
	cycleSeconds prometheus.Histogram
	lastCycle    prometheus.Gauge
	busReconnect prometheus.Counter
}

// New registers all collectors on a fresh registry, together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		objects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_objects_total",
			Help:      "Source objects seen by the ingest reconciler, by outcome.",
		}, []string{"outcome"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events confirmed by the message bus, by event type.",
		}, []string{"event"}),
		markers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "markers_total",
			Help:      "Processed markers written or removed.",
		}, []string{"op"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Reconciliation cycles, by result.",
		}, []string{"result"}),
		cycleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one ingest and sweep cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time the last cycle finished.",
		}),
		busReconnect: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_reconnects_total",
			Help:      "Bus connections re-established after going stale.",
		}),
	}
	reg.MustRegister(
		m.objects, m.published, m.markers, m.cycles,
		m.cycleSeconds, m.lastCycle, m.busReconnect,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Object counts one ingest object outcome.
func (m *Metrics) Object(outcome string) {
	if m == nil {
		return
	}
	m.objects.WithLabelValues(outcome).Inc()
}

// Published counts one confirmed event.
func (m *Metrics) Published(event string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(event).Inc()
}

// MarkerWritten counts one marker write.
func (m *Metrics) MarkerWritten() {
	if m == nil {
		return
	}
	m.markers.WithLabelValues("written").Inc()
}

// MarkersRemoved counts removed markers.
func (m *Metrics) MarkersRemoved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.markers.WithLabelValues("removed").Add(float64(n))
}

// BusReconnected counts one bus reconnect.
func (m *Metrics) BusReconnected() {
	if m == nil {
		return
	}
	m.busReconnect.Inc()
}

// Cycle records a finished cycle.
func (m *Metrics) Cycle(started, finished time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleSeconds.Observe(finished.Sub(started).Seconds())
	m.lastCycle.Set(float64(finished.Unix()))
}
