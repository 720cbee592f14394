// Package metrics exposes poll cycle counters on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hamed0406/sensorwatch/internal/status"
)

// Cycle results.
const (
	ResultOK          = "ok"
	ResultOracleError = "oracle_error"
	ResultStoreError  = "store_error"
	ResultRosterError = "roster_error"
	ResultLocked      = "locked"
	ResultConfigError = "config_error"
)

// Metrics methods are no-ops on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	lastSuccess   prometheus.Gauge
	sensors       *prometheus.GaugeVec
	transitions   *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorwatch_poll_cycles_total",
			Help: "Poll cycles by result",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sensorwatch_poll_cycle_duration_seconds",
			Help:    "Wall time of a poll cycle",
			Buckets: prometheus.DefBuckets,
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sensorwatch_last_success_timestamp_seconds",
			Help: "Unix time of the last cycle that saved the store",
		}),
		sensors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sensorwatch_sensors",
			Help: "Sensors in the last poll by availability",
		}, []string{"state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorwatch_transitions_total",
			Help: "Status transitions applied by kind",
		}, []string{"kind"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorwatch_notifications_total",
			Help: "Notification deliveries by result",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.cycles, m.cycleDuration, m.lastSuccess, m.sensors, m.transitions, m.notifications,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Cycle(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(took.Seconds())
	if result == ResultOK {
		m.lastSuccess.SetToCurrentTime()
	}
}

func (m *Metrics) Partition(available, unavailable int) {
	if m == nil {
		return
	}
	m.sensors.WithLabelValues("available").Set(float64(available))
	m.sensors.WithLabelValues("unavailable").Set(float64(unavailable))
}

func (m *Metrics) Transitions(ts []status.Transition) {
	if m == nil {
		return
	}
	for _, t := range ts {
		m.transitions.WithLabelValues(string(t.Kind)).Inc()
	}
}

func (m *Metrics) Notifications(sent, failed int) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues("sent").Add(float64(sent))
	m.notifications.WithLabelValues("failed").Add(float64(failed))
}
