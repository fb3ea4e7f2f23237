package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultOK       = "ok"
	ResultNotFound = "not_found"
	ResultConflict = "conflict"
	ResultInvalid  = "invalid"
	ResultError    = "error"
)

// Metrics holds the service collectors on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	Heartbeats    *prometheus.CounterVec
	Registrations *prometheus.CounterVec
	Sweeps        *prometheus.CounterVec
	Expired       prometheus.Counter
	Announcements *prometheus.CounterVec
	SweepDuration prometheus.Histogram
	Messages      *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_heartbeats_total",
			Help: "Heartbeats received, by result.",
		}, []string{"result"}),
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_registrations_total",
			Help: "Participant registrations, by result.",
		}, []string{"result"}),
		Sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_sweeps_total",
			Help: "Sweep cycles, by result.",
		}, []string{"result"}),
		Expired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "presence_expired_participants_total",
			Help: "Participants removed for missing heartbeats.",
		}),
		Announcements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_departure_announcements_total",
			Help: "Departure messages appended by the sweeper, by result.",
		}, []string{"result"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "presence_sweep_duration_seconds",
			Help:    "Time spent removing stale participants.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Messages appended to the log, by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Heartbeats,
		m.Registrations,
		m.Sweeps,
		m.Expired,
		m.Announcements,
		m.SweepDuration,
		m.Messages,
	)

	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
