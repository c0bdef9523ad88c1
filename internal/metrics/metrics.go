// Package metrics holds the Prometheus collectors shared by the remote client, the orchestration layers and the HTTP server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is nil-safe: every Record/Set method is a no-op on a nil receiver.
type Metrics struct {
	RemoteRequestsTotal   *prometheus.CounterVec
	RemoteRequestDuration *prometheus.HistogramVec
	TransferAttemptsTotal *prometheus.CounterVec
	StaleResultsTotal     prometheus.Counter
	EscalationsTotal      *prometheus.CounterVec
	ErrorsTotal           *prometheus.CounterVec
	HTTPRequestsTotal     *prometheus.CounterVec
	DevicesVisible        prometheus.Gauge
	WatchersActive        prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RemoteRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spinsync_remote_requests_total",
				Help: "Total number of requests sent to the Spotify Web API",
			},
			[]string{"op", "status"},
		),
		RemoteRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spinsync_remote_request_duration_seconds",
				Help:    "Latency of Spotify Web API requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		TransferAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spinsync_transfer_attempts_total",
				Help: "Total number of transfer commands issued",
			},
			[]string{"mode", "outcome"},
		),
		StaleResultsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "spinsync_stale_playback_results_total",
				Help: "Playback fetch results discarded because a newer one was applied",
			},
		),
		EscalationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spinsync_escalations_total",
				Help: "Escalation prompts raised and resolved",
			},
			[]string{"event"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spinsync_errors_total",
				Help: "Total number of errors by component and kind",
			},
			[]string{"component", "kind"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spinsync_http_requests_total",
				Help: "Requests served by the control API",
			},
			[]string{"route", "status"},
		),
		DevicesVisible: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "spinsync_devices_visible",
				Help: "Number of valid devices in the last directory snapshot",
			},
		),
		WatchersActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "spinsync_device_watchers_active",
				Help: "Whether the device-selection poller is running",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.RemoteRequestsTotal,
			m.RemoteRequestDuration,
			m.TransferAttemptsTotal,
			m.StaleResultsTotal,
			m.EscalationsTotal,
			m.ErrorsTotal,
			m.HTTPRequestsTotal,
			m.DevicesVisible,
			m.WatchersActive,
		)
	}

	return m
}

func (m *Metrics) RecordRemoteRequest(op, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RemoteRequestsTotal.WithLabelValues(op, status).Inc()
	m.RemoteRequestDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *Metrics) RecordTransferAttempt(mode, outcome string) {
	if m == nil {
		return
	}
	m.TransferAttemptsTotal.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) RecordStaleResult() {
	if m == nil {
		return
	}
	m.StaleResultsTotal.Inc()
}

func (m *Metrics) RecordEscalation(event string) {
	if m == nil {
		return
	}
	m.EscalationsTotal.WithLabelValues(event).Inc()
}

func (m *Metrics) RecordError(component, kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, kind).Inc()
}

func (m *Metrics) RecordHTTPRequest(route, status string) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
}

func (m *Metrics) SetDevicesVisible(count int) {
	if m == nil {
		return
	}
	m.DevicesVisible.Set(float64(count))
}

func (m *Metrics) SetWatcherActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.WatchersActive.Set(1)
		return
	}
	m.WatchersActive.Set(0)
}
