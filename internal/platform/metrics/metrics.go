package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the master process.
type Metrics struct {
	registry         *prometheus.Registry
	requestsTotal    *prometheus.CounterVec
	errorsTotal      prometheus.Counter
	broadcastsTotal  *prometheus.CounterVec
	receivedTotal    *prometheus.CounterVec
	admissionsTotal  *prometheus.CounterVec
	framesForwarded  prometheus.Counter
	processesStarted prometheus.Counter
	openWindows      prometheus.Gauge
	pendingStreams   prometheus.Gauge
	locked           prometheus.Gauge
}

// New creates and registers the wall controller metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wall_control_requests_total",
		Help: "Total number of remote-control requests received",
	}, []string{"method"})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wall_control_errors_total",
		Help: "Total number of remote-control responses with error status (4xx or 5xx)",
	})
	broadcastsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wall_broadcasts_total",
		Help: "Messages broadcast from the master to the walls, by type",
	}, []string{"type"})
	receivedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wall_messages_received_total",
		Help: "Messages received by the master from the walls, by type",
	}, []string{"type"})
	admissionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wall_stream_admissions_total",
		Help: "External stream admission decisions, by outcome",
	}, []string{"outcome"})
	framesForwarded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wall_pixelstream_frames_total",
		Help: "Pixel stream frames forwarded to the walls",
	})
	processesStarted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wall_processes_started_total",
		Help: "Process launches sent to the forker",
	})
	openWindows := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wall_open_windows",
		Help: "Number of windows in the scene",
	})
	pendingStreams := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wall_pending_streams",
		Help: "Number of streams waiting for admission",
	})
	locked := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wall_screen_locked",
		Help: "1 while the screen lock is engaged",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		broadcastsTotal,
		receivedTotal,
		admissionsTotal,
		framesForwarded,
		processesStarted,
		openWindows,
		pendingStreams,
		locked,
	)

	return &Metrics{
		registry:         registry,
		requestsTotal:    requestsTotal,
		errorsTotal:      errorsTotal,
		broadcastsTotal:  broadcastsTotal,
		receivedTotal:    receivedTotal,
		admissionsTotal:  admissionsTotal,
		framesForwarded:  framesForwarded,
		processesStarted: processesStarted,
		openWindows:      openWindows,
		pendingStreams:   pendingStreams,
		locked:           locked,
	}
}

// IncRequests increments the request counter for method.
func (m *Metrics) IncRequests(method string) {
	m.requestsTotal.WithLabelValues(method).Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncBroadcast counts one broadcast of the given message type.
func (m *Metrics) IncBroadcast(msgType string) {
	m.broadcastsTotal.WithLabelValues(msgType).Inc()
}

// IncReceived counts one message received from a wall.
func (m *Metrics) IncReceived(msgType string) {
	m.receivedTotal.WithLabelValues(msgType).Inc()
}

// IncAdmission counts one admission outcome: accepted, rejected or cancelled.
func (m *Metrics) IncAdmission(outcome string) {
	m.admissionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncFramesForwarded() {
	m.framesForwarded.Inc()
}

func (m *Metrics) IncProcessesStarted() {
	m.processesStarted.Inc()
}

// SetOpenWindows sets the open windows gauge.
func (m *Metrics) SetOpenWindows(n int) {
	m.openWindows.Set(float64(n))
}

// SetPendingStreams sets the pending admissions gauge.
func (m *Metrics) SetPendingStreams(n int) {
	m.pendingStreams.Set(float64(n))
}

// SetLocked sets the screen lock gauge.
func (m *Metrics) SetLocked(locked bool) {
	if locked {
		m.locked.Set(1)
		return
	}
	m.locked.Set(0)
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
