package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame processing counters
	FramesRead      atomic.Uint64
	FramesProcessed atomic.Uint64
	FramesDropped   atomic.Uint64

	// Detection counters
	DetectionsTotal atomic.Uint64
	PeopleInView    atomic.Uint64 // Current frame person count

	// Cumulative entry/exit counts (lane mode)
	PeopleIn  atomic.Uint64
	PeopleOut atomic.Uint64

	// Error counters
	ReadErrors     atomic.Uint64
	DetectErrors   atomic.Uint64
	DeliveryErrors atomic.Uint64

	// Alert counters
	CapacityAlerts   atomic.Uint64
	RestrictedAlerts atomic.Uint64

	// Latency tracking
	DetectLatencyMs atomic.Uint64 // Last inference latency in ms

	// Stream client tracking
	StreamClients atomic.Uint64

	// Snapshot state
	SnapshotsSaved atomic.Uint64

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	gauges := []struct {
		name string
		help string
		load func() uint64
	}{
		{"people_counter_frames_read_total", "Total frames read from the source", m.FramesRead.Load},
		{"people_counter_frames_processed_total", "Total frames processed by the pipeline", m.FramesProcessed.Load},
		{"people_counter_frames_dropped_total", "Total frames dropped by slow stream clients", m.FramesDropped.Load},
		{"people_counter_detections_total", "Total detections produced", m.DetectionsTotal.Load},
		{"people_counter_people_in_view", "People counted in the current frame", m.PeopleInView.Load},
		{"people_counter_people_in_total", "Cumulative entries counted in lane mode", m.PeopleIn.Load},
		{"people_counter_people_out_total", "Cumulative exits counted in lane mode", m.PeopleOut.Load},
		{"people_counter_read_errors_total", "Total frame source read errors", m.ReadErrors.Load},
		{"people_counter_detect_errors_total", "Total inference errors", m.DetectErrors.Load},
		{"people_counter_delivery_errors_total", "Total alert email delivery failures", m.DeliveryErrors.Load},
		{"people_counter_capacity_alerts_total", "Capacity alerts sent", m.CapacityAlerts.Load},
		{"people_counter_restricted_alerts_total", "Restricted item alerts sent", m.RestrictedAlerts.Load},
		{"people_counter_detect_latency_ms", "Last inference latency in milliseconds", m.DetectLatencyMs.Load},
		{"people_counter_stream_clients", "Connected MJPEG stream clients", m.StreamClients.Load},
		{"people_counter_snapshots_saved_total", "Annotated snapshots written to disk", m.SnapshotsSaved.Load},
	}

	for _, g := range gauges {
		load := g.load
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(load()) },
		))
	}
}

// UpdateDetectLatency records the duration of one inference call
func (m *Metrics) UpdateDetectLatency(duration time.Duration) {
	m.DetectLatencyMs.Store(uint64(duration.Milliseconds()))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
