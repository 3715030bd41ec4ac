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
	// Frame pipeline counters
	FramesReceived   atomic.Uint64
	FramesClassified atomic.Uint64
	FramesSkipped    atomic.Uint64 // excluded label, below threshold or empty result

	// Effect counters
	EventsPrinted    atomic.Uint64
	ImagesPersisted  atomic.Uint64
	AlertsSent       atomic.Uint64
	TrainingSamples  atomic.Uint64

	// Collaborator error counters
	InferenceErrors atomic.Uint64
	StorageErrors   atomic.Uint64
	NotifyErrors    atomic.Uint64
	SourceErrors    atomic.Uint64

	// Latency tracking
	InferenceLatencyMs atomic.Uint64 // Last inference latency in ms
	FrameIntervalMs    atomic.Uint64 // Time between consecutive frames in ms

	// Last decision
	LastScorePermille atomic.Uint64 // Top score of last frame, scaled by 1000

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
	gauge := func(name, help string, v *atomic.Uint64) {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: name, Help: help},
			func() float64 { return float64(v.Load()) },
		))
	}

	gauge("classifier_frames_received_total", "Total frames received from the frame source", &m.FramesReceived)
	gauge("classifier_frames_classified_total", "Total frames successfully classified", &m.FramesClassified)
	gauge("classifier_frames_skipped_total", "Total frames that produced no effects", &m.FramesSkipped)

	gauge("classifier_events_printed_total", "Total qualifying results printed", &m.EventsPrinted)
	gauge("classifier_images_persisted_total", "Total frames persisted to storage", &m.ImagesPersisted)
	gauge("classifier_alerts_sent_total", "Total alert notifications sent", &m.AlertsSent)
	gauge("classifier_training_samples_total", "Total frames collected as training samples", &m.TrainingSamples)

	gauge("classifier_inference_errors_total", "Total inference engine errors", &m.InferenceErrors)
	gauge("classifier_storage_errors_total", "Total image storage errors", &m.StorageErrors)
	gauge("classifier_notify_errors_total", "Total notification send errors", &m.NotifyErrors)
	gauge("classifier_source_errors_total", "Total frame source errors", &m.SourceErrors)

	gauge("classifier_inference_latency_ms", "Last inference latency in milliseconds", &m.InferenceLatencyMs)
	gauge("classifier_frame_interval_ms", "Time between consecutive frames in milliseconds", &m.FrameIntervalMs)

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "classifier_last_top_score",
			Help: "Top score of the most recent classification (0-1)",
		},
		func() float64 { return float64(m.LastScorePermille.Load()) / 1000 },
	))
}

// UpdateInferenceLatency records the latency of the last inference call
func (m *Metrics) UpdateInferenceLatency(d time.Duration) {
	m.InferenceLatencyMs.Store(uint64(d.Milliseconds()))
}

// UpdateFrameInterval records the time elapsed since the previous frame
func (m *Metrics) UpdateFrameInterval(d time.Duration) {
	m.FrameIntervalMs.Store(uint64(d.Milliseconds()))
}

// UpdateLastScore records the top score of the most recent classification
func (m *Metrics) UpdateLastScore(score float64) {
	if score < 0 {
		score = 0
	}
	m.LastScorePermille.Store(uint64(score * 1000))
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
