package flood

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Low-cardinality only: no camera_id/session_id labels.
var (
	metricSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flood_sessions_active",
		Help: "Current number of active flood-monitoring stream sessions",
	})

	metricSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flood_sessions_total",
		Help: "Total flood sessions started, by source type",
	}, []string{"source_type"})

	metricTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flood_ticks_total",
		Help: "Total ticks emitted, by source type",
	}, []string{"source_type"})

	metricSessionEndTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flood_session_end_total",
		Help: "Total sessions ended, by terminal status",
	}, []string{"status"})

	metricReadLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flood_read_latency_ms",
		Help:    "Per-tick frame read latency in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})

	metricInferLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flood_infer_latency_ms",
		Help:    "Per-tick dual-model inference latency in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2000},
	})

	metricSendLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flood_send_latency_ms",
		Help:    "Per-tick outbound send latency in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
	})

	metricPersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flood_persist_failures_total",
		Help: "Persistence operations that failed and were dropped",
	}, []string{"op"})

	metricRecorderFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flood_recorder_failures_total",
		Help: "Recorder subprocess start/stop failures",
	})

	metricInferenceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flood_inference_failures_total",
		Help: "Ticks skipped because a model invocation returned an error",
	})
)
