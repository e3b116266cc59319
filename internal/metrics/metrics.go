// Package metrics defines the Prometheus collectors shared by the controller,
// the inference client and the HTTP front end.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Inference metrics
var (
	InferenceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivewatch_inference_requests_total",
			Help: "Total number of inference requests by mode and outcome",
		},
		[]string{"mode", "outcome"}, // mode: image|frame, outcome: ok|backend_error|malformed|transport_error
	)

	InferenceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drivewatch_inference_duration_seconds",
			Help:    "Inference round-trip duration in seconds",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"mode"},
	)

	InferenceInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "drivewatch_inference_in_flight",
			Help: "Number of inference requests currently awaiting a response",
		},
	)
)

// Sampling metrics
var (
	FrameCapturesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivewatch_frame_captures_total",
			Help: "Total number of frame capture attempts by outcome",
		},
		[]string{"outcome"}, // ok|unavailable|error
	)

	SamplingSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "drivewatch_sampling_sessions_active",
			Help: "Number of running video sampling sessions",
		},
	)

	ResultsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivewatch_results_dropped_total",
			Help: "Inference results discarded instead of being displayed",
		},
		[]string{"reason"}, // superseded|stale_session|out_of_order
	)
)

// Resource metrics
var (
	PreviewHandlesOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "drivewatch_preview_handles_open",
			Help: "Number of storage-backed preview handles not yet released",
		},
	)
)
