// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the pipeline and serving layer:
// - Pipeline stage durations and row throughput
// - Layered store writes by table and mode
// - Upstream Last.fm API requests and circuit breaker state
// - Recommendation API traffic

var (
	// Pipeline Metrics
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Duration of pipeline stage runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"stage", "outcome"}, // outcome: "processed", "skipped", "failed"
	)

	StageRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_rows_total",
			Help: "Total rows produced by pipeline stages",
		},
		[]string{"stage"},
	)

	// Store Metrics
	StoreWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_writes_total",
			Help: "Total layered store writes",
		},
		[]string{"layer", "table", "mode"},
	)

	StoreRowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_rows_written_total",
			Help: "Total rows written to the layered store",
		},
		[]string{"layer", "table"},
	)

	// Upstream API Metrics
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lastfm_requests_total",
			Help: "Total Last.fm API requests",
		},
		[]string{"method", "status"}, // status: "success", "error", "not_found"
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lastfm_request_duration_seconds",
			Help:    "Duration of Last.fm API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	UpstreamRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lastfm_request_retries_total",
			Help: "Total Last.fm API request retries",
		},
		[]string{"method"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total requests through the circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	// API Metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	RecommendationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommendation_requests_total",
			Help: "Total recommendation list requests",
		},
		[]string{"status"},
	)
)

// ObserveStage records one pipeline stage run.
func ObserveStage(stage, outcome string, d time.Duration, rows int64) {
	StageDuration.WithLabelValues(stage, outcome).Observe(d.Seconds())
	if rows > 0 {
		StageRows.WithLabelValues(stage).Add(float64(rows))
	}
}

// ObserveWrite records one layered store write.
func ObserveWrite(layer, table, mode string, rows int64) {
	StoreWrites.WithLabelValues(layer, table, mode).Inc()
	if rows > 0 {
		StoreRowsWritten.WithLabelValues(layer, table).Add(float64(rows))
	}
}
