// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the repair engine.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LLMBuckets defines histogram buckets suited for LLM generation latencies,
// ranging from 100ms to 5m.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300}

// ExecutionBuckets covers sandboxed runs, which are capped at a few seconds.
var ExecutionBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// Outcome labels for executions.
const (
	OutcomeSuccess        = "success"
	OutcomeFailure        = "failure"
	OutcomeInfrastructure = "infrastructure"
)

var (
	// RequestsTotal counts all HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "laph_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "laph_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method"},
	)

	// GenerationRequestsTotal counts streams opened against an LLM backend.
	GenerationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "laph_generation_requests_total",
			Help: "Generation requests",
		},
		[]string{"provider", "model", "status"},
	)

	// GenerationLatency records full-stream latency in seconds.
	GenerationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "laph_generation_latency_seconds",
			Help:    "Generation latency",
			Buckets: LLMBuckets,
		},
		[]string{"provider", "model"},
	)

	// GenerationChunksTotal counts text fragments delivered by a backend.
	GenerationChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "laph_generation_chunks_total",
			Help: "Generated chunks",
		},
		[]string{"provider", "model"},
	)

	// ExecutionsTotal counts sandboxed runs by backend and outcome.
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "laph_executions_total",
			Help: "Sandboxed executions",
		},
		[]string{"backend", "outcome"},
	)

	// ExecutionDuration records sandboxed run duration in seconds.
	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "laph_execution_duration_seconds",
			Help:    "Execution duration",
			Buckets: ExecutionBuckets,
		},
		[]string{"backend"},
	)

	// IterationsTotal counts repair iterations by how they ended.
	IterationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "laph_repair_iterations_total",
			Help: "Repair iterations",
		},
		[]string{"outcome"},
	)

	// RunsTotal counts finished repair runs by final status.
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "laph_repair_runs_total",
			Help: "Repair runs",
		},
		[]string{"status"},
	)

	// BackoffSeconds records every delay the loop slept after a generation failure.
	BackoffSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "laph_repair_backoff_seconds",
			Help:    "Backoff delays",
			Buckets: []float64{0.5, 1, 2, 4, 8, 10, 16},
		},
	)

	// ActiveRuns tracks repair loops currently in flight.
	ActiveRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "laph_repair_runs_active",
			Help: "Active repair runs",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		GenerationRequestsTotal,
		GenerationLatency,
		GenerationChunksTotal,
		ExecutionsTotal,
		ExecutionDuration,
		IterationsTotal,
		RunsTotal,
		BackoffSeconds,
		ActiveRuns,
	)
}

// ExecutionOutcome classifies an exit code into an outcome label.
func ExecutionOutcome(exitCode int) string {
	switch {
	case exitCode == 0:
		return OutcomeSuccess
	case exitCode == -1:
		return OutcomeInfrastructure
	default:
		return OutcomeFailure
	}
}

// RecordExecution observes one sandboxed run.
func RecordExecution(backend string, exitCode int, d time.Duration) {
	ExecutionsTotal.WithLabelValues(backend, ExecutionOutcome(exitCode)).Inc()
	ExecutionDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// RecordGeneration observes one finished generation stream.
func RecordGeneration(provider, model string, chunks int, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	GenerationRequestsTotal.WithLabelValues(provider, model, status).Inc()
	GenerationLatency.WithLabelValues(provider, model).Observe(d.Seconds())
	if chunks > 0 {
		GenerationChunksTotal.WithLabelValues(provider, model).Add(float64(chunks))
	}
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}
