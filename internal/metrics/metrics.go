// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

// Package metrics defines the Prometheus collectors for sonicmirror.
//
// Collectors are registered with the default registry through promauto and
// exported at /metrics by the HTTP surface. Callers use the Record* helpers
// rather than touching collectors directly.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync Metrics
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sonicmirror_sync_runs_total",
			Help: "Total number of sync runs by mode and status",
		},
		[]string{"mode", "status"}, // status: completed, failed, skipped_in_progress, skipped_unreachable
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sonicmirror_sync_duration_seconds",
			Help:    "Duration of sync runs that reached the network",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"mode"},
	)

	SyncFullFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sonicmirror_sync_full_fallbacks_total",
			Help: "DELTA runs that fell back to FULL because the server required it",
		},
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sonicmirror_sync_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful sync",
		},
	)

	SyncInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sonicmirror_sync_in_progress",
			Help: "1 while a sync run holds the in-progress guard",
		},
	)

	// Mirror Metrics
	MirrorEntitiesMerged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sonicmirror_mirror_entities_merged_total",
			Help: "Entities written into the mirror",
		},
		[]string{"mode"},
	)

	MirrorEntitiesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sonicmirror_mirror_entities_skipped_total",
			Help: "Malformed entities skipped during merge",
		},
		[]string{"mode"},
	)

	MirrorEntitiesPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sonicmirror_mirror_entities_pruned_total",
			Help: "Entities removed by FULL sync because the server no longer lists them",
		},
	)

	// Reachability Metrics
	ServerReachable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sonicmirror_server_reachable",
			Help: "Server reachability belief (1=reachable, 0=unreachable)",
		},
	)

	TransportOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sonicmirror_transport_outcomes_total",
			Help: "Outbound request outcomes observed by the reachability transport",
		},
		[]string{"outcome"}, // response, transport_error, canceled
	)

	// Subsonic API Metrics
	SubsonicRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sonicmirror_subsonic_requests_total",
			Help: "Subsonic API requests by endpoint and result",
		},
		[]string{"endpoint", "result"}, // result: ok, api_error, http_error, transport_error
	)

	SubsonicRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sonicmirror_subsonic_request_duration_seconds",
			Help:    "Subsonic API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint"},
	)

	SubsonicRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sonicmirror_subsonic_rate_limited_total",
			Help: "HTTP 429 responses received from the Subsonic server",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: success, failure, rejected
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Offline Browser Metrics
	OfflineStackDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sonicmirror_offline_stack_depth",
			Help: "Current depth of the offline browse stack (1 = root)",
		},
	)

	OfflineSnapshotSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sonicmirror_offline_snapshot_subscribers",
			Help: "Active UI snapshot subscribers",
		},
	)

	// Event Bus Metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sonicmirror_events_published_total",
			Help: "Events published by topic and result",
		},
		[]string{"topic", "result"},
	)

	// HTTP Surface Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "endpoint"},
	)
)

// Sync statuses used as label values.
const (
	StatusCompleted          = "completed"
	StatusFailed             = "failed"
	StatusSkippedInProgress  = "skipped_in_progress"
	StatusSkippedUnreachable = "skipped_unreachable"
	StatusSkippedStopped     = "skipped_stopped"
)

// RecordSyncRun records the outcome of one StartIfNeeded call. Duration is
// observed only for runs that reached the network.
func RecordSyncRun(mode, status string, duration time.Duration) {
	if mode == "" {
		mode = "none"
	}
	SyncRuns.WithLabelValues(mode, status).Inc()
	switch status {
	case StatusCompleted:
		SyncDuration.WithLabelValues(mode).Observe(duration.Seconds())
		SyncLastSuccess.Set(float64(time.Now().Unix()))
	case StatusFailed:
		SyncDuration.WithLabelValues(mode).Observe(duration.Seconds())
	}
}

// RecordMerge records entities written and skipped for one page.
func RecordMerge(mode string, merged, skipped int) {
	MirrorEntitiesMerged.WithLabelValues(mode).Add(float64(merged))
	if skipped > 0 {
		MirrorEntitiesSkipped.WithLabelValues(mode).Add(float64(skipped))
	}
}

// SetReachable updates the reachability gauge.
func SetReachable(reachable bool) {
	if reachable {
		ServerReachable.Set(1)
	} else {
		ServerReachable.Set(0)
	}
}

// RecordSubsonicRequest records a Subsonic API call.
func RecordSubsonicRequest(endpoint, result string, duration time.Duration) {
	SubsonicRequests.WithLabelValues(endpoint, result).Inc()
	SubsonicRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordEventPublish records an event bus publish.
func RecordEventPublish(topic string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	EventsPublished.WithLabelValues(topic, result).Inc()
}

// RecordAPIRequest records an HTTP surface request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
