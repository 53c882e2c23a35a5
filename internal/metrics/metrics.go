// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

// Package metrics provides Prometheus instrumentation for VeloSync:
// sync pipeline outcomes, destination auth attempts by error kind, outbound
// gateway traffic and retries, and circuit breaker state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync pipeline metrics

	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velosync_sync_runs_total",
			Help: "Total number of sync runs by outcome",
		},
		[]string{"outcome"}, // "success", "degraded", "noop"
	)

	SyncStageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velosync_sync_stage_failures_total",
			Help: "Total number of failed sync stages",
		},
		[]string{"stage"}, // "download", "convert", "upload"
	)

	SyncRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "velosync_sync_run_duration_seconds",
			Help:    "Duration of sync runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	SyncWorkoutsUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "velosync_sync_workouts_uploaded_total",
			Help: "Total number of workout files uploaded to the destination",
		},
	)

	SyncLastSuccessTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "velosync_sync_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last fully successful sync run",
		},
	)

	// Destination authentication metrics

	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velosync_auth_attempts_total",
			Help: "Total number of destination SSO handshake attempts by outcome",
		},
		[]string{"outcome"}, // "success", "mfa_pending", or an auth error kind
	)

	AuthCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "velosync_auth_cache_hits_total",
			Help: "Total number of auth requests served from the cached state",
		},
	)

	// Outbound HTTP gateway metrics

	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velosync_gateway_requests_total",
			Help: "Total number of outbound HTTP requests by host and result",
		},
		[]string{"host", "result"}, // result: "success", "error"
	)

	GatewayRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "velosync_gateway_retries_total",
			Help: "Total number of outbound HTTP request retries",
		},
	)

	// Circuit breaker metrics (source platform client)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "velosync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velosync_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velosync_circuit_breaker_requests_total",
			Help: "Total number of requests through the circuit breaker by outcome",
		},
		[]string{"name", "outcome"}, // "success", "failure", "rejected"
	)

	// API metrics

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velosync_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)
)
