// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the coordination core: registry heartbeats,
// leader election transitions, discovery cache behavior, sticky RPC client
// retries, and the admin HTTP surface.

var (
	// Registry Metrics
	RegistryHeartbeatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_heartbeats_total",
			Help: "Total number of heartbeat writes issued by this instance",
		},
		[]string{"service", "result"}, // result: "ok", "error"
	)

	RegistryInstancesTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "registry_instances",
			Help: "Number of instances currently visible in the registry listing",
		},
		[]string{"service"},
	)

	RegistryOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "registry_operation_duration_seconds",
			Help:    "Duration of registry KV operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"operation"}, // register, heartbeat, deregister, list
	)

	// Election Metrics
	ElectionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "election_transitions_total",
			Help: "Total number of election state transitions observed by this instance",
		},
		[]string{"group", "from", "to"},
	)

	ElectionCurrentState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "election_state",
			Help: "Current election state of this instance (0=standby, 1=active, 2=stopped)",
		},
		[]string{"group"},
	)

	ElectionCurrentTerm = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "election_term",
			Help: "Term of the leader record last observed by this instance",
		},
		[]string{"group"},
	)

	ElectionRenewalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "election_renewals_total",
			Help: "Total number of leader-record renewal attempts",
		},
		[]string{"group", "result"}, // ok, revision_mismatch, transport_error
	)

	ElectionAcquireDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "election_acquire_duration_seconds",
			Help:    "Wall time between an acquisition attempt starting and its outcome",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"group", "outcome"}, // created, exists, error
	)

	// Discovery Metrics
	DiscoveryCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_cache_hits_total",
			Help: "Total number of sticky-discovery cache hits",
		},
		[]string{"service"},
	)

	DiscoveryCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_cache_misses_total",
			Help: "Total number of sticky-discovery cache misses",
		},
		[]string{"service"},
	)

	DiscoveryCacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_cache_invalidations_total",
			Help: "Total number of explicit cache invalidations",
		},
		[]string{"service", "reason"}, // not_active, transport_error, watch, reconnect
	)

	DiscoveryFindActiveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "discovery_find_active_duration_seconds",
			Help:    "Duration of findActive lookups, including KV reads on cache miss",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "result"}, // hit, resolved, not_found
	)

	// Sticky RPC client metrics
	RPCClientAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpc_client_attempts_total",
			Help: "Total number of sticky RPC call attempts",
		},
		[]string{"service", "method", "outcome"}, // success, not_active, timeout, transport_error
	)

	RPCClientRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpc_client_retries_total",
			Help: "Total number of sticky RPC retries after a recoverable failure",
		},
		[]string{"service"},
	)

	RPCClientCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rpc_client_call_duration_seconds",
			Help:    "End-to-end duration of CallActive, including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method"},
	)

	// Circuit Breaker Metrics (shared by bus adapters)
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
		[]string{"name", "result"}, // success, failure, rejected
	)

	// Admin HTTP API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of admin HTTP API requests",
		},
		[]string{"method", "endpoint", "status_code", "role"}, // role: this instance's election role when it served the request
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Admin HTTP API request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "endpoint", "role"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of in-flight admin HTTP API requests",
		},
	)
)

// election state gauge values, matching ElectionCurrentState's Help text.
const (
	ElectionStateStandby = 0
	ElectionStateActive  = 1
	ElectionStateStopped = 2
)

// RecordHeartbeat records a registry heartbeat write outcome.
func RecordHeartbeat(service string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	RegistryHeartbeatsTotal.WithLabelValues(service, result).Inc()
}

// RecordRegistryOperation records the duration of a registry KV operation.
func RecordRegistryOperation(operation string, duration time.Duration) {
	RegistryOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetRegistryInstanceCount updates the gauge of currently-visible instances for a service.
func SetRegistryInstanceCount(service string, count int) {
	RegistryInstancesTotal.WithLabelValues(service).Set(float64(count))
}

// RecordElectionTransition records a state machine transition and updates the current-state gauge.
func RecordElectionTransition(group, from, to string, stateValue float64) {
	ElectionTransitionsTotal.WithLabelValues(group, from, to).Inc()
	ElectionCurrentState.WithLabelValues(group).Set(stateValue)
}

// SetElectionTerm updates the term gauge for a group.
func SetElectionTerm(group string, term uint64) {
	ElectionCurrentTerm.WithLabelValues(group).Set(float64(term))
}

// RecordRenewal records a leader-record renewal attempt outcome.
func RecordRenewal(group, result string) {
	ElectionRenewalsTotal.WithLabelValues(group, result).Inc()
}

// RecordAcquireAttempt records the duration and outcome of an acquisition attempt.
func RecordAcquireAttempt(group, outcome string, duration time.Duration) {
	ElectionAcquireDuration.WithLabelValues(group, outcome).Observe(duration.Seconds())
}

// RecordDiscoveryCacheHit/Miss record sticky-discovery cache effectiveness.
func RecordDiscoveryCacheHit(service string) {
	DiscoveryCacheHits.WithLabelValues(service).Inc()
}

func RecordDiscoveryCacheMiss(service string) {
	DiscoveryCacheMisses.WithLabelValues(service).Inc()
}

// RecordDiscoveryCacheInvalidation records why a cache entry was dropped.
func RecordDiscoveryCacheInvalidation(service, reason string) {
	DiscoveryCacheInvalidations.WithLabelValues(service, reason).Inc()
}

// RecordFindActive records the outcome and latency of a findActive lookup.
func RecordFindActive(service, result string, duration time.Duration) {
	DiscoveryFindActiveDuration.WithLabelValues(service, result).Observe(duration.Seconds())
}

// RecordRPCAttempt records a single sticky RPC attempt outcome.
func RecordRPCAttempt(service, method, outcome string) {
	RPCClientAttemptsTotal.WithLabelValues(service, method, outcome).Inc()
}

// RecordRPCRetry records a sticky RPC retry.
func RecordRPCRetry(service string) {
	RPCClientRetriesTotal.WithLabelValues(service).Inc()
}

// RecordRPCCall records the total duration of a CallActive invocation.
func RecordRPCCall(service, method string, duration time.Duration) {
	RPCClientCallDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// RecordCircuitBreakerRequest records a request outcome through a named circuit breaker.
func RecordCircuitBreakerRequest(name, result string) {
	CircuitBreakerRequests.WithLabelValues(name, result).Inc()
}

// SetCircuitBreakerState updates the state gauge for a named circuit breaker.
func SetCircuitBreakerState(name string, state float64) {
	CircuitBreakerState.WithLabelValues(name).Set(state)
}

// RecordAPIRequest records an admin HTTP API request. role is this
// instance's election role at request time ("active", "standby", or "n/a"
// for a plain, non-single-active service), letting the series be sliced by
// whether the answering replica was the active leader when it served the
// request.
func RecordAPIRequest(method, endpoint, statusCode, role string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode, role).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint, role).Observe(duration.Seconds())
}

// TrackActiveRequest increments or decrements the in-flight admin API request gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
