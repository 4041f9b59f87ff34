// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

/*
Package middleware provides HTTP middleware for the admin API.

The admin API (internal/adminapi) is a thin surface over the coordination
core — health, readiness, and /metrics — so its middleware stack is
intentionally small, and both members of it are parameterized on
per-instance coordination state rather than being stateless wrappers:

  - Request ID: UUID-based request tracking, integrated with internal/logging
    correlation IDs for distributed tracing across a heartbeat/election/RPC
    call chain. Also stamps the response with this instance's node ID so a
    request answered by one of several replicas behind a load balancer or
    sticky route can still be traced back to the instance that served it.
  - Prometheus Metrics: request/response instrumentation via internal/metrics,
    labeled with this instance's current election role (active/standby/n-a)
    at request time.

Middleware Stack:

	r.Use(chiAdapter(middleware.RequestID(nodeID)))
	r.Use(chiAdapter(middleware.PrometheusMetrics(roleProvider)))

Usage Example - Request ID:

	withID := middleware.RequestID("coordinator-a1")
	http.HandleFunc("/healthz", withID(handler))

	func handler(w http.ResponseWriter, r *http.Request) {
	    requestID := r.Context().Value(middleware.RequestIDKey).(string)
	    log.Printf("[%s] Processing request", requestID)
	}

Usage Example - Prometheus Metrics:

	withMetrics := middleware.PrometheusMetrics(func() string {
	    return coordinator.State().String()
	})
	http.HandleFunc("/healthz", withMetrics(handler))

Thread Safety:

All middleware components are thread-safe: Request ID uses context.Context
(immutable), Prometheus metrics use atomic counters internally, and the role
provider passed to PrometheusMetrics is expected to be safe for concurrent
calls (election.Coordinator.State() already is).

See Also:

  - internal/adminapi: HTTP handlers wrapped by this middleware
  - internal/metrics: Prometheus metrics definitions
  - internal/election: the Coordinator whose State() commonly backs the role provider
*/
package middleware
