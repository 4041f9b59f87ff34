// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ryanflavor/aegis-trader/internal/metrics"
)

// PrometheusMetrics returns middleware recording Prometheus metrics for
// every admin API request. role reports this instance's current election
// role ("active", "standby", or "n/a" for a plain, non-single-active
// service) at request time; it is attached as a label on the resulting
// api_requests_total/api_request_duration_seconds series so an operator can
// tell whether the replica that served a given request was the active
// leader or a standby at the time. role may be nil, in which case every
// request is labeled "n/a".
func PrometheusMetrics(role func() string) func(http.HandlerFunc) http.HandlerFunc {
	if role == nil {
		role = func() string { return "n/a" }
	}
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			// Track active requests
			metrics.TrackActiveRequest(true)
			defer metrics.TrackActiveRequest(false)

			// Record start time
			start := time.Now()

			// Wrap ResponseWriter to capture status code
			wrapper := &metricsResponseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			// Call next handler
			next(wrapper, r)

			// Calculate duration
			duration := time.Since(start)

			// Record metrics
			metrics.RecordAPIRequest(
				r.Method,
				r.URL.Path,
				strconv.Itoa(wrapper.statusCode),
				role(),
				duration,
			)
		}
	}
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code
func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
