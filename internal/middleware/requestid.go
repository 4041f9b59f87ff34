// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/ryanflavor/aegis-trader/internal/logging"
)

type contextKey string

const RequestIDKey contextKey = "request_id"

// NodeIDHeader carries the responding coordination-core instance's ID on
// every admin API response, so an operator hitting a sticky-routed or
// load-balanced /healthz, /readyz, or /metrics endpoint can tell which of
// several running replicas actually answered.
const NodeIDHeader = "X-Aegis-Node-Id"

// RequestID returns middleware that generates a unique ID for each request,
// adds it to both the response header and request context, and stamps the
// response with nodeID — the same instance ID this process registers itself
// under in the service registry (internal/model.ServiceInstance.InstanceID).
// It also integrates with the logging package for distributed tracing by
// populating both request_id and correlation_id in the context.
func RequestID(nodeID string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			// Check if request already has an ID (from upstream proxy)
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				// Generate new UUID v4
				requestID = uuid.New().String()
			}

			// Add to response header for client visibility
			w.Header().Set("X-Request-ID", requestID)
			if nodeID != "" {
				w.Header().Set(NodeIDHeader, nodeID)
			}

			// Add to request context for logging and tracing
			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)

			// Integrate with logging package for structured logging with request tracing
			ctx = logging.ContextWithRequestID(ctx, requestID)
			ctx = logging.ContextWithNewCorrelationID(ctx)

			next(w, r.WithContext(ctx))
		}
	}
}

// GetRequestID extracts the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
