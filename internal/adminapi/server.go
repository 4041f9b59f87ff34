// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

// Package adminapi implements the admin HTTP surface: liveness, readiness,
// and Prometheus metrics. It carries no business authority over the
// coordination core (no RPC routing, no registry/election mutation) —
// only observability.
package adminapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ryanflavor/aegis-trader/internal/config"
	"github.com/ryanflavor/aegis-trader/internal/logging"
	"github.com/ryanflavor/aegis-trader/internal/middleware"
)

// ReadinessCheck reports whether the process is ready to serve traffic,
// along with a named detail per dependency (e.g. "bus", "election")
// surfaced in the /readyz response body.
type ReadinessCheck func() (ready bool, detail map[string]bool)

// Server builds the admin HTTP handler: /healthz, /readyz, /metrics.
type Server struct {
	cfg       config.AdminConfig
	readiness ReadinessCheck
	nodeID    string
	role      func() string
	startTime time.Time
	handler   http.Handler
}

// New builds the admin HTTP surface. readiness may be nil, in which case
// /readyz always reports ready — appropriate for a plain service with no
// election or discovery dependency to check. nodeID identifies this
// instance in the middleware.NodeIDHeader response header, and role reports
// this instance's current election role ("active"/"standby"/"n/a") for the
// api_requests_total role label; both may be zero-valued (nodeID ""
// and role nil) for a plain, non-single-active service.
func New(cfg config.AdminConfig, readiness ReadinessCheck, nodeID string, role func() string) *Server {
	s := &Server{cfg: cfg, readiness: readiness, nodeID: nodeID, role: role, startTime: time.Now()}
	s.handler = s.buildRouter()
	return s
}

// Handler returns the admin HTTP handler, for wiring into an *http.Server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// chiAdapter adapts our func(http.HandlerFunc) http.HandlerFunc middleware
// to Chi's func(http.Handler) http.Handler so RequestID and
// PrometheusMetrics compose with r.Use() like every other middleware here.
func chiAdapter(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chiAdapter(middleware.RequestID(s.nodeID)))
	r.Use(chiAdapter(middleware.PrometheusMetrics(s.role)))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet},
	}))
	r.Use(httprate.LimitByIP(s.cfg.RateLimitReqs, s.cfg.RateLimitWindow))

	r.Get("/healthz", s.handleLive)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// handleLive answers the liveness probe: 200 as long as the process can
// respond at all, regardless of bus or election state.
func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "alive",
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	})
}

// handleReady answers the readiness probe: 200 only when the caller's
// ReadinessCheck reports ready, 503 otherwise.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.readiness == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
		return
	}

	ready, detail := s.readiness()
	status, statusText := http.StatusOK, "ready"
	if !ready {
		status, statusText = http.StatusServiceUnavailable, "not_ready"
	}
	writeJSON(w, status, map[string]any{"status": statusText, "checks": detail})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal admin API response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		logging.Warn().Err(err).Msg("failed to write admin API response")
	}
}
