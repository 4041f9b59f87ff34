// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

package bus

import (
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/ryanflavor/aegis-trader/internal/config"
	"github.com/ryanflavor/aegis-trader/internal/metrics"
)

// newCircuitBreaker wraps every RPC and KV call the NATS adapter makes
// so a degraded transport trips open instead of letting every caller
// queue up behind a stuck connection.
func newCircuitBreaker(name string, cfg config.CircuitBreakerConfig) *gobreaker.CircuitBreaker[any] {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFails
		},
		OnStateChange: func(_ string, _, to gobreaker.State) {
			metrics.SetCircuitBreakerState(name, breakerStateGauge(to))
		},
	}
	return gobreaker.NewCircuitBreaker[any](settings)
}

func breakerStateGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 0.5
	case gobreaker.StateOpen:
		return 1
	default:
		return -1
	}
}

func recordBreakerOutcome(name string, err error) {
	if err == nil {
		metrics.RecordCircuitBreakerRequest(name, "success")
		return
	}
	metrics.RecordCircuitBreakerRequest(name, "failure")
}
