// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestRecordHeartbeat(t *testing.T) {
	RecordHeartbeat("trader", nil)
	RecordHeartbeat("trader", errors.New("timeout"))

	if got := testutil.ToFloat64(RegistryHeartbeatsTotal.WithLabelValues("trader", "ok")); got != 1 {
		t.Errorf("ok heartbeats = %v, want 1", got)
	}
	if got := testutil.ToFloat64(RegistryHeartbeatsTotal.WithLabelValues("trader", "error")); got != 1 {
		t.Errorf("error heartbeats = %v, want 1", got)
	}
}

func TestSetRegistryInstanceCount(t *testing.T) {
	SetRegistryInstanceCount("trader", 3)
	if got := testutil.ToFloat64(RegistryInstancesTotal.WithLabelValues("trader")); got != 3 {
		t.Errorf("instance count = %v, want 3", got)
	}
}

func TestRecordElectionTransition(t *testing.T) {
	RecordElectionTransition("trader.default", "standby", "active", ElectionStateActive)

	if got := testutil.ToFloat64(ElectionTransitionsTotal.WithLabelValues("trader.default", "standby", "active")); got != 1 {
		t.Errorf("transitions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(ElectionCurrentState.WithLabelValues("trader.default")); got != ElectionStateActive {
		t.Errorf("state gauge = %v, want %v", got, ElectionStateActive)
	}
}

func TestSetElectionTerm(t *testing.T) {
	SetElectionTerm("trader.default", 7)
	if got := testutil.ToFloat64(ElectionCurrentTerm.WithLabelValues("trader.default")); got != 7 {
		t.Errorf("term gauge = %v, want 7", got)
	}
}

func TestRecordRenewal(t *testing.T) {
	RecordRenewal("trader.default", "ok")
	if got := testutil.ToFloat64(ElectionRenewalsTotal.WithLabelValues("trader.default", "ok")); got != 1 {
		t.Errorf("renewals = %v, want 1", got)
	}
}

func TestRecordAcquireAttempt(t *testing.T) {
	RecordAcquireAttempt("trader.acquire-test", "created", 10*time.Millisecond)
	RecordAcquireAttempt("trader.acquire-test", "created", 20*time.Millisecond)

	m := &dto.Metric{}
	h, err := ElectionAcquireDuration.GetMetricWithLabelValues("trader.acquire-test", "created")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	if err := h.(prometheus.Histogram).Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := m.GetHistogram().GetSampleCount(); got != 2 {
		t.Errorf("histogram sample count = %d, want 2", got)
	}
}

func TestDiscoveryCacheCounters(t *testing.T) {
	RecordDiscoveryCacheHit("trader")
	RecordDiscoveryCacheMiss("trader")
	RecordDiscoveryCacheInvalidation("trader", "not_active")

	if got := testutil.ToFloat64(DiscoveryCacheHits.WithLabelValues("trader")); got != 1 {
		t.Errorf("cache hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(DiscoveryCacheMisses.WithLabelValues("trader")); got != 1 {
		t.Errorf("cache misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(DiscoveryCacheInvalidations.WithLabelValues("trader", "not_active")); got != 1 {
		t.Errorf("cache invalidations = %v, want 1", got)
	}
}

func TestRecordRPCAttemptAndRetry(t *testing.T) {
	RecordRPCAttempt("trader", "PlaceOrder", "success")
	RecordRPCRetry("trader")

	if got := testutil.ToFloat64(RPCClientAttemptsTotal.WithLabelValues("trader", "PlaceOrder", "success")); got != 1 {
		t.Errorf("rpc attempts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(RPCClientRetriesTotal.WithLabelValues("trader")); got != 1 {
		t.Errorf("rpc retries = %v, want 1", got)
	}
}

func TestCircuitBreakerMetrics(t *testing.T) {
	RecordCircuitBreakerRequest("bus", "success")
	SetCircuitBreakerState("bus", 1)

	if got := testutil.ToFloat64(CircuitBreakerRequests.WithLabelValues("bus", "success")); got != 1 {
		t.Errorf("breaker requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("bus")); got != 1 {
		t.Errorf("breaker state = %v, want 1", got)
	}
}

func TestRecordAPIRequestAndActiveTracking(t *testing.T) {
	RecordAPIRequest("GET", "/healthz", "200", "active", 5*time.Millisecond)
	if got := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/healthz", "200", "active")); got != 1 {
		t.Errorf("api requests = %v, want 1", got)
	}

	TrackActiveRequest(true)
	if got := testutil.ToFloat64(APIActiveRequests); got != 1 {
		t.Errorf("active requests = %v, want 1", got)
	}
	TrackActiveRequest(false)
	if got := testutil.ToFloat64(APIActiveRequests); got != 0 {
		t.Errorf("active requests = %v, want 0", got)
	}
}
