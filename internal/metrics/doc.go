// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

/*
Package metrics provides Prometheus instrumentation for the coordination core.

It covers four areas:

  - Registry: heartbeat outcomes, KV operation latency, visible instance counts.
  - Election: state transitions, current term, renewal outcomes, acquisition latency.
  - Discovery: sticky cache hit/miss/invalidation counts and findActive latency.
  - Sticky RPC client: attempt outcomes, retries, end-to-end call duration.

Metrics are registered at package init time via promauto and are safe for
concurrent use from any number of service instances running in the same
process (as in tests, where several ServiceRuntime instances share one
registry).

# Usage

	metrics.RecordHeartbeat("trader", err)
	metrics.RecordElectionTransition("trader.default", "standby", "active", metrics.ElectionStateActive)
	metrics.RecordDiscoveryCacheHit("trader")

# See Also

  - internal/registry: emits heartbeat and operation metrics
  - internal/election: emits transition, renewal, and acquisition metrics
  - internal/discovery: emits cache and findActive metrics
  - internal/rpcclient: emits sticky-call metrics
*/
package metrics
