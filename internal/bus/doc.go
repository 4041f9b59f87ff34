// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

/*
Package bus defines the MessageBus port — the single seam between the
coordination core and its transport — and two named implementations
selected by config.BusKind:

  - "nats": a NATS JetStream adapter (nats.go) wrapping connection,
    pub/sub, RPC, and KV operations in a gobreaker circuit breaker.
  - "in_memory": a single-process adapter (memory.go) with no external
    dependencies, used by tests and the in-memory demo mode.

No component outside this package imports nats.go or jetstream
directly; internal/registry, internal/election, and internal/discovery
only see the Bus and KV interfaces.

# Selection

	b, err := bus.New(cfg)

cfg.Bus.Kind chooses the adapter via a package-level factory registry —
deliberately not runtime type probing, so every deployment states its
transport choice explicitly.

# Failure taxonomy

Adapters report the classified failures as the sentinel errors defined
in this package (ErrTransportDisconnected, ErrOpTimeout,
ErrRevisionMismatch, ErrNotFound, ErrAlreadyExists); other failures,
such as a NATS publish or subscribe error, are returned wrapped as they
come from the client library. internal/errs maps the sentinels onto the
error-envelope codes callers see on RPC replies, and anything else onto
CodeInternal.
*/
package bus
