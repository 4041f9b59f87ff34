// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// BusKind selects the MessageBus adapter a process wires at startup.
// It is the configuration enum behind the bus factory registry
// (internal/bus): every instance in a deployment must agree on BusKind,
// since the NATS and in-memory adapters cannot interoperate.
type BusKind string

const (
	// BusKindNATS wires internal/bus's NATS JetStream adapter.
	BusKindNATS BusKind = "nats"
	// BusKindInMemory wires internal/bus's in-process adapter, used in
	// tests and single-process demos where no NATS server is available.
	BusKindInMemory BusKind = "in_memory"
)

// Config is the root configuration for a coordination-core process: one
// NATS connection, one registry/election timing profile, one discovery
// cache, one sticky RPC client, and the admin HTTP surface.
type Config struct {
	Bus       BusConfig       `koanf:"bus"`
	NATS      NATSConfig      `koanf:"nats"`
	Registry  RegistryConfig  `koanf:"registry"`
	Election  ElectionConfig  `koanf:"election"`
	Discovery DiscoveryConfig `koanf:"discovery"`
	RPCClient RPCClientConfig `koanf:"rpc_client"`
	Admin     AdminConfig     `koanf:"admin"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// BusConfig selects and tunes the MessageBus adapter.
type BusConfig struct {
	Kind BusKind `koanf:"kind" validate:"required,oneof=nats in_memory"`

	// KVOpTimeout bounds every registry/election KV operation (Get, Create,
	// Update, Delete, Keys). Exceeding it surfaces as errs.CodeTimeout.
	KVOpTimeout time.Duration `koanf:"kv_op_timeout"`

	// CircuitBreaker guards bus RPC and KV calls against a degraded
	// transport so a stuck NATS connection can't wedge every caller.
	CircuitBreaker CircuitBreakerConfig `koanf:"circuit_breaker"`
}

// CircuitBreakerConfig configures the gobreaker wrapping bus calls.
type CircuitBreakerConfig struct {
	MaxRequests      uint32        `koanf:"max_requests"`
	Interval         time.Duration `koanf:"interval"`
	Timeout          time.Duration `koanf:"timeout"`
	ConsecutiveFails uint32        `koanf:"consecutive_fails"`
}

// NATSConfig holds the connection parameters for the NATS JetStream bus
// adapter. It is only consulted when Bus.Kind is BusKindNATS.
type NATSConfig struct {
	URL             string        `koanf:"url"`
	Name            string        `koanf:"name"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ReconnectWait   time.Duration `koanf:"reconnect_wait"`
	MaxReconnects   int           `koanf:"max_reconnects"`
	// KVBucketPrefix is loaded from configuration, but no component reads
	// it: the bus adapter opens KV buckets under the names it is given
	// (kv.BucketServiceRegistry), without any prefix.
	KVBucketPrefix string `koanf:"kv_bucket_prefix"`
}

// RegistryConfig tunes the service registry's heartbeat cadence.
type RegistryConfig struct {
	// HeartbeatInterval is how often an instance refreshes its KV record.
	// Must be >= 1s.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`

	// TTLMultiplier sets the KV record's TTL as a multiple of
	// HeartbeatInterval (default 3x), so a single missed heartbeat
	// doesn't evict an instance.
	TTLMultiplier int `koanf:"ttl_multiplier" validate:"min=1"`
}

// TTL returns the registry KV record's time-to-live.
func (r RegistryConfig) TTL() time.Duration {
	return r.HeartbeatInterval * time.Duration(r.TTLMultiplier)
}

// ElectionConfig tunes the leader-election FSM's timing.
type ElectionConfig struct {
	// LeaderTTL is the KV record TTL for the active leader's record. Must
	// be strictly greater than RegistryConfig.HeartbeatInterval so a
	// leader outlives one missed registry heartbeat.
	LeaderTTL time.Duration `koanf:"leader_ttl"`

	// RenewalInterval is how often the active instance refreshes its
	// leader record. Must be <= LeaderTTL/2, giving at least one spare
	// renewal attempt before the record expires.
	RenewalInterval time.Duration `koanf:"renewal_interval"`

	// StandbyPollInterval is the fallback poll cadence for standby
	// instances watching for the leader record to disappear, used
	// alongside the KV watch to guard against missed watch events.
	StandbyPollInterval time.Duration `koanf:"standby_poll_interval"`

	// DefaultGroup is used when a single-active service definition omits
	// sticky_active_group. Every single-active service belongs to a
	// group; an unset group name resolves to this value, never to "".
	DefaultGroup string `koanf:"default_group" validate:"required"`
}

// DiscoveryConfig tunes the client-side discovery cache.
type DiscoveryConfig struct {
	// CacheTTL bounds how long a resolved active instance is reused
	// before a fresh KV lookup is forced, independent of invalidation
	// triggers (NOT_ACTIVE, transport error, watch event, reconnect).
	CacheTTL time.Duration `koanf:"cache_ttl"`

	// InvalidateAllOnReconnect implements the chosen default policy:
	// a bus reconnect invalidates every cached sticky entry rather than
	// attempting to reconcile which ones might still be valid.
	InvalidateAllOnReconnect bool `koanf:"invalidate_all_on_reconnect"`
}

// RPCClientConfig tunes the sticky RPC client's retry behavior.
type RPCClientConfig struct {
	// DefaultTimeout bounds each individual RPC attempt.
	DefaultTimeout time.Duration `koanf:"default_timeout"`
	// OverallTimeout bounds one CallActive invocation end to end,
	// including every retry and backoff wait. Must be >= DefaultTimeout
	// or the first attempt could never complete.
	OverallTimeout time.Duration `koanf:"overall_timeout"`
	MaxAttempts    int           `koanf:"max_attempts" validate:"min=1"`
	BackoffBase    time.Duration `koanf:"backoff_base"`
	BackoffMax     time.Duration `koanf:"backoff_max"`
	// JitterFraction is the fraction (0-1) of each backoff step randomized
	// to avoid thundering-herd re-resolution after a leader change.
	JitterFraction float64 `koanf:"jitter_fraction" validate:"min=0,max=1"`
}

// AdminConfig configures the admin HTTP surface (health, readiness,
// /metrics). It carries no business authority.
type AdminConfig struct {
	Host            string        `koanf:"host" validate:"required"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ShutdownGrace   time.Duration `koanf:"shutdown_grace"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins" validate:"min=1,dive,required"`
}

// LoggingConfig configures the zerolog-based logger (internal/logging).
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"required,oneof=trace debug info warn error fatal panic"`
	Format string `koanf:"format" validate:"required,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate enforces the timing invariants the coordination protocol
// depends on. It is called at the end of LoadWithKoanf so a
// misconfigured process fails fast at startup instead of behaving
// unpredictably once instances start heartbeating.
func (c *Config) Validate() error {
	// Field-level presence/range constraints (required, min/max, oneof)
	// run first via struct tags; the cross-field invariants below (which
	// validator's tag language can't express) run only once those hold.
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if c.Bus.Kind != BusKindNATS && c.Bus.Kind != BusKindInMemory {
		return fmt.Errorf("bus.kind: unknown value %q, want %q or %q", c.Bus.Kind, BusKindNATS, BusKindInMemory)
	}
	if c.Registry.HeartbeatInterval < time.Second {
		return fmt.Errorf("registry.heartbeat_interval: %s is below the 1s minimum", c.Registry.HeartbeatInterval)
	}
	if c.Registry.TTLMultiplier < 1 {
		return fmt.Errorf("registry.ttl_multiplier: must be >= 1, got %d", c.Registry.TTLMultiplier)
	}
	if c.Election.LeaderTTL <= c.Registry.HeartbeatInterval {
		return fmt.Errorf("election.leader_ttl: %s must be greater than registry.heartbeat_interval (%s)", c.Election.LeaderTTL, c.Registry.HeartbeatInterval)
	}
	if c.Election.RenewalInterval > c.Election.LeaderTTL/2 {
		return fmt.Errorf("election.renewal_interval: %s must be <= half of election.leader_ttl (%s)", c.Election.RenewalInterval, c.Election.LeaderTTL/2)
	}
	if c.Election.DefaultGroup == "" {
		return fmt.Errorf("election.default_group: must not be empty")
	}
	if c.RPCClient.MaxAttempts < 1 {
		return fmt.Errorf("rpc_client.max_attempts: must be >= 1, got %d", c.RPCClient.MaxAttempts)
	}
	if c.RPCClient.JitterFraction < 0 || c.RPCClient.JitterFraction > 1 {
		return fmt.Errorf("rpc_client.jitter_fraction: must be within [0,1], got %v", c.RPCClient.JitterFraction)
	}
	if c.RPCClient.OverallTimeout < c.RPCClient.DefaultTimeout {
		return fmt.Errorf("rpc_client.overall_timeout: %s must be >= rpc_client.default_timeout (%s)", c.RPCClient.OverallTimeout, c.RPCClient.DefaultTimeout)
	}
	if c.Bus.KVOpTimeout <= 0 {
		return fmt.Errorf("bus.kv_op_timeout: must be positive")
	}
	return nil
}
