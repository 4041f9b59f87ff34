// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

// Package registry implements the ServiceRegistry: register, heartbeat,
// deregister, and list operations over the shared KV bucket, keyed by
// internal/kv's service-instances.<service>.<instance_id> layout.
package registry

import (
	"context"
	"time"

	"github.com/ryanflavor/aegis-trader/internal/kv"
	"github.com/ryanflavor/aegis-trader/internal/logging"
	"github.com/ryanflavor/aegis-trader/internal/metrics"
	"github.com/ryanflavor/aegis-trader/internal/model"
)

// Registry is the service-instance directory. One Registry is shared by
// every instance running in a process; instances of different services
// all land in the same KV bucket under distinct key prefixes.
type Registry struct {
	store *kv.Store
	ttl   time.Duration
}

// New wraps a kv.Store opened against the service-registry bucket. ttl is
// the record lifetime applied to every Register/Heartbeat write —
// typically config.RegistryConfig.TTL(), heartbeat_interval times a
// multiplier so one missed heartbeat doesn't evict a live instance.
func New(store *kv.Store, ttl time.Duration) *Registry {
	return &Registry{store: store, ttl: ttl}
}

// Register publishes a new instance record, or replaces a stale one at
// the same (service, instance_id). Registration is a plain put rather
// than a kvCreate: a process restarting with the same instance ID must
// be able to re-register without first waiting out the old record's TTL.
func (r *Registry) Register(ctx context.Context, instance model.ServiceInstance) error {
	start := time.Now()
	instance.LastHeartbeat = time.Now()
	err := r.write(ctx, instance)
	metrics.RecordRegistryOperation("register", time.Since(start))
	metrics.RecordHeartbeat(instance.ServiceName, err)
	if err != nil {
		logging.Error().Err(err).
			Str("service", instance.ServiceName).
			Str("instance_id", instance.InstanceID).
			Msg("service registration failed")
		return err
	}
	logging.Info().
		Str("service", instance.ServiceName).
		Str("instance_id", instance.InstanceID).
		Str("status", string(instance.Status)).
		Msg("service registered")
	return nil
}

// Heartbeat refreshes an already-registered instance's record and TTL.
// Callers are expected to invoke this on a fixed interval strictly below
// the TTL passed to New, so a single delayed write never evicts a live
// instance.
func (r *Registry) Heartbeat(ctx context.Context, instance model.ServiceInstance) error {
	start := time.Now()
	instance.LastHeartbeat = time.Now()
	err := r.write(ctx, instance)
	metrics.RecordRegistryOperation("heartbeat", time.Since(start))
	metrics.RecordHeartbeat(instance.ServiceName, err)
	if err != nil {
		logging.Warn().Err(err).
			Str("service", instance.ServiceName).
			Str("instance_id", instance.InstanceID).
			Msg("heartbeat write failed")
	}
	return err
}

func (r *Registry) write(ctx context.Context, instance model.ServiceInstance) error {
	payload, err := model.MarshalInstance(instance)
	if err != nil {
		return err
	}
	key := kv.InstanceKey(instance.ServiceName, instance.InstanceID)
	_, err = r.store.Put(ctx, key, payload, r.ttl)
	return err
}

// Deregister removes an instance's record. Deregistration is idempotent:
// removing an already-absent key is not an error, since a crashed
// instance racing its own TTL expiry against an orderly shutdown attempt
// must not surface a spurious failure.
func (r *Registry) Deregister(ctx context.Context, service, instanceID string) error {
	start := time.Now()
	err := r.store.Delete(ctx, kv.InstanceKey(service, instanceID))
	metrics.RecordRegistryOperation("deregister", time.Since(start))
	if err != nil {
		logging.Error().Err(err).
			Str("service", service).
			Str("instance_id", instanceID).
			Msg("deregistration failed")
		return err
	}
	logging.Info().
		Str("service", service).
		Str("instance_id", instanceID).
		Msg("service deregistered")
	return nil
}

// List enumerates every live instance of service. An empty service lists
// every instance of every service in the registry. Entries that fail to
// parse are dropped from the result and logged at warning rather than
// failing the whole call — a single corrupt record must not blind every
// caller to the rest of a healthy registry.
func (r *Registry) List(ctx context.Context, service string) ([]model.ServiceInstance, error) {
	start := time.Now()
	pattern := kv.InstancePattern(service)
	if service == "" {
		pattern = "service-instances.>"
	}
	keys, err := r.store.Keys(ctx, pattern)
	if err != nil {
		metrics.RecordRegistryOperation("list", time.Since(start))
		return nil, err
	}

	instances := make([]model.ServiceInstance, 0, len(keys))
	for _, key := range keys {
		entry, err := r.store.Get(ctx, key)
		if err != nil {
			// Expired between Keys() and Get(); not an error for the caller.
			continue
		}
		instance, err := model.UnmarshalInstance(entry.Value)
		if err != nil {
			logging.Warn().Err(err).Str("key", key).Msg("dropping unparseable registry entry")
			continue
		}
		instances = append(instances, instance)
	}

	metrics.RecordRegistryOperation("list", time.Since(start))
	if service != "" {
		metrics.SetRegistryInstanceCount(service, len(instances))
	}
	return instances, nil
}
