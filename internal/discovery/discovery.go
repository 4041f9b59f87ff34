// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

// Package discovery implements client-side service discovery: resolving
// the current sticky-active holder for a (service, group) pair, caching
// that resolution, and invalidating the cache on watch events, explicit
// hints (NOT_ACTIVE, transport error), and bus reconnects.
package discovery

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ryanflavor/aegis-trader/internal/bus"
	"github.com/ryanflavor/aegis-trader/internal/cache"
	"github.com/ryanflavor/aegis-trader/internal/config"
	"github.com/ryanflavor/aegis-trader/internal/kv"
	"github.com/ryanflavor/aegis-trader/internal/logging"
	"github.com/ryanflavor/aegis-trader/internal/metrics"
	"github.com/ryanflavor/aegis-trader/internal/model"
)

// ErrNoActiveHolder is returned by FindActive when no instance currently
// holds the sticky-active group.
var ErrNoActiveHolder = errors.New("discovery: no active holder for group")

// resolution is the cached outcome of resolving a sticky group.
type resolution struct {
	holder string
	term   uint64
}

// Cache is the client-side discovery cache. One Cache is normally shared
// by every sticky RPC client in a process.
type Cache struct {
	store *kv.Store
	bus   bus.Bus
	cfg   config.DiscoveryConfig
	cache cache.Cacher

	lastSeen map[string]model.LeaderRecord
}

// New builds a discovery cache over store, using bus only to observe
// reconnect events (see config.DiscoveryConfig.InvalidateAllOnReconnect).
func New(store *kv.Store, b bus.Bus, cfg config.DiscoveryConfig) *Cache {
	return &Cache{
		store:    store,
		bus:      b,
		cfg:      cfg,
		cache:    cache.NewTTL(cfg.CacheTTL),
		lastSeen: make(map[string]model.LeaderRecord),
	}
}

// FindActive resolves the current sticky-active holder's instance ID for
// (service, group), serving from cache when possible. An empty group
// resolves by scanning the registry for an ACTIVE instance of service
// instead of reading a leader record; with several ACTIVE entries
// visible (transient, during a handoff) the lexicographically lowest
// instance ID wins, so every caller converges on the same instance.
func (c *Cache) FindActive(ctx context.Context, service, group string) (string, uint64, error) {
	start := time.Now()
	groupKey := model.GroupKey(service, group)

	if v, ok := c.cache.Get(groupKey); ok {
		r := v.(resolution)
		metrics.RecordDiscoveryCacheHit(service)
		metrics.RecordFindActive(service, "hit", time.Since(start))
		return r.holder, r.term, nil
	}
	metrics.RecordDiscoveryCacheMiss(service)

	var res resolution
	if group == "" {
		holder, err := c.scanForActive(ctx, service)
		if err != nil {
			metrics.RecordFindActive(service, "not_found", time.Since(start))
			return "", 0, err
		}
		res = resolution{holder: holder}
	} else {
		entry, err := c.store.Get(ctx, kv.LeaderKey(groupKey))
		if err != nil {
			metrics.RecordFindActive(service, "not_found", time.Since(start))
			return "", 0, ErrNoActiveHolder
		}
		record, err := model.UnmarshalLeaderRecord(entry.Value)
		if err != nil {
			metrics.RecordFindActive(service, "not_found", time.Since(start))
			return "", 0, err
		}
		res = resolution{holder: record.Holder, term: record.Term}
	}

	c.cache.SetWithTTL(groupKey, res, c.cfg.CacheTTL)
	metrics.RecordFindActive(service, "resolved", time.Since(start))
	return res.holder, res.term, nil
}

func (c *Cache) scanForActive(ctx context.Context, service string) (string, error) {
	instances, err := c.ListHealthy(ctx, service)
	if err != nil {
		return "", err
	}
	holder := ""
	for _, instance := range instances {
		if instance.Status != model.StatusActive {
			continue
		}
		if holder == "" || instance.InstanceID < holder {
			holder = instance.InstanceID
		}
	}
	if holder == "" {
		return "", ErrNoActiveHolder
	}
	return holder, nil
}

// ListHealthy enumerates every instance of service whose last-reported
// status is ACTIVE or STANDBY, excluding UNHEALTHY and SHUTDOWN entries.
// Unparseable entries are silently dropped, matching the registry's own
// list() behavior.
func (c *Cache) ListHealthy(ctx context.Context, service string) ([]model.ServiceInstance, error) {
	keys, err := c.store.Keys(ctx, kv.InstancePattern(service))
	if err != nil {
		return nil, err
	}
	instances := make([]model.ServiceInstance, 0, len(keys))
	for _, key := range keys {
		entry, err := c.store.Get(ctx, key)
		if err != nil {
			continue
		}
		instance, err := model.UnmarshalInstance(entry.Value)
		if err != nil {
			logging.Warn().Err(err).Str("key", key).Msg("dropping unparseable registry entry")
			continue
		}
		if instance.Status == model.StatusActive || instance.Status == model.StatusStandby {
			instances = append(instances, instance)
		}
	}
	return instances, nil
}

// Invalidate drops the cached resolution for (service, group), used by a
// sticky RPC client that just received NOT_ACTIVE or a transport error
// from the cached holder.
func (c *Cache) Invalidate(service, group, reason string) {
	c.cache.Delete(model.GroupKey(service, group))
	metrics.RecordDiscoveryCacheInvalidation(service, reason)
}

// WatchLoop is the discovery cache's supervised consumer: it watches
// every sticky-active.* change and invalidates the affected group's
// cache entry, and invalidates every cached entry on a bus reconnect per
// config.DiscoveryConfig.InvalidateAllOnReconnect. It implements the
// discoveryWatcher interface internal/runtime supervises.
func (c *Cache) WatchLoop(ctx context.Context) error {
	watch, err := c.store.Watch(ctx, kv.LeaderPattern())
	if err != nil {
		return err
	}
	defer watch.Stop()

	reconnects := c.bus.Reconnects()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-watch.Updates():
			if !ok {
				return nil
			}
			c.handleLeaderEvent(entry)
		case _, ok := <-reconnects:
			if !ok {
				reconnects = nil
				continue
			}
			if c.cfg.InvalidateAllOnReconnect {
				c.cache.Clear()
				metrics.RecordDiscoveryCacheInvalidation("*", "reconnect")
			}
		}
	}
}

func (c *Cache) handleLeaderEvent(entry bus.KVEntry) {
	groupKey := strings.TrimPrefix(entry.Key, "sticky-active.")
	service, _, found := strings.Cut(groupKey, ".")
	if !found {
		service = groupKey
	}

	if entry.Op == bus.KVOpDelete {
		delete(c.lastSeen, groupKey)
		c.cache.Delete(groupKey)
		metrics.RecordDiscoveryCacheInvalidation(service, "watch")
		return
	}

	record, err := model.UnmarshalLeaderRecord(entry.Value)
	if err != nil {
		return
	}
	if prior, ok := c.lastSeen[groupKey]; ok && !preferRecord(prior, record) {
		return // stale out-of-order delivery; keep the better record we already saw
	}
	c.lastSeen[groupKey] = record
	c.cache.Delete(groupKey)
	metrics.RecordDiscoveryCacheInvalidation(service, "watch")
}

// preferRecord reports whether candidate should replace current as the
// authoritative view of a group's leader: highest term wins, and ties
// break on the lexicographically lowest holder ID for a deterministic
// resolution across instances observing the same two records.
func preferRecord(current, candidate model.LeaderRecord) bool {
	if candidate.Term != current.Term {
		return candidate.Term > current.Term
	}
	return candidate.Holder < current.Holder
}
