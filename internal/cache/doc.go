// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

/*
Package cache provides thread-safe in-memory caching with TTL support.

This package is the building block for discovery's sticky-instance cache
(see internal/discovery): it maps a lookup key to a value for a bounded
time, then lazily expires it.

# Overview

The cache provides:
  - Thread-safe concurrent access (sync.RWMutex)
  - Time-to-live (TTL) expiration for automatic cleanup
  - Simple key-value storage with any value type (interface{})
  - Lazy expiration checking (on Get operations), plus a background
    cleanup goroutine so long-idle entries don't linger in memory
  - One non-stdlib import: goccy/go-json, used by GenerateKey

# Usage Example

	c := cache.New(5 * time.Second)
	c.Set("trader.default", instanceID)
	if v, ok := c.Get("trader.default"); ok {
	    id := v.(string)
	}
	c.Delete("trader.default") // explicit invalidation

# Cache Invalidation

Two invalidation strategies apply:

 1. TTL-based expiration (automatic): entries expire after the configured
    TTL, checked lazily on Get and swept periodically in the background.
 2. Manual invalidation: Delete(key) drops a single entry immediately;
    Clear() drops everything. Discovery uses Delete on a NOT_ACTIVE reply
    or a leader-key watch event.

# Thread Safety

All cache methods are thread-safe using sync.RWMutex. Multiple goroutines
can safely access the cache concurrently.

# Limitations

No maximum size limit and no LRU eviction; entries are bounded only by
TTL. Acceptable here because the cache holds one entry per
(service, sticky_group) pair, a small and slowly-changing set.

# See Also

  - internal/discovery: sticky-instance cache built on this package
*/
package cache
