// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

package bus

import (
	"context"
	"errors"
	"time"
)

// Mode selects subscription fan-out semantics.
type Mode int

const (
	// ModeBroadcast delivers every message to every subscriber.
	ModeBroadcast Mode = iota
	// ModeCompete delivers each message to exactly one subscriber in the
	// given queue group.
	ModeCompete
)

// Sentinel errors surfaced at the port boundary. The port distinguishes
// no other failure modes; an adapter returns any other failure as its own
// wrapped error, which matches none of these sentinels.
var (
	ErrTransportDisconnected = errors.New("bus: transport disconnected")
	ErrOpTimeout             = errors.New("bus: operation timed out")
	ErrRevisionMismatch      = errors.New("bus: revision mismatch")
	ErrNotFound              = errors.New("bus: key not found")
	ErrAlreadyExists         = errors.New("bus: key already exists")
)

// Handler processes one inbound message and returns the reply payload.
// Handlers run on the adapter's dispatch goroutine(s) and receive no
// context, so a handler must not block indefinitely.
type Handler func(subject string, payload []byte) []byte

// RawHandler receives a message without producing a reply, used for
// publish/subscribe (as opposed to RPC) delivery.
type RawHandler func(subject string, payload []byte)

// KVOp identifies the kind of change a watch event represents.
type KVOp int

const (
	KVOpPut KVOp = iota
	KVOpDelete
)

// KVEntry is one keyspace entry as observed by a Get or a watch event.
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
	Op       KVOp
}

// Bus is the single seam between the coordination core and its
// transport. It must be safe for concurrent use — every supervised
// loop (heartbeat, renewal, watch consumer, RPC dispatch) shares one
// Bus instance.
type Bus interface {
	// Publish sends payload to subject with no reply expected.
	Publish(ctx context.Context, subject string, payload []byte) error

	// Subscribe registers handler for subject under the given Mode.
	// queueGroup is only consulted when mode is ModeCompete. It returns
	// an unsubscribe function.
	Subscribe(ctx context.Context, subject string, mode Mode, queueGroup string, handler RawHandler) (func() error, error)

	// RPC sends payload to subject and waits up to timeout for a reply.
	// Returns ErrOpTimeout on expiry, ErrTransportDisconnected if the
	// transport is unreachable.
	RPC(ctx context.Context, subject string, payload []byte, timeout time.Duration) ([]byte, error)

	// HandleRPC registers handler to answer RPC calls on subject. mode
	// chooses whether every instance answers (ModeBroadcast, rare for
	// RPC) or exactly one per queueGroup (ModeCompete, the normal case
	// for a service's own instance subject). Returns an unsubscribe
	// function.
	HandleRPC(ctx context.Context, subject string, mode Mode, queueGroup string, handler Handler) (func() error, error)

	// KV returns the typed-key-value surface for the given bucket,
	// creating it with the given default per-entry TTL if it does not
	// already exist. A zero ttl means entries with no per-call TTL of
	// their own never expire. The bucket also allows every write to
	// override this default with its own per-message TTL (see KV.Put /
	// KV.Create / KV.Update) — one bucket can therefore hold the
	// registry's heartbeat-derived TTL and the election's independent
	// LeaderTTL side by side.
	KV(ctx context.Context, bucket string, ttl time.Duration) (KV, error)

	// Reconnects returns a channel that receives a value every time the
	// underlying transport connection is reestablished after a drop.
	// internal/discovery uses this to invalidate its sticky cache.
	Reconnects() <-chan struct{}

	// Close releases all resources held by the bus.
	Close() error
}

// KV is the typed key-value surface a bucket exposes. Every key passed
// in must already be sanitized by internal/kv before it reaches here —
// the adapter does not re-validate.
type KV interface {
	// Get reads the current value and revision of key.
	// Returns ErrNotFound if the key does not exist (or has expired).
	Get(ctx context.Context, key string) (KVEntry, error)

	// Put writes value unconditionally, refreshing the entry's TTL. ttl
	// is this write's own per-message TTL; zero uses the bucket's
	// default TTL from KV (which may itself be "never expires").
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) (revision uint64, err error)

	// Create writes value only if key does not currently exist, with the
	// same per-message ttl semantics as Put. Returns ErrAlreadyExists if
	// the key is already present.
	Create(ctx context.Context, key string, value []byte, ttl time.Duration) (revision uint64, err error)

	// Update writes value only if the stored revision equals
	// expectedRevision, with the same per-message ttl semantics as Put.
	// Returns ErrRevisionMismatch otherwise.
	Update(ctx context.Context, key string, value []byte, expectedRevision uint64, ttl time.Duration) (revision uint64, err error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteIfRevision removes key only if the stored revision equals
	// expectedRevision, returning ErrRevisionMismatch otherwise. A
	// missing key is ErrNotFound. Lets a holder relinquish a record it
	// can prove it still owns without clobbering a successor's.
	DeleteIfRevision(ctx context.Context, key string, expectedRevision uint64) error

	// Keys lists every key in the bucket matching pattern (a
	// transport-native wildcard pattern, e.g. "service-instances.trader.*").
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Watch streams change events for keys matching pattern until ctx is
	// canceled or Stop is called on the returned Watch.
	Watch(ctx context.Context, pattern string) (Watch, error)
}

// Watch is a live change-feed over a key pattern.
type Watch interface {
	// Updates delivers one KVEntry per observed change. The channel is
	// closed when the watch is stopped or its context is canceled.
	Updates() <-chan KVEntry
	// Stop terminates the watch and releases its resources.
	Stop() error
}
