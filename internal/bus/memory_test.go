// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/ryanflavor/aegis-trader/internal/config"
)

func newTestBus(t *testing.T) Bus {
	t.Helper()
	b, err := New(&config.Config{Bus: config.BusConfig{Kind: config.BusKindInMemory}})
	if err != nil {
		t.Fatalf("New(in_memory): %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestInMemoryBusPublishSubscribeBroadcast(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	received := make(chan []byte, 2)
	unsub1, err := b.Subscribe(ctx, "events.trader.tick", ModeBroadcast, "", func(_ string, payload []byte) {
		received <- payload
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub1()
	unsub2, err := b.Subscribe(ctx, "events.trader.tick", ModeBroadcast, "", func(_ string, payload []byte) {
		received <- payload
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub2()

	if err := b.Publish(ctx, "events.trader.tick", []byte("tick")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for broadcast delivery")
		}
	}
}

func TestInMemoryBusRPC(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	unsub, err := b.HandleRPC(ctx, "rpc.trader.a1.PlaceOrder", ModeCompete, "trader", func(_ string, payload []byte) []byte {
		return append([]byte("ack:"), payload...)
	})
	if err != nil {
		t.Fatalf("HandleRPC: %v", err)
	}
	defer unsub()

	reply, err := b.RPC(ctx, "rpc.trader.a1.PlaceOrder", []byte("buy"), time.Second)
	if err != nil {
		t.Fatalf("RPC: %v", err)
	}
	if string(reply) != "ack:buy" {
		t.Errorf("reply = %q, want %q", reply, "ack:buy")
	}
}

func TestInMemoryBusRPCNoHandlerReturnsNotFound(t *testing.T) {
	b := newTestBus(t)
	_, err := b.RPC(context.Background(), "rpc.trader.none.Ping", nil, 100*time.Millisecond)
	if err != ErrNotFound {
		t.Errorf("RPC with no handler: err = %v, want %v", err, ErrNotFound)
	}
}

func TestInMemoryKVCreateThenCreateAgainFails(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()
	kv, err := b.KV(ctx, "service-registry", 0)
	if err != nil {
		t.Fatalf("KV: %v", err)
	}

	if _, err := kv.Create(ctx, "sticky-active.trader.default", []byte("a"), 0); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := kv.Create(ctx, "sticky-active.trader.default", []byte("b"), 0); err != ErrAlreadyExists {
		t.Errorf("second Create: err = %v, want %v", err, ErrAlreadyExists)
	}
}

func TestInMemoryKVUpdateRevisionMismatch(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()
	kv, err := b.KV(ctx, "service-registry", 0)
	if err != nil {
		t.Fatalf("KV: %v", err)
	}

	rev, err := kv.Create(ctx, "k", []byte("v1"), 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := kv.Update(ctx, "k", []byte("v2"), rev+99, 0); err != ErrRevisionMismatch {
		t.Errorf("Update with stale revision: err = %v, want %v", err, ErrRevisionMismatch)
	}
	if _, err := kv.Update(ctx, "k", []byte("v2"), rev, 0); err != nil {
		t.Errorf("Update with correct revision: %v", err)
	}
}

func TestInMemoryKVDeleteIfRevision(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()
	kv, err := b.KV(ctx, "service-registry", 0)
	if err != nil {
		t.Fatalf("KV: %v", err)
	}

	rev, err := kv.Create(ctx, "sticky-active.trader.default", []byte("a"), 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := kv.DeleteIfRevision(ctx, "sticky-active.trader.default", rev+1); err != ErrRevisionMismatch {
		t.Errorf("DeleteIfRevision with stale revision: err = %v, want %v", err, ErrRevisionMismatch)
	}
	if _, err := kv.Get(ctx, "sticky-active.trader.default"); err != nil {
		t.Fatalf("record should survive a mismatched delete: %v", err)
	}

	if err := kv.DeleteIfRevision(ctx, "sticky-active.trader.default", rev); err != nil {
		t.Errorf("DeleteIfRevision with held revision: %v", err)
	}
	if _, err := kv.Get(ctx, "sticky-active.trader.default"); err != ErrNotFound {
		t.Errorf("Get after CAS delete: err = %v, want %v", err, ErrNotFound)
	}

	if err := kv.DeleteIfRevision(ctx, "sticky-active.trader.default", rev); err != ErrNotFound {
		t.Errorf("DeleteIfRevision on missing key: err = %v, want %v", err, ErrNotFound)
	}
}

func TestInMemoryKVGetNotFound(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()
	kv, err := b.KV(ctx, "service-registry", 0)
	if err != nil {
		t.Fatalf("KV: %v", err)
	}
	if _, err := kv.Get(ctx, "missing"); err != ErrNotFound {
		t.Errorf("Get(missing): err = %v, want %v", err, ErrNotFound)
	}
}

func TestInMemoryKVTTLExpiry(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()
	kv, err := b.KV(ctx, "service-registry", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("KV: %v", err)
	}
	if _, err := kv.Put(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := kv.Get(ctx, "k"); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if _, err := kv.Get(ctx, "k"); err != ErrNotFound {
		t.Errorf("Get after expiry: err = %v, want %v", err, ErrNotFound)
	}
}

// TestInMemoryKVPerCallTTLOverridesBucketDefault confirms that one
// bucket can hold entries on two independent TTL policies at once — a
// short per-message TTL for one key, a much longer bucket default for
// another — since the registry and election coordinator share a single
// "service-registry" bucket but must expire on their own, unrelated
// schedules (heartbeat_interval-derived vs. LeaderTTL).
func TestInMemoryKVPerCallTTLOverridesBucketDefault(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()
	kv, err := b.KV(ctx, "service-registry", time.Minute)
	if err != nil {
		t.Fatalf("KV: %v", err)
	}

	if _, err := kv.Put(ctx, "short-lived", []byte("v"), 20*time.Millisecond); err != nil {
		t.Fatalf("Put with short per-call ttl: %v", err)
	}
	if _, err := kv.Put(ctx, "long-lived", []byte("v"), 0); err != nil {
		t.Fatalf("Put with bucket-default ttl: %v", err)
	}

	time.Sleep(40 * time.Millisecond)

	if _, err := kv.Get(ctx, "short-lived"); err != ErrNotFound {
		t.Errorf("short-lived Get after its own ttl elapsed: err = %v, want %v", err, ErrNotFound)
	}
	if _, err := kv.Get(ctx, "long-lived"); err != nil {
		t.Errorf("long-lived Get before the bucket's minute-long default ttl elapsed: %v", err)
	}
}

func TestInMemoryKVWatchDeliversPutAndDelete(t *testing.T) {
	b := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	kv, err := b.KV(ctx, "service-registry", 0)
	if err != nil {
		t.Fatalf("KV: %v", err)
	}

	w, err := kv.Watch(ctx, "sticky-active.trader.*")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Stop()

	if _, err := kv.Create(ctx, "sticky-active.trader.default", []byte("a"), 0); err != nil {
		t.Fatalf("Create: %v", err)
	}

	select {
	case e := <-w.Updates():
		if e.Op != KVOpPut {
			t.Errorf("first event Op = %v, want KVOpPut", e.Op)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for put event")
	}

	if err := kv.Delete(ctx, "sticky-active.trader.default"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	select {
	case e := <-w.Updates():
		if e.Op != KVOpDelete {
			t.Errorf("second event Op = %v, want KVOpDelete", e.Op)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delete event")
	}
}

func TestInMemoryKVKeysMatchesPattern(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()
	kv, err := b.KV(ctx, "service-registry", 0)
	if err != nil {
		t.Fatalf("KV: %v", err)
	}
	if _, err := kv.Put(ctx, "service-instances.trader.a1", []byte("x"), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := kv.Put(ctx, "service-instances.quotes.b1", []byte("x"), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}

	keys, err := kv.Keys(ctx, "service-instances.trader.*")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "service-instances.trader.a1" {
		t.Errorf("Keys() = %v, want [service-instances.trader.a1]", keys)
	}
}
