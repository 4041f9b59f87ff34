// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

package kv

import (
	"context"
	"testing"

	"github.com/ryanflavor/aegis-trader/internal/bus"
	"github.com/ryanflavor/aegis-trader/internal/config"
)

func TestSanitizeRejectsReservedCharacters(t *testing.T) {
	cases := []string{"trader.a1", "trader*", "trader/a1", "trader a1"}
	for _, c := range cases {
		if _, err := Sanitize(c); err == nil {
			t.Errorf("Sanitize(%q) should have failed", c)
		}
	}
}

func TestSanitizeAcceptsPlainIdentifiers(t *testing.T) {
	got, err := Sanitize("trader-a1_b2")
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	if got != "trader-a1_b2" {
		t.Errorf("Sanitize returned %q, want input unchanged", got)
	}
}

func TestKeyBuilders(t *testing.T) {
	if got, want := InstanceKey("trader", "a1"), "service-instances.trader.a1"; got != want {
		t.Errorf("InstanceKey() = %q, want %q", got, want)
	}
	if got, want := InstancePattern("trader"), "service-instances.trader.*"; got != want {
		t.Errorf("InstancePattern() = %q, want %q", got, want)
	}
	if got, want := LeaderKey("trader.default"), "sticky-active.trader.default"; got != want {
		t.Errorf("LeaderKey() = %q, want %q", got, want)
	}
	if got, want := LeaderPattern(), "sticky-active.>"; got != want {
		t.Errorf("LeaderPattern() = %q, want %q", got, want)
	}
	if got, want := DefinitionKey("trader"), "service-definitions.trader"; got != want {
		t.Errorf("DefinitionKey() = %q, want %q", got, want)
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	b, err := bus.New(&config.Config{Bus: config.BusConfig{Kind: config.BusKindInMemory}})
	if err != nil {
		t.Fatalf("bus.New: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	kvBucket, err := b.KV(context.Background(), BucketServiceRegistry, 0)
	if err != nil {
		t.Fatalf("KV: %v", err)
	}
	return New(kvBucket)
}

func TestStoreCreateOutcomes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, outcome, err := s.Create(ctx, "sticky-active.trader.default", []byte("a"), 0)
	if err != nil || outcome != OutcomeOK {
		t.Fatalf("first Create: outcome=%v err=%v", outcome, err)
	}

	_, outcome, err = s.Create(ctx, "sticky-active.trader.default", []byte("b"), 0)
	if err != nil {
		t.Fatalf("second Create returned unclassified error: %v", err)
	}
	if outcome != OutcomeConflict {
		t.Errorf("second Create outcome = %v, want OutcomeConflict", outcome)
	}
}

func TestStoreCompareAndSwapOutcomes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rev, _, err := s.Create(ctx, "k", []byte("v1"), 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, outcome, err := s.CompareAndSwap(ctx, "k", []byte("v2"), rev, 0)
	if err != nil || outcome != OutcomeOK {
		t.Fatalf("CompareAndSwap with correct revision: outcome=%v err=%v", outcome, err)
	}

	_, outcome, err = s.CompareAndSwap(ctx, "k", []byte("v3"), rev, 0)
	if err != nil {
		t.Fatalf("CompareAndSwap with stale revision returned unclassified error: %v", err)
	}
	if outcome != OutcomeConflict {
		t.Errorf("stale CompareAndSwap outcome = %v, want OutcomeConflict", outcome)
	}
}

func TestStoreDeleteIfRevisionOutcomes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rev, _, err := s.Create(ctx, "sticky-active.trader.default", []byte("v1"), 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	outcome, err := s.DeleteIfRevision(ctx, "sticky-active.trader.default", rev+1)
	if err != nil {
		t.Fatalf("stale DeleteIfRevision returned unclassified error: %v", err)
	}
	if outcome != OutcomeConflict {
		t.Errorf("stale DeleteIfRevision outcome = %v, want OutcomeConflict", outcome)
	}

	outcome, err = s.DeleteIfRevision(ctx, "sticky-active.trader.default", rev)
	if err != nil || outcome != OutcomeOK {
		t.Fatalf("DeleteIfRevision with held revision: outcome=%v err=%v", outcome, err)
	}

	outcome, err = s.DeleteIfRevision(ctx, "sticky-active.trader.default", rev)
	if err != nil {
		t.Fatalf("DeleteIfRevision on missing key returned unclassified error: %v", err)
	}
	if outcome != OutcomeNotFound {
		t.Errorf("DeleteIfRevision on missing key outcome = %v, want OutcomeNotFound", outcome)
	}
}
