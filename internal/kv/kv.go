// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

// Package kv is the thin typed layer above internal/bus's KV port:
// key sanitization, key pattern construction for the three key
// namespaces (service-instances, sticky-active, service-definitions)
// that share one bucket, and CAS outcomes the election coordinator
// reacts to directly rather than inspecting bus sentinel errors.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ryanflavor/aegis-trader/internal/bus"
)

// BucketServiceRegistry is the single JetStream KV bucket holding all
// three record kinds, namespaced by key prefix.
const BucketServiceRegistry = "service-registry"

// reservedChars are the characters the transport reserves for pattern
// separators and wildcards; a sanitized key must not contain them.
const reservedChars = ".*> /\t\n"

// Sanitize rejects a raw identifier (service name, instance ID, sticky
// group) that would corrupt the bucket's key namespace if embedded
// directly, e.g. an instance ID containing "." would be indistinguishable
// from a key separator.
func Sanitize(part string) (string, error) {
	if part == "" {
		return "", fmt.Errorf("kv: identifier must not be empty")
	}
	if strings.ContainsAny(part, reservedChars) {
		return "", fmt.Errorf("kv: identifier %q contains a reserved character", part)
	}
	return part, nil
}

// InstanceKey builds the registry key for one service instance.
func InstanceKey(service, instanceID string) string {
	return "service-instances." + service + "." + instanceID
}

// InstancePrefix builds the key prefix shared by every instance of service.
func InstancePrefix(service string) string {
	return "service-instances." + service + "."
}

// InstancePattern builds the watch/list pattern for every instance of service.
func InstancePattern(service string) string {
	return "service-instances." + service + ".*"
}

// LeaderKey builds the election key for a group key such as "trader.default".
func LeaderKey(groupKey string) string {
	return "sticky-active." + groupKey
}

// LeaderPattern builds the watch pattern over every group's leader key.
// A leader key carries two tokens after the prefix (service and sticky
// group), so the pattern needs the multi-token wildcard.
func LeaderPattern() string {
	return "sticky-active.>"
}

// DefinitionKey builds the management-plane key for a service definition.
func DefinitionKey(name string) string {
	return "service-definitions." + name
}

// Outcome classifies the result of a conditional write so callers branch
// on a typed value instead of re-inspecting bus sentinel errors.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeConflict
	OutcomeNotFound
	OutcomeUnavailable
)

// ClassifyWriteErr maps a bus write error (from Create/Update/Delete) to
// an Outcome. A nil error is OutcomeOK. Sentinels are matched with
// errors.Is, not ==: adapters may wrap them with context (the NATS
// adapter's Update path does), and a wrapped conflict is still a
// conflict.
func ClassifyWriteErr(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, bus.ErrAlreadyExists), errors.Is(err, bus.ErrRevisionMismatch):
		return OutcomeConflict
	case errors.Is(err, bus.ErrNotFound):
		return OutcomeNotFound
	default:
		return OutcomeUnavailable
	}
}

// Store wraps a bus.KV with sanitized-key helpers. It holds no state of
// its own beyond the underlying bus.KV handle.
type Store struct {
	kv bus.KV
}

// New wraps an already-opened bus.KV bucket.
func New(kv bus.KV) *Store {
	return &Store{kv: kv}
}

// Get reads the raw value and revision at key.
func (s *Store) Get(ctx context.Context, key string) (bus.KVEntry, error) {
	return s.kv.Get(ctx, key)
}

// Put writes value unconditionally. ttl is this write's own per-message
// TTL, independent of the bucket's default (zero uses that default).
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) (uint64, error) {
	return s.kv.Put(ctx, key, value, ttl)
}

// Create writes value only if key is absent, with its own per-message
// TTL (zero uses the bucket's default).
func (s *Store) Create(ctx context.Context, key string, value []byte, ttl time.Duration) (uint64, Outcome, error) {
	rev, err := s.kv.Create(ctx, key, value, ttl)
	return rev, ClassifyWriteErr(err), wrapUnclassified(err)
}

// CompareAndSwap writes value only if the stored revision equals
// expectedRevision, with its own per-message TTL (zero uses the
// bucket's default).
func (s *Store) CompareAndSwap(ctx context.Context, key string, value []byte, expectedRevision uint64, ttl time.Duration) (uint64, Outcome, error) {
	rev, err := s.kv.Update(ctx, key, value, expectedRevision, ttl)
	return rev, ClassifyWriteErr(err), wrapUnclassified(err)
}

// Delete removes key. Missing key is success.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.kv.Delete(ctx, key)
}

// DeleteIfRevision removes key only if the stored revision equals
// expectedRevision. A mismatch (the record was superseded) or a missing
// key (already expired or deleted) comes back as a typed Outcome.
func (s *Store) DeleteIfRevision(ctx context.Context, key string, expectedRevision uint64) (Outcome, error) {
	err := s.kv.DeleteIfRevision(ctx, key, expectedRevision)
	return ClassifyWriteErr(err), wrapUnclassified(err)
}

// Keys lists keys matching pattern.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	return s.kv.Keys(ctx, pattern)
}

// Watch streams change events for keys matching pattern.
func (s *Store) Watch(ctx context.Context, pattern string) (bus.Watch, error) {
	return s.kv.Watch(ctx, pattern)
}

// wrapUnclassified returns nil for the error cases ClassifyWriteErr
// already turned into a typed Outcome (so callers branch on Outcome,
// not err), and passes through anything else (genuine bugs, context
// cancellation) for the caller to log.
func wrapUnclassified(err error) error {
	switch {
	case err == nil,
		errors.Is(err, bus.ErrAlreadyExists),
		errors.Is(err, bus.ErrRevisionMismatch),
		errors.Is(err, bus.ErrNotFound):
		return nil
	default:
		return err
	}
}
