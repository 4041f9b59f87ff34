// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ryanflavor/aegis-trader/internal/config"
)

// inMemoryBus is a single-process Bus implementation with no external
// dependencies, used in tests and demos where no NATS server is
// available. It implements the exact same port as the NATS adapter so
// registry/election/discovery code is exercised identically either way.
type inMemoryBus struct {
	mu sync.Mutex

	subs map[string][]*memSub // subject -> subscribers (pub/sub)
	rpcs map[string][]*memSub // subject -> RPC handlers

	buckets map[string]*memBucket

	reconnects chan struct{}
	closed     bool
}

type memSub struct {
	mode       Mode
	queueGroup string
	rawHandler RawHandler
	rpcHandler Handler
	// round is this subscription's own rotation cursor. For ModeCompete
	// delivery (and for RPC dispatch) the cursor of the first matched
	// subscriber picks which member of the group receives the message.
	round *uint64
}

func newInMemoryBus(_ *config.Config) (Bus, error) {
	return &inMemoryBus{
		subs:       make(map[string][]*memSub),
		rpcs:       make(map[string][]*memSub),
		buckets:    make(map[string]*memBucket),
		reconnects: make(chan struct{}),
	}, nil
}

func (b *inMemoryBus) Publish(_ context.Context, subject string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrTransportDisconnected
	}
	var matched []*memSub
	for pattern, subs := range b.subs {
		if matchPattern(pattern, subject) {
			matched = append(matched, subs...)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	competeGroups := make(map[string][]*memSub)
	for _, s := range matched {
		if s.mode == ModeBroadcast {
			go s.rawHandler(subject, payload)
			continue
		}
		competeGroups[s.queueGroup] = append(competeGroups[s.queueGroup], s)
	}
	for _, group := range competeGroups {
		pick := group[0]
		idx := atomic.AddUint64(pick.round, 1) % uint64(len(group))
		chosen := group[idx]
		go chosen.rawHandler(subject, payload)
	}
	return nil
}

func (b *inMemoryBus) Subscribe(_ context.Context, subject string, mode Mode, queueGroup string, handler RawHandler) (func() error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrTransportDisconnected
	}
	round := new(uint64)
	s := &memSub{mode: mode, queueGroup: queueGroup, rawHandler: handler, round: round}
	b.subs[subject] = append(b.subs[subject], s)
	return func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs[subject] = removeSub(b.subs[subject], s)
		return nil
	}, nil
}

func (b *inMemoryBus) RPC(ctx context.Context, subject string, payload []byte, timeout time.Duration) ([]byte, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrTransportDisconnected
	}
	var handlers []*memSub
	for pattern, subs := range b.rpcs {
		if matchPattern(pattern, subject) {
			handlers = append(handlers, subs...)
		}
	}
	if len(handlers) == 0 {
		b.mu.Unlock()
		return nil, ErrNotFound
	}
	pick := handlers[0]
	idx := atomic.AddUint64(pick.round, 1) % uint64(len(handlers))
	chosen := handlers[idx]
	b.mu.Unlock()

	replyCh := make(chan []byte, 1)
	go func() {
		replyCh <- chosen.rpcHandler(subject, payload)
	}()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case reply := <-replyCh:
		return reply, nil
	case <-callCtx.Done():
		return nil, ErrOpTimeout
	}
}

func (b *inMemoryBus) HandleRPC(_ context.Context, subject string, mode Mode, queueGroup string, handler Handler) (func() error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrTransportDisconnected
	}
	round := new(uint64)
	s := &memSub{mode: mode, queueGroup: queueGroup, rpcHandler: handler, round: round}
	b.rpcs[subject] = append(b.rpcs[subject], s)
	return func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.rpcs[subject] = removeSub(b.rpcs[subject], s)
		return nil
	}, nil
}

func (b *inMemoryBus) KV(_ context.Context, bucket string, ttl time.Duration) (KV, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, ok := b.buckets[bucket]
	if !ok {
		bk = newMemBucket(ttl)
		b.buckets[bucket] = bk
	}
	return bk, nil
}

func (b *inMemoryBus) Reconnects() <-chan struct{} {
	return b.reconnects
}

func (b *inMemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, bk := range b.buckets {
		bk.closeAllWatches()
	}
	return nil
}

func removeSub(subs []*memSub, target *memSub) []*memSub {
	out := subs[:0]
	for _, s := range subs {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

// memBucket is an in-memory KV bucket with lazy TTL expiry.
type memBucket struct {
	mu       sync.Mutex
	ttl      time.Duration
	revision uint64
	entries  map[string]*memEntry
	watches  []*memWatch
}

type memEntry struct {
	value    []byte
	revision uint64
	expires  time.Time // zero means no TTL
}

func newMemBucket(ttl time.Duration) *memBucket {
	return &memBucket{ttl: ttl, entries: make(map[string]*memEntry)}
}

func (bk *memBucket) expired(e *memEntry) bool {
	return !e.expires.IsZero() && time.Now().After(e.expires)
}

// expiryFor computes one write's expiry: an explicit per-call ttl
// overrides the bucket's default, mirroring the NATS adapter's
// per-message TTL (Nats-TTL header) taking precedence over the
// bucket-wide default set at KV-open time.
func (bk *memBucket) expiryFor(ttl time.Duration) time.Time {
	d := ttl
	if d <= 0 {
		d = bk.ttl
	}
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

func (bk *memBucket) Get(_ context.Context, key string) (KVEntry, error) {
	bk.mu.Lock()
	defer bk.mu.Unlock()
	e, ok := bk.entries[key]
	if !ok || bk.expired(e) {
		return KVEntry{}, ErrNotFound
	}
	return KVEntry{Key: key, Value: e.value, Revision: e.revision, Op: KVOpPut}, nil
}

func (bk *memBucket) Put(_ context.Context, key string, value []byte, ttl time.Duration) (uint64, error) {
	bk.mu.Lock()
	bk.revision++
	rev := bk.revision
	bk.entries[key] = &memEntry{value: value, revision: rev, expires: bk.expiryFor(ttl)}
	bk.mu.Unlock()
	bk.notify(KVEntry{Key: key, Value: value, Revision: rev, Op: KVOpPut})
	return rev, nil
}

func (bk *memBucket) Create(_ context.Context, key string, value []byte, ttl time.Duration) (uint64, error) {
	bk.mu.Lock()
	if e, ok := bk.entries[key]; ok && !bk.expired(e) {
		bk.mu.Unlock()
		return 0, ErrAlreadyExists
	}
	bk.revision++
	rev := bk.revision
	bk.entries[key] = &memEntry{value: value, revision: rev, expires: bk.expiryFor(ttl)}
	bk.mu.Unlock()
	bk.notify(KVEntry{Key: key, Value: value, Revision: rev, Op: KVOpPut})
	return rev, nil
}

func (bk *memBucket) Update(_ context.Context, key string, value []byte, expectedRevision uint64, ttl time.Duration) (uint64, error) {
	bk.mu.Lock()
	e, ok := bk.entries[key]
	if !ok || bk.expired(e) {
		bk.mu.Unlock()
		return 0, ErrNotFound
	}
	if e.revision != expectedRevision {
		bk.mu.Unlock()
		return 0, ErrRevisionMismatch
	}
	bk.revision++
	rev := bk.revision
	bk.entries[key] = &memEntry{value: value, revision: rev, expires: bk.expiryFor(ttl)}
	bk.mu.Unlock()
	bk.notify(KVEntry{Key: key, Value: value, Revision: rev, Op: KVOpPut})
	return rev, nil
}

func (bk *memBucket) Delete(_ context.Context, key string) error {
	bk.mu.Lock()
	_, existed := bk.entries[key]
	delete(bk.entries, key)
	bk.mu.Unlock()
	if existed {
		bk.notify(KVEntry{Key: key, Op: KVOpDelete})
	}
	return nil
}

func (bk *memBucket) DeleteIfRevision(_ context.Context, key string, expectedRevision uint64) error {
	bk.mu.Lock()
	e, ok := bk.entries[key]
	if !ok || bk.expired(e) {
		bk.mu.Unlock()
		return ErrNotFound
	}
	if e.revision != expectedRevision {
		bk.mu.Unlock()
		return ErrRevisionMismatch
	}
	delete(bk.entries, key)
	bk.mu.Unlock()
	bk.notify(KVEntry{Key: key, Op: KVOpDelete})
	return nil
}

func (bk *memBucket) Keys(_ context.Context, pattern string) ([]string, error) {
	bk.mu.Lock()
	defer bk.mu.Unlock()
	var out []string
	for k, e := range bk.entries {
		if bk.expired(e) {
			continue
		}
		if matchPattern(pattern, k) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (bk *memBucket) Watch(ctx context.Context, pattern string) (Watch, error) {
	w := &memWatch{bk: bk, pattern: pattern, ch: make(chan KVEntry, 16), stop: make(chan struct{})}
	bk.mu.Lock()
	bk.watches = append(bk.watches, w)
	bk.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = w.Stop()
		case <-w.stop:
		}
	}()
	return w, nil
}

// notify fans one change event out to every matching watch. Sends are
// non-blocking (a slow consumer drops events, consistent with the
// at-most-once delivery contract of the port) and happen under bk.mu so
// a concurrent Stop cannot close a channel mid-send.
func (bk *memBucket) notify(e KVEntry) {
	bk.mu.Lock()
	defer bk.mu.Unlock()
	for _, w := range bk.watches {
		if matchPattern(w.pattern, e.Key) {
			select {
			case w.ch <- e:
			default:
			}
		}
	}
}

func (bk *memBucket) closeAllWatches() {
	bk.mu.Lock()
	watches := make([]*memWatch, len(bk.watches))
	copy(watches, bk.watches)
	bk.mu.Unlock()
	for _, w := range watches {
		_ = w.Stop()
	}
}

type memWatch struct {
	bk       *memBucket
	pattern  string
	ch       chan KVEntry
	stop     chan struct{}
	stopOnce sync.Once
}

func (w *memWatch) Updates() <-chan KVEntry { return w.ch }

// Stop detaches the watch from its bucket and closes the update channel.
// The channel close happens under the bucket lock, after removal, so no
// notify can be sending on it.
func (w *memWatch) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stop)
		w.bk.mu.Lock()
		for i, cand := range w.bk.watches {
			if cand == w {
				w.bk.watches = append(w.bk.watches[:i], w.bk.watches[i+1:]...)
				break
			}
		}
		close(w.ch)
		w.bk.mu.Unlock()
	})
	return nil
}

// matchPattern implements the subset of NATS-style wildcard matching
// the core relies on: an exact match, a trailing "*" that matches
// exactly one remaining "."-separated token, or a trailing ">" that
// matches one or more remaining tokens.
func matchPattern(pattern, key string) bool {
	if pattern == key {
		return true
	}
	if len(pattern) == 0 {
		return false
	}
	last := pattern[len(pattern)-1]
	if last != '*' && last != '>' {
		return false
	}
	prefix := pattern[:len(pattern)-1]
	if len(key) < len(prefix) || key[:len(prefix)] != prefix {
		return false
	}
	rest := key[len(prefix):]
	if rest == "" {
		return false
	}
	if last == '>' {
		return true
	}
	for _, r := range rest {
		if r == '.' {
			return false
		}
	}
	return true
}
