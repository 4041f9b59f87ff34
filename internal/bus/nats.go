// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

package bus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/ryanflavor/aegis-trader/internal/config"
	"github.com/ryanflavor/aegis-trader/internal/logging"
)

// natsBus adapts a NATS JetStream connection to the Bus port. Every KV
// and RPC call is wrapped in a circuit breaker so a degraded connection
// fails fast instead of stacking up blocked callers.
type natsBus struct {
	conn    *natsgo.Conn
	js      jetstream.JetStream
	breaker *gobreaker.CircuitBreaker[any]
	cfg     *config.Config

	mu         sync.Mutex
	reconnects chan struct{}
}

func newNATSBus(cfg *config.Config) (Bus, error) {
	nb := &natsBus{
		cfg:        cfg,
		breaker:    newCircuitBreaker("bus", cfg.Bus.CircuitBreaker),
		reconnects: make(chan struct{}, 1),
	}

	opts := []natsgo.Option{
		natsgo.Name(cfg.NATS.Name),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.NATS.MaxReconnects),
		natsgo.ReconnectWait(cfg.NATS.ReconnectWait),
		natsgo.Timeout(cfg.NATS.ConnectTimeout),
		natsgo.ReconnectHandler(func(_ *natsgo.Conn) {
			logging.Warn().Str("url", cfg.NATS.URL).Msg("bus: NATS connection reestablished")
			nb.signalReconnect()
		}),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			logging.Warn().Err(err).Msg("bus: NATS connection lost")
		}),
	}

	conn, err := natsgo.Connect(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("bus: connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus: create JetStream context: %w", err)
	}

	nb.conn = conn
	nb.js = js
	return nb, nil
}

func (n *natsBus) signalReconnect() {
	select {
	case n.reconnects <- struct{}{}:
	default:
	}
}

func (n *natsBus) Reconnects() <-chan struct{} {
	return n.reconnects
}

func (n *natsBus) Publish(_ context.Context, subject string, payload []byte) error {
	if !n.conn.IsConnected() {
		return ErrTransportDisconnected
	}
	if err := n.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("bus: publish %s: %w", subject, err)
	}
	return nil
}

func (n *natsBus) Subscribe(_ context.Context, subject string, mode Mode, queueGroup string, handler RawHandler) (func() error, error) {
	cb := func(msg *natsgo.Msg) {
		handler(msg.Subject, msg.Data)
	}

	var sub *natsgo.Subscription
	var err error
	if mode == ModeCompete {
		sub, err = n.conn.QueueSubscribe(subject, queueGroup, cb)
	} else {
		sub, err = n.conn.Subscribe(subject, cb)
	}
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe %s: %w", subject, err)
	}
	return sub.Unsubscribe, nil
}

func (n *natsBus) RPC(ctx context.Context, subject string, payload []byte, timeout time.Duration) ([]byte, error) {
	result, err := n.breaker.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if !n.conn.IsConnected() {
			return nil, ErrTransportDisconnected
		}
		reply, err := n.conn.RequestWithContext(callCtx, subject, payload)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, natsgo.ErrTimeout) {
				return nil, ErrOpTimeout
			}
			if errors.Is(err, natsgo.ErrNoResponders) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("bus: rpc %s: %w", subject, err)
		}
		return reply.Data, nil
	})
	recordBreakerOutcome("bus", err)
	if err != nil {
		var zero []byte
		return zero, err
	}
	return result.([]byte), nil
}

func (n *natsBus) HandleRPC(_ context.Context, subject string, mode Mode, queueGroup string, handler Handler) (func() error, error) {
	cb := func(msg *natsgo.Msg) {
		reply := handler(msg.Subject, msg.Data)
		if msg.Reply != "" {
			_ = n.conn.Publish(msg.Reply, reply)
		}
	}

	var sub *natsgo.Subscription
	var err error
	if mode == ModeCompete {
		sub, err = n.conn.QueueSubscribe(subject, queueGroup, cb)
	} else {
		sub, err = n.conn.Subscribe(subject, cb)
	}
	if err != nil {
		return nil, fmt.Errorf("bus: handle rpc %s: %w", subject, err)
	}
	return sub.Unsubscribe, nil
}

// limitMarkerTTL enables per-message TTLs on the bucket's underlying
// stream (a non-zero LimitMarkerTTL sets AllowMsgTTL on it), which is
// what lets each individual write carry its own Nats-TTL header. The
// marker duration itself only governs how long the server keeps
// tombstones for limit-removed keys.
const limitMarkerTTL = time.Minute

func (n *natsBus) KV(ctx context.Context, bucket string, ttl time.Duration) (KV, error) {
	kv, err := n.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:         bucket,
		TTL:            ttl,
		LimitMarkerTTL: limitMarkerTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("bus: create/update KV bucket %s: %w", bucket, err)
	}
	return &natsKV{kv: kv, js: n.js, bucket: bucket, breaker: n.breaker, opTimeout: n.cfg.Bus.KVOpTimeout}, nil
}

func (n *natsBus) Close() error {
	n.conn.Close()
	return nil
}

// natsKV adapts a jetstream.KeyValue bucket to the KV port. Reads,
// deletes, listing, and watches go through the KV client; TTL-carrying
// Put/Update writes go to the bucket's underlying stream subject
// directly, because the KV client only accepts a per-key TTL on Create
// (jetstream.KeyTTL) — a raw publish with the Nats-TTL header is how a
// heartbeat refresh or a leader renewal keeps its own expiry.
type natsKV struct {
	kv        jetstream.KeyValue
	js        jetstream.JetStream
	bucket    string
	breaker   *gobreaker.CircuitBreaker[any]
	opTimeout time.Duration
}

func (k *natsKV) subjectFor(key string) string {
	return "$KV." + k.bucket + "." + key
}

// opCtx bounds one KV operation with the configured kv_op_timeout so no
// coordination loop can block indefinitely behind a wedged transport.
func (k *natsKV) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if k.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, k.opTimeout)
}

// publishWrite performs one raw stream write with an optional per-message
// TTL and an optional CAS precondition on the key's last stream sequence
// (which is exactly the KV revision the client hands out). The returned
// sequence is the new revision.
func (k *natsKV) publishWrite(ctx context.Context, key string, value []byte, ttl time.Duration, expectedRevision *uint64) (uint64, error) {
	msg := natsgo.NewMsg(k.subjectFor(key))
	msg.Data = value
	if ttl > 0 {
		msg.Header.Set("Nats-TTL", ttl.String())
	}
	if expectedRevision != nil {
		msg.Header.Set("Nats-Expected-Last-Subject-Sequence", strconv.FormatUint(*expectedRevision, 10))
	}
	ack, err := k.js.PublishMsg(ctx, msg)
	if err != nil {
		if isWrongLastSequence(err) {
			return 0, ErrRevisionMismatch
		}
		return 0, err
	}
	return ack.Sequence, nil
}

func isWrongLastSequence(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func (k *natsKV) Get(ctx context.Context, key string) (KVEntry, error) {
	ctx, cancel := k.opCtx(ctx)
	defer cancel()
	result, err := k.breaker.Execute(func() (any, error) {
		entry, err := k.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		return entry, nil
	})
	recordBreakerOutcome("bus", err)
	if err != nil {
		return KVEntry{}, translateKVErr(err)
	}
	entry := result.(jetstream.KeyValueEntry)
	return KVEntry{Key: entry.Key(), Value: entry.Value(), Revision: entry.Revision(), Op: KVOpPut}, nil
}

func (k *natsKV) Put(ctx context.Context, key string, value []byte, ttl time.Duration) (uint64, error) {
	ctx, cancel := k.opCtx(ctx)
	defer cancel()
	result, err := k.breaker.Execute(func() (any, error) {
		if ttl > 0 {
			return k.publishWrite(ctx, key, value, ttl, nil)
		}
		return k.kv.Put(ctx, key, value)
	})
	recordBreakerOutcome("bus", err)
	if err != nil {
		return 0, translateKVErr(err)
	}
	return result.(uint64), nil
}

func (k *natsKV) Create(ctx context.Context, key string, value []byte, ttl time.Duration) (uint64, error) {
	ctx, cancel := k.opCtx(ctx)
	defer cancel()
	result, err := k.breaker.Execute(func() (any, error) {
		rev, err := k.kv.Create(ctx, key, value, kvTTLOpts(ttl)...)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyExists) {
				return nil, ErrAlreadyExists
			}
			return nil, err
		}
		return rev, nil
	})
	recordBreakerOutcome("bus", err)
	if err != nil {
		return 0, translateKVErr(err)
	}
	return result.(uint64), nil
}

func (k *natsKV) Update(ctx context.Context, key string, value []byte, expectedRevision uint64, ttl time.Duration) (uint64, error) {
	ctx, cancel := k.opCtx(ctx)
	defer cancel()
	result, err := k.breaker.Execute(func() (any, error) {
		if ttl > 0 {
			return k.publishWrite(ctx, key, value, ttl, &expectedRevision)
		}
		rev, err := k.kv.Update(ctx, key, value, expectedRevision)
		if err != nil {
			// The KV client reports a CAS failure as a generic API error;
			// Update is only ever called with a remembered revision, so
			// any rejection here is a revision mismatch.
			return nil, fmt.Errorf("%w: %v", ErrRevisionMismatch, err)
		}
		return rev, nil
	})
	recordBreakerOutcome("bus", err)
	if err != nil {
		return 0, translateKVErr(err)
	}
	return result.(uint64), nil
}

// kvTTLOpts builds the per-key TTL option for a Create. A zero ttl
// leaves the bucket's own default TTL in effect instead of forcing an
// explicit one.
func kvTTLOpts(ttl time.Duration) []jetstream.KVCreateOpt {
	if ttl <= 0 {
		return nil
	}
	return []jetstream.KVCreateOpt{jetstream.KeyTTL(ttl)}
}

func (k *natsKV) Delete(ctx context.Context, key string) error {
	ctx, cancel := k.opCtx(ctx)
	defer cancel()
	_, err := k.breaker.Execute(func() (any, error) {
		err := k.kv.Delete(ctx, key)
		if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, err
		}
		return nil, nil
	})
	recordBreakerOutcome("bus", err)
	if err != nil {
		return translateKVErr(err)
	}
	return nil
}

func (k *natsKV) DeleteIfRevision(ctx context.Context, key string, expectedRevision uint64) error {
	ctx, cancel := k.opCtx(ctx)
	defer cancel()
	_, err := k.breaker.Execute(func() (any, error) {
		err := k.kv.Delete(ctx, key, jetstream.LastRevision(expectedRevision))
		switch {
		case err == nil:
			return nil, nil
		case errors.Is(err, jetstream.ErrKeyNotFound):
			return nil, ErrNotFound
		case isWrongLastSequence(err):
			return nil, ErrRevisionMismatch
		default:
			return nil, err
		}
	})
	recordBreakerOutcome("bus", err)
	if err != nil {
		return translateKVErr(err)
	}
	return nil
}

func (k *natsKV) Keys(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := k.opCtx(ctx)
	defer cancel()
	result, err := k.breaker.Execute(func() (any, error) {
		lister, err := k.kv.ListKeysFiltered(ctx, pattern)
		if err != nil {
			if errors.Is(err, jetstream.ErrNoKeysFound) {
				return []string(nil), nil
			}
			return nil, fmt.Errorf("bus: list keys %s: %w", pattern, err)
		}
		var keys []string
		for key := range lister.Keys() {
			keys = append(keys, key)
		}
		return keys, nil
	})
	recordBreakerOutcome("bus", err)
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

func (k *natsKV) Watch(ctx context.Context, pattern string) (Watch, error) {
	// Deletes are not ignored: election and discovery both react to a
	// leader key's expiry/delete event.
	watcher, err := k.kv.Watch(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("bus: watch %s: %w", pattern, err)
	}

	w := &natsWatch{watcher: watcher, ch: make(chan KVEntry, 16), done: make(chan struct{})}
	go w.pump()
	return w, nil
}

func translateKVErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrRevisionMismatch), errors.Is(err, ErrTransportDisconnected), errors.Is(err, ErrOpTimeout):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return ErrOpTimeout
	default:
		return err
	}
}

type natsWatch struct {
	watcher jetstream.KeyWatcher
	ch      chan KVEntry
	done    chan struct{}
	once    sync.Once
}

func (w *natsWatch) pump() {
	defer close(w.ch)
	for {
		select {
		case <-w.done:
			return
		case entry, ok := <-w.watcher.Updates():
			if !ok {
				return
			}
			if entry == nil {
				// nil marks "caught up to current state"; not a change.
				continue
			}
			op := KVOpPut
			if entry.Operation() == jetstream.KeyValueDelete || entry.Operation() == jetstream.KeyValuePurge {
				op = KVOpDelete
			}
			select {
			case w.ch <- KVEntry{Key: entry.Key(), Value: entry.Value(), Revision: entry.Revision(), Op: op}:
			case <-w.done:
				return
			}
		}
	}
}

func (w *natsWatch) Updates() <-chan KVEntry { return w.ch }

func (w *natsWatch) Stop() error {
	w.once.Do(func() {
		close(w.done)
	})
	return w.watcher.Stop()
}
