// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

// Package rpcclient implements the sticky RPC client: CallActive
// resolves a sticky group's active holder via internal/discovery,
// issues the call on rpc.<service>.<instance>.<method>, and retries
// with jittered backoff on NOT_ACTIVE, timeout, or transport error,
// re-resolving the holder on every retry.
package rpcclient

import (
	"context"
	"math/rand"
	"time"

	"github.com/ryanflavor/aegis-trader/internal/bus"
	"github.com/ryanflavor/aegis-trader/internal/config"
	"github.com/ryanflavor/aegis-trader/internal/discovery"
	"github.com/ryanflavor/aegis-trader/internal/errs"
	"github.com/ryanflavor/aegis-trader/internal/logging"
	"github.com/ryanflavor/aegis-trader/internal/metrics"
)

// Client is a sticky RPC client bound to one bus and discovery cache. A
// process normally builds one Client and reuses it for every outbound
// call to any single-active service.
type Client struct {
	bus       bus.Bus
	discovery *discovery.Cache
	cfg       config.RPCClientConfig
}

// New builds a sticky RPC client.
func New(b bus.Bus, disc *discovery.Cache, cfg config.RPCClientConfig) *Client {
	return &Client{bus: b, discovery: disc, cfg: cfg}
}

// CallActive resolves the active holder of (service, group) and invokes
// method on it, retrying up to cfg.MaxAttempts times on NOT_ACTIVE,
// timeout, or transport error — re-resolving the holder before each
// retry so a failover during the call is followed transparently.
// ctx bounds the entire call, including every retry and backoff.
func (c *Client) CallActive(ctx context.Context, service, group, method string, payload []byte) ([]byte, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.OverallTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			metrics.RecordRPCRetry(service)
			if err := c.backoff(ctx, attempt); err != nil {
				metrics.RecordRPCCall(service, method, time.Since(start))
				return nil, err
			}
		}

		reply, outcome, err := c.attempt(ctx, service, group, method, payload)
		switch outcome {
		case outcomeSuccess:
			metrics.RecordRPCAttempt(service, method, "success")
			metrics.RecordRPCCall(service, method, time.Since(start))
			return reply, nil
		case outcomeApplicationError:
			metrics.RecordRPCAttempt(service, method, "application_error")
			metrics.RecordRPCCall(service, method, time.Since(start))
			return nil, err
		default:
			metrics.RecordRPCAttempt(service, method, string(outcome))
			lastErr = err
		}
	}

	metrics.RecordRPCCall(service, method, time.Since(start))
	logging.Warn().Err(lastErr).Str("service", service).Str("method", method).
		Msg("sticky RPC call exhausted retries")
	return nil, errs.Unavailable(service)
}

// MethodSubject builds the subject addressing one method on one
// instance: rpc.<service>.<instance>.<method>. Instance runtimes
// subscribe to the matching rpc.<service>.<instance>.* wildcard.
func MethodSubject(service, instanceID, method string) string {
	return "rpc." + service + "." + instanceID + "." + method
}

type attemptOutcome string

const (
	outcomeSuccess          attemptOutcome = "success"
	outcomeApplicationError attemptOutcome = "application_error"
	outcomeNotActive        attemptOutcome = "not_active"
	outcomeTimeout          attemptOutcome = "timeout"
	outcomeTransportError   attemptOutcome = "transport_error"
)

func (c *Client) attempt(ctx context.Context, service, group, method string, payload []byte) ([]byte, attemptOutcome, error) {
	holder, _, err := c.discovery.FindActive(ctx, service, group)
	if err != nil {
		return nil, outcomeTransportError, err
	}

	reply, err := c.bus.RPC(ctx, MethodSubject(service, holder, method), payload, c.cfg.DefaultTimeout)
	if err != nil {
		reason := "transport_error"
		outcome := outcomeTransportError
		if err == bus.ErrOpTimeout {
			reason = "timeout"
			outcome = outcomeTimeout
		}
		c.discovery.Invalidate(service, group, reason)
		return nil, outcome, err
	}

	if decoded, ok := errs.Decode(reply); ok {
		if decoded.Code == errs.CodeNotActive {
			c.discovery.Invalidate(service, group, "not_active")
			return nil, outcomeNotActive, decoded
		}
		return nil, outcomeApplicationError, decoded
	}

	return reply, outcomeSuccess, nil
}

// backoff waits a jittered, exponentially increasing delay before the
// next attempt, or returns ctx's error if it ends first.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	d := c.cfg.BackoffBase << uint(attempt-1)
	if d > c.cfg.BackoffMax || d <= 0 {
		d = c.cfg.BackoffMax
	}
	if c.cfg.JitterFraction > 0 {
		d += time.Duration(rand.Int63n(int64(float64(d) * c.cfg.JitterFraction)))
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
