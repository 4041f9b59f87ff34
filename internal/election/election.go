// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

// Package election implements the sticky single-active leader-election
// FSM: acquisition via an atomic KV create, renewal via compare-and-swap
// on the held revision, and standby monitoring via a KV watch backed by
// a poll fallback. Exactly one instance per (service, sticky group) is
// ever ACTIVE at a time; every other instance is STANDBY.
package election

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/ryanflavor/aegis-trader/internal/bus"
	"github.com/ryanflavor/aegis-trader/internal/config"
	"github.com/ryanflavor/aegis-trader/internal/kv"
	"github.com/ryanflavor/aegis-trader/internal/logging"
	"github.com/ryanflavor/aegis-trader/internal/metrics"
	"github.com/ryanflavor/aegis-trader/internal/model"
)

// State is a coordinator's position in the election FSM.
type State int

const (
	StateStandby State = iota
	StateActive
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	default:
		return "standby"
	}
}

func (s State) gaugeValue() float64 {
	switch s {
	case StateActive:
		return metrics.ElectionStateActive
	case StateStopped:
		return metrics.ElectionStateStopped
	default:
		return metrics.ElectionStateStandby
	}
}

// Coordinator runs the election FSM for one (service, sticky group) on
// behalf of one instance. Run blocks until ctx is canceled; a caller
// observes state transitions via Transitions.
type Coordinator struct {
	store    *kv.Store
	groupKey string
	holder   string
	cfg      config.ElectionConfig

	mu               sync.RWMutex
	state            State
	term             uint64
	revision         uint64
	haveObservedTerm bool

	transitions chan State
}

// New builds a Coordinator for groupKey (see model.GroupKey), identifying
// this process as holder (its instance ID) if it becomes active.
func New(store *kv.Store, groupKey, holder string, cfg config.ElectionConfig) *Coordinator {
	return &Coordinator{
		store:       store,
		groupKey:    groupKey,
		holder:      holder,
		cfg:         cfg,
		state:       StateStandby,
		transitions: make(chan State, 1),
	}
}

// State returns the coordinator's current FSM state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Term returns the term last observed or held by this coordinator.
func (c *Coordinator) Term() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.term
}

// Transitions streams every state this coordinator enters, most recent
// buffered if the caller is not currently reading.
func (c *Coordinator) Transitions() <-chan State {
	return c.transitions
}

func (c *Coordinator) setState(next State) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	term := c.term
	c.mu.Unlock()

	if prev == next {
		return
	}
	metrics.RecordElectionTransition(c.groupKey, prev.String(), next.String(), next.gaugeValue())
	metrics.SetElectionTerm(c.groupKey, term)
	logging.Info().
		Str("group", c.groupKey).
		Str("from", prev.String()).
		Str("to", next.String()).
		Uint64("term", term).
		Msg("election state transition")

	select {
	case c.transitions <- next:
	default:
		select {
		case <-c.transitions:
		default:
		}
		c.transitions <- next
	}
}

// Run drives the FSM until ctx is canceled: attempt acquisition, and if
// unsuccessful, watch the leader record for it to disappear and retry.
// An active coordinator renews its record on RenewalInterval until ctx
// ends or a renewal loses the race, at which point it falls back to
// standby rather than returning.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.setState(StateStopped)
	for {
		acquired, err := c.tryAcquire(ctx)
		if err != nil {
			return err
		}
		if acquired {
			if err := c.holdActive(ctx); err != nil {
				return err
			}
			continue
		}
		if err := c.waitForVacancy(ctx); err != nil {
			return err
		}
	}
}

// tryAcquire attempts the atomic create that wins leadership. term is
// priorTerm+1 if this coordinator has ever observed a record for this
// group, or 0 for a never-before-held group.
func (c *Coordinator) tryAcquire(ctx context.Context) (bool, error) {
	start := time.Now()
	c.mu.RLock()
	term := uint64(0)
	if c.haveObservedTerm {
		term = c.term + 1
	}
	c.mu.RUnlock()

	record := model.LeaderRecord{
		GroupKey: c.groupKey,
		Holder:   c.holder,
		Term:     term,
		Acquired: time.Now(),
	}
	payload, err := model.MarshalLeaderRecord(record)
	if err != nil {
		return false, err
	}

	rev, outcome, err := c.store.Create(ctx, kv.LeaderKey(c.groupKey), payload, c.cfg.LeaderTTL)
	switch outcome {
	case kv.OutcomeOK:
		c.mu.Lock()
		c.term = term
		c.revision = rev
		c.haveObservedTerm = true
		c.mu.Unlock()
		metrics.RecordAcquireAttempt(c.groupKey, "created", time.Since(start))
		c.setState(StateActive)
		return true, nil
	case kv.OutcomeConflict:
		c.observeCurrentRecord(ctx)
		metrics.RecordAcquireAttempt(c.groupKey, "exists", time.Since(start))
		return false, nil
	default:
		metrics.RecordAcquireAttempt(c.groupKey, "error", time.Since(start))
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		logging.Warn().Err(err).Str("group", c.groupKey).Msg("acquisition attempt failed; retrying")
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(jitteredBackoff(c.cfg.StandbyPollInterval, 0.2)):
		}
		return false, nil
	}
}

// maxConsecutiveRenewalFailures bounds how many transport-failed
// renewals an active holder tolerates before self-demoting. With the
// record unrefreshed it will expire at LeaderTTL anyway; continuing to
// serve as ACTIVE past that point while unable to prove ownership would
// trade safety for liveness.
const maxConsecutiveRenewalFailures = 3

// holdActive renews the leader record every RenewalInterval until a
// renewal is lost (revision mismatch, or the record is gone — another
// instance must have raced in after a missed renewal), transport errors
// persist past the failure bound, or ctx ends.
func (c *Coordinator) holdActive(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.RenewalInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			c.relinquish(context.Background())
			return ctx.Err()
		case <-ticker.C:
			switch c.renew(ctx) {
			case renewOK:
				failures = 0
			case renewLost:
				c.setState(StateStandby)
				return nil
			case renewTransportError:
				failures++
				if failures >= maxConsecutiveRenewalFailures {
					logging.Warn().Str("group", c.groupKey).Int("failures", failures).
						Msg("renewal failing persistently; self-demoting to standby")
					c.setState(StateStandby)
					return nil
				}
			}
		}
	}
}

type renewOutcome int

const (
	renewOK renewOutcome = iota
	renewLost
	renewTransportError
)

func (c *Coordinator) renew(ctx context.Context) renewOutcome {
	c.mu.RLock()
	term, revision := c.term, c.revision
	c.mu.RUnlock()

	record := model.LeaderRecord{GroupKey: c.groupKey, Holder: c.holder, Term: term, Acquired: time.Now()}
	payload, err := model.MarshalLeaderRecord(record)
	if err != nil {
		metrics.RecordRenewal(c.groupKey, "error")
		return renewLost
	}

	rev, outcome, err := c.store.CompareAndSwap(ctx, kv.LeaderKey(c.groupKey), payload, revision, c.cfg.LeaderTTL)
	switch outcome {
	case kv.OutcomeOK:
		c.mu.Lock()
		c.revision = rev
		c.mu.Unlock()
		metrics.RecordRenewal(c.groupKey, "ok")
		return renewOK
	case kv.OutcomeConflict, kv.OutcomeNotFound:
		metrics.RecordRenewal(c.groupKey, "revision_mismatch")
		logging.Warn().Str("group", c.groupKey).Msg("lost leadership renewal race; stepping down")
		return renewLost
	default:
		metrics.RecordRenewal(c.groupKey, "transport_error")
		logging.Warn().Err(err).Str("group", c.groupKey).Msg("renewal attempt failed")
		return renewTransportError
	}
}

// waitForVacancy blocks until the leader record disappears, via a watch
// on the exact key backed by a poll fallback at StandbyPollInterval in
// case a watch event is missed.
func (c *Coordinator) waitForVacancy(ctx context.Context) error {
	c.setState(StateStandby)

	watch, err := c.store.Watch(ctx, kv.LeaderKey(c.groupKey))
	if err != nil {
		return c.pollOnly(ctx)
	}
	defer watch.Stop()

	poll := time.NewTicker(c.cfg.StandbyPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-watch.Updates():
			if !ok {
				return c.pollOnly(ctx)
			}
			if entry.Op == bus.KVOpDelete {
				return nil
			}
			c.observeRecordBytes(entry.Value)
		case <-poll.C:
			if c.leaderRecordGone(ctx) {
				return nil
			}
		}
	}
}

func (c *Coordinator) pollOnly(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.StandbyPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if c.leaderRecordGone(ctx) {
				return nil
			}
		}
	}
}

func (c *Coordinator) leaderRecordGone(ctx context.Context) bool {
	_, err := c.store.Get(ctx, kv.LeaderKey(c.groupKey))
	if err == nil {
		return false
	}
	return true
}

func (c *Coordinator) observeCurrentRecord(ctx context.Context) {
	entry, err := c.store.Get(ctx, kv.LeaderKey(c.groupKey))
	if err != nil {
		return
	}
	c.observeRecordBytes(entry.Value)
}

func (c *Coordinator) observeRecordBytes(data []byte) {
	record, err := model.UnmarshalLeaderRecord(data)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.term = record.Term
	c.haveObservedTerm = true
	c.mu.Unlock()
	metrics.SetElectionTerm(c.groupKey, record.Term)
}

// relinquish deletes the leader record on a graceful shutdown so the
// next acquisition doesn't wait out the full TTL. The delete is CAS'd
// on the held revision: if another instance has already superseded this
// record, it is theirs to keep. An unconditional delete is the last
// resort for transport errors only — failure is logged either way and
// never blocks shutdown, since TTL will reap the record regardless.
func (c *Coordinator) relinquish(ctx context.Context) {
	c.mu.RLock()
	revision := c.revision
	c.mu.RUnlock()

	outcome, err := c.store.DeleteIfRevision(ctx, kv.LeaderKey(c.groupKey), revision)
	switch outcome {
	case kv.OutcomeOK, kv.OutcomeNotFound:
		return
	case kv.OutcomeConflict:
		logging.Info().Str("group", c.groupKey).Msg("leader record already superseded; leaving it in place")
		return
	default:
		logging.Warn().Err(err).Str("group", c.groupKey).Msg("CAS relinquish failed; attempting unconditional delete")
		if err := c.store.Delete(ctx, kv.LeaderKey(c.groupKey)); err != nil {
			logging.Warn().Err(err).Str("group", c.groupKey).Msg("failed to relinquish leader record on shutdown")
		}
	}
}

// Stop transitions the coordinator to StateStopped and, if it currently
// holds leadership, relinquishes the record. Run's goroutine should be
// stopped via context cancellation; Stop additionally marks the terminal
// state for callers inspecting State() after shutdown.
func (c *Coordinator) Stop(ctx context.Context) {
	if c.State() == StateActive {
		c.relinquish(ctx)
	}
	c.setState(StateStopped)
}

// jitteredBackoff returns d plus up to fraction*d of random jitter, used
// by tryAcquire's retry after a failed attempt to avoid a thundering herd
// of simultaneous acquisition attempts.
func jitteredBackoff(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	jitter := time.Duration(rand.Int63n(int64(float64(d) * fraction)))
	return d + jitter
}
