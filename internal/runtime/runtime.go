// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

// Package runtime composes the registry, bus, and (optionally) election
// coordinator into one running service instance. It replaces the
// mixin-style "SingleActiveService extends Service" inheritance shape
// with plain composition: a ServiceRuntime is built with or without an
// election coordinator, and RPC dispatch behaves differently purely
// based on whether that field is nil.
package runtime

import (
	"context"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/ryanflavor/aegis-trader/internal/bus"
	"github.com/ryanflavor/aegis-trader/internal/election"
	"github.com/ryanflavor/aegis-trader/internal/errs"
	"github.com/ryanflavor/aegis-trader/internal/logging"
	"github.com/ryanflavor/aegis-trader/internal/model"
	"github.com/ryanflavor/aegis-trader/internal/registry"
)

// MethodHandler handles one RPC method's payload and returns a reply
// payload or an *errs.Error. Handlers never see subject parsing or
// election state — ServiceRuntime enforces both before dispatch.
type MethodHandler func(ctx context.Context, payload []byte) ([]byte, error)

// Phase is the runtime's lifecycle position, independent of election
// state: a plain service goes straight from Starting to Active; a
// single-active service may spend most of its life in Standby.
type Phase int

const (
	PhaseInitialized Phase = iota
	PhaseStarting
	PhaseActive
	PhaseStandby
	PhaseStopping
	PhaseStopped
)

// ServiceRuntime runs one registered, heartbeating instance of a logical
// service, optionally participating in sticky single-active election.
// coordinator is nil for a plain (always-serving) service.
type ServiceRuntime struct {
	bus         bus.Bus
	registry    *registry.Registry
	coordinator *election.Coordinator

	instance model.ServiceInstance

	mu        sync.RWMutex
	phase     Phase
	handlers  map[string]MethodHandler
	selfCheck func(ctx context.Context) error

	unsubRPC func() error
}

// NewPlain builds a runtime for a service with no sticky-active
// requirement: every registered instance serves every RPC it receives.
func NewPlain(b bus.Bus, reg *registry.Registry, instance model.ServiceInstance) *ServiceRuntime {
	return &ServiceRuntime{
		bus:      b,
		registry: reg,
		instance: instance,
		phase:    PhaseInitialized,
		handlers: make(map[string]MethodHandler),
	}
}

// NewSingleActive builds a runtime for a sticky single-active service:
// RPCs are refused with errs.CodeNotActive unless coordinator currently
// holds leadership for the instance's sticky group.
func NewSingleActive(b bus.Bus, reg *registry.Registry, coordinator *election.Coordinator, instance model.ServiceInstance) *ServiceRuntime {
	return &ServiceRuntime{
		bus:         b,
		registry:    reg,
		coordinator: coordinator,
		instance:    instance,
		phase:       PhaseInitialized,
		handlers:    make(map[string]MethodHandler),
	}
}

// Handle registers the handler for an RPC method name.
func (r *ServiceRuntime) Handle(method string, handler MethodHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = handler
}

// SetSelfCheck installs a health probe run before each heartbeat of a
// plain (non-single-active) runtime: a failing probe flips the
// instance's registry status to UNHEALTHY until it passes again.
// Single-active runtimes ignore it — their status tracks election state.
func (r *ServiceRuntime) SetSelfCheck(check func(ctx context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selfCheck = check
}

// Phase returns the runtime's current lifecycle phase.
func (r *ServiceRuntime) Phase() Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

func (r *ServiceRuntime) setPhase(p Phase) {
	r.mu.Lock()
	r.phase = p
	r.mu.Unlock()
}

// IsSingleActive reports whether this runtime enforces election state
// before dispatching RPCs.
func (r *ServiceRuntime) IsSingleActive() bool {
	return r.coordinator != nil
}

// Instance returns the instance record this runtime registers and
// heartbeats.
func (r *ServiceRuntime) Instance() model.ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instance
}

// Start registers the instance, subscribes to its RPC subject, and — for
// a single-active runtime — starts tracking election transitions so
// dispatch can be gated on ACTIVE state. It does not block; RPC dispatch
// runs on the bus subscription made here, while the supervised loops
// (heartbeat, election) are separate suture.Services built via
// NewHeartbeatService/NewElectionService.
func (r *ServiceRuntime) Start(ctx context.Context) error {
	r.setPhase(PhaseStarting)

	if r.coordinator == nil {
		r.instance.Status = model.StatusActive
	} else {
		r.instance.Status = model.StatusStandby
	}
	if err := r.registry.Register(ctx, r.instance); err != nil {
		return err
	}

	subject := rpcSubject(r.instance.ServiceName, r.instance.InstanceID)
	unsub, err := r.bus.HandleRPC(ctx, subject, bus.ModeCompete, r.instance.ServiceName, r.dispatch)
	if err != nil {
		return err
	}
	r.unsubRPC = unsub

	if r.coordinator == nil {
		r.setPhase(PhaseActive)
	} else {
		r.setPhase(PhaseStandby)
		go r.trackElection(ctx)
	}
	logging.Info().
		Str("service", r.instance.ServiceName).
		Str("instance_id", r.instance.InstanceID).
		Bool("single_active", r.coordinator != nil).
		Msg("service runtime started")
	return nil
}

// Stop unsubscribes from RPC dispatch, publishes a final SHUTDOWN
// heartbeat so watchers see the transition before the key disappears,
// and deregisters the instance. Election coordinator shutdown is driven
// separately by ElectionService's context cancellation.
func (r *ServiceRuntime) Stop(ctx context.Context) error {
	r.setPhase(PhaseStopping)
	if r.unsubRPC != nil {
		_ = r.unsubRPC()
	}
	r.mu.Lock()
	r.instance.Status = model.StatusShutdown
	instance := r.instance
	r.mu.Unlock()
	if err := r.registry.Heartbeat(ctx, instance); err != nil {
		logging.Warn().Err(err).
			Str("service", instance.ServiceName).
			Str("instance_id", instance.InstanceID).
			Msg("final shutdown heartbeat failed")
	}
	err := r.registry.Deregister(ctx, instance.ServiceName, instance.InstanceID)
	r.setPhase(PhaseStopped)
	return err
}

// Heartbeat refreshes the instance's registry record. Called on a fixed
// interval by HeartbeatService. For a plain runtime with a self-check
// installed, the check's outcome decides whether this beat reports
// ACTIVE or UNHEALTHY.
func (r *ServiceRuntime) Heartbeat(ctx context.Context) error {
	r.mu.RLock()
	check := r.selfCheck
	single := r.coordinator != nil
	r.mu.RUnlock()

	if check != nil && !single {
		status := model.StatusActive
		if err := check(ctx); err != nil {
			logging.Warn().Err(err).
				Str("service", r.instance.ServiceName).
				Msg("self-check failed; reporting unhealthy")
			status = model.StatusUnhealthy
		}
		r.mu.Lock()
		if r.phase == PhaseActive || r.phase == PhaseStandby {
			r.instance.Status = status
		}
		r.mu.Unlock()
	}

	r.mu.RLock()
	instance := r.instance
	r.mu.RUnlock()
	return r.registry.Heartbeat(ctx, instance)
}

func (r *ServiceRuntime) trackElection(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-r.coordinator.Transitions():
			if !ok {
				return
			}
			switch state {
			case election.StateActive:
				r.setPhase(PhaseActive)
				r.mu.Lock()
				r.instance.Status = model.StatusActive
				r.mu.Unlock()
			case election.StateStandby:
				r.setPhase(PhaseStandby)
				r.mu.Lock()
				r.instance.Status = model.StatusStandby
				r.mu.Unlock()
			case election.StateStopped:
				return
			}
		}
	}
}

// dispatch is the bus.Handler wired to the instance's RPC subject: parse
// the method off the subject, check election state for single-active
// runtimes, invoke the registered handler, and translate its result (or
// error) into the wire envelope.
func (r *ServiceRuntime) dispatch(subject string, payload []byte) []byte {
	method := methodFromSubject(subject)

	if r.coordinator != nil && r.coordinator.State() != election.StateActive {
		return encodeError(errs.NotActive(r.instance.ServiceName))
	}

	r.mu.RLock()
	handler, ok := r.handlers[method]
	r.mu.RUnlock()
	if !ok {
		return encodeError(errs.New(errs.CodeNotFound, "no handler registered for method "+method))
	}

	reply, err := handler(context.Background(), payload)
	if err != nil {
		return encodeError(errs.FromBusError(err))
	}
	return reply
}

// encodeError serializes the structured error envelope a sticky RPC
// client decodes with errs.Decode on every reply before trying its own
// response type.
func encodeError(e *errs.Error) []byte {
	data, err := json.Marshal(e)
	if err != nil {
		logging.Error().Err(err).Msg("failed to encode error envelope")
		return nil
	}
	return data
}

// rpcSubject builds the subject an instance's RPC handler subscribes to:
// rpc.<service>.<instance_id>.*, matching every method subject a sticky
// RPC client addresses via rpcclient.MethodSubject.
func rpcSubject(service, instanceID string) string {
	return "rpc." + service + "." + instanceID + ".*"
}

// methodFromSubject extracts the trailing token from an
// rpc.<service>.<instance>.<method> subject.
func methodFromSubject(subject string) string {
	idx := strings.LastIndexByte(subject, '.')
	if idx < 0 {
		return subject
	}
	return subject[idx+1:]
}
