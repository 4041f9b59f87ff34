// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

package runtime

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/ryanflavor/aegis-trader/internal/election"
	"github.com/ryanflavor/aegis-trader/internal/logging"
)

// HeartbeatService is a suture.Service driving a ServiceRuntime's
// registry heartbeat on a fixed interval until ctx is canceled.
type HeartbeatService struct {
	runtime  *ServiceRuntime
	interval time.Duration

	// failLog throttles heartbeat-failure warnings: during a transport
	// outage every tick fails, and one warning per 10s window beats one
	// per tick.
	failLog rate.Sometimes
}

// NewHeartbeatService builds the supervised heartbeat loop for runtime,
// firing every interval (typically config.RegistryConfig.HeartbeatInterval).
func NewHeartbeatService(runtime *ServiceRuntime, interval time.Duration) *HeartbeatService {
	return &HeartbeatService{
		runtime:  runtime,
		interval: interval,
		failLog:  rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// Serve implements suture.Service.
func (s *HeartbeatService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.runtime.Heartbeat(ctx); err != nil {
				s.failLog.Do(func() {
					logging.Warn().Err(err).
						Str("service", s.runtime.Instance().ServiceName).
						Msg("heartbeat tick failed")
				})
			}
		}
	}
}

// ElectionService is a suture.Service running an election.Coordinator's
// FSM loop. suture restarts it with backoff if Run ever returns a
// non-nil, non-context error.
type ElectionService struct {
	coordinator *election.Coordinator
}

// NewElectionService wraps coordinator for supervision.
func NewElectionService(coordinator *election.Coordinator) *ElectionService {
	return &ElectionService{coordinator: coordinator}
}

// Serve implements suture.Service.
func (s *ElectionService) Serve(ctx context.Context) error {
	return s.coordinator.Run(ctx)
}

// discoveryWatcher is the minimal surface ServiceRuntime's supervision
// layer needs from internal/discovery, kept here (rather than importing
// internal/discovery directly) so discovery can in turn depend on bus
// and kv without a supervisor/runtime/discovery import cycle.
type discoveryWatcher interface {
	WatchLoop(ctx context.Context) error
}

// DiscoveryWatchService is a suture.Service running a discovery cache's
// invalidation watch consumer.
type DiscoveryWatchService struct {
	watcher discoveryWatcher
}

// NewDiscoveryWatchService wraps a discovery cache for supervision.
func NewDiscoveryWatchService(watcher discoveryWatcher) *DiscoveryWatchService {
	return &DiscoveryWatchService{watcher: watcher}
}

// Serve implements suture.Service.
func (s *DiscoveryWatchService) Serve(ctx context.Context) error {
	return s.watcher.WatchLoop(ctx)
}
