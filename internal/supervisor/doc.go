// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

/*
Package supervisor provides process supervision for a service-coordination
instance using suture v4.

This package implements a hierarchical supervisor tree that manages the
lifecycle of all long-running loops a service instance runs: the registry
heartbeat, the election coordinator's renewal and standby loops, and the
discovery cache's watch consumer. RPC handler dispatch is not a supervised
service: it runs on the bus subscription ServiceRuntime.Start makes. It
provides Erlang/OTP-style supervision with automatic restart, failure
isolation, and graceful shutdown.

# Overview

	RootSupervisor ("aegis-trader")
	├── DataSupervisor ("data-layer")
	│   ├── RegistryHeartbeatService
	│   └── ElectionCoordinatorService (single-active services only)
	├── MessagingSupervisor ("messaging-layer")
	│   └── DiscoveryWatchService
	└── APISupervisor ("api-layer")
	    └── AdminHTTPServerService

This hierarchy ensures that:
  - A transient KV write failure in the heartbeat loop doesn't affect RPC serving
  - A crash in the discovery watch loop doesn't prevent the admin API from reporting health
  - Each layer can restart independently

# Key Features

Automatic Restart:
  - Crashed services are automatically restarted
  - Exponential backoff prevents restart storms
  - Configurable failure thresholds and decay rates

Failure Isolation:
  - Services are organized into logical groups
  - Child supervisor failures don't propagate upward
  - Each layer has independent failure counting

Graceful Shutdown:
  - Context cancellation triggers orderly shutdown
  - Configurable shutdown timeout per service
  - UnstoppedServiceReport for debugging hangs

Structured Logging:
  - Integration with slog for structured events
  - Logs service starts, stops, failures, and restarts
  - Event hooks via sutureslog adapter

# Usage Example

	logger := slog.Default()
	config := supervisor.DefaultTreeConfig()

	tree, err := supervisor.NewSupervisorTree(logger, config)
	if err != nil {
	    log.Fatal(err)
	}

	tree.AddDataService(runtime.NewHeartbeatService(rt, cfg.Registry.HeartbeatInterval))
	tree.AddDataService(runtime.NewElectionService(coordinator))
	tree.AddMessagingService(runtime.NewDiscoveryWatchService(disc))
	tree.AddAPIService(adminapi.NewServerService(srv, cfg.Admin))

	ctx := context.Background()
	if err := tree.Serve(ctx); err != nil {
	    log.Printf("Supervisor stopped: %v", err)
	}

Background operation:

	errChan := tree.ServeBackground(ctx)
	if err := <-errChan; err != nil {
	    log.Printf("Supervisor error: %v", err)
	}

# Configuration

The TreeConfig controls restart behavior:

	config := supervisor.TreeConfig{
	    FailureThreshold: 5.0,
	    FailureDecay:     30.0,
	    FailureBackoff:   15 * time.Second,
	    ShutdownTimeout:  10 * time.Second,
	}

Default values match suture's production-ready defaults.

# Service Interface

All services must implement suture.Service:

	type Service interface {
	    Serve(ctx context.Context) error
	}

Return behavior:
  - Return nil: service stopped cleanly, will not be restarted
  - Return error: service crashed, will be restarted
  - Context canceled: shutdown requested, return promptly

# Debugging Shutdown Issues

	report, err := tree.UnstoppedServiceReport()
	for _, svc := range report {
	    log.Printf("Service didn't stop: %v", svc)
	}

Common causes: goroutines not respecting context cancellation, blocked
network I/O without deadlines, or a renewal loop stuck behind a transport
timeout longer than the shutdown grace period.

# Thread Safety

The SupervisorTree is safe for concurrent use: services can be added from
any goroutine, and multiple services can crash simultaneously.

# See Also

  - internal/runtime: services wrapping the registry, election, and RPC loops
  - github.com/thejerf/suture/v4: underlying supervision library
*/
package supervisor
