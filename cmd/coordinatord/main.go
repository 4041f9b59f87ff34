// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

// Command coordinatord is the reference host process for the
// coordination core: it loads configuration, opens the bus and
// registry, optionally runs sticky single-active election, and exposes
// the admin HTTP surface — all under one supervisor tree. It registers
// no RPC methods of its own; a business service embeds internal/runtime
// the same way and adds its handlers via ServiceRuntime.Handle before
// calling Start.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/ryanflavor/aegis-trader/internal/adminapi"
	busimpl "github.com/ryanflavor/aegis-trader/internal/bus"
	"github.com/ryanflavor/aegis-trader/internal/config"
	"github.com/ryanflavor/aegis-trader/internal/discovery"
	"github.com/ryanflavor/aegis-trader/internal/election"
	"github.com/ryanflavor/aegis-trader/internal/kv"
	"github.com/ryanflavor/aegis-trader/internal/logging"
	"github.com/ryanflavor/aegis-trader/internal/model"
	"github.com/ryanflavor/aegis-trader/internal/registry"
	"github.com/ryanflavor/aegis-trader/internal/runtime"
	"github.com/ryanflavor/aegis-trader/internal/supervisor"
)

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})

	serviceName := envOr("AEGIS_SERVICE_NAME", "coordinator")
	instanceID := envOr("AEGIS_INSTANCE_ID", serviceName+"-"+uuid.New().String()[:8])
	singleActive := envOr("AEGIS_SINGLE_ACTIVE", "false") == "true"
	stickyGroup := envOr("AEGIS_STICKY_GROUP", cfg.Election.DefaultGroup)

	b, err := busimpl.New(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to construct message bus")
	}
	defer func() { _ = b.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// No bucket-wide default TTL: the registry and leader-record writers
	// each set their own per-message TTL (heartbeat_interval-derived for
	// instances, LeaderTTL for leader records), and service-definitions
	// keys carry none at all, all sharing this one bucket.
	bucket, err := b.KV(ctx, kv.BucketServiceRegistry, 0)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open service-registry KV bucket")
	}
	store := kv.New(bucket)

	reg := registry.New(store, cfg.Registry.TTL())
	disc := discovery.New(store, b, cfg.Discovery)

	instance := model.ServiceInstance{
		ServiceName: serviceName,
		InstanceID:  instanceID,
		Version:     envOr("AEGIS_SERVICE_VERSION", "0.0.0"),
	}

	var coordinator *election.Coordinator
	var rt *runtime.ServiceRuntime
	if singleActive {
		instance.StickyGroup = stickyGroup
		groupKey := model.GroupKey(serviceName, stickyGroup)
		coordinator = election.New(store, groupKey, instanceID, cfg.Election)
		rt = runtime.NewSingleActive(b, reg, coordinator, instance)
	} else {
		rt = runtime.NewPlain(b, reg, instance)
	}

	if err := rt.Start(ctx); err != nil {
		logging.Fatal().Err(err).Msg("failed to start service runtime")
	}

	slogLogger := logging.NewSlogLogger()
	tree, err := supervisor.NewSupervisorTree(slogLogger, supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to build supervisor tree")
	}

	tree.AddDataService(runtime.NewHeartbeatService(rt, cfg.Registry.HeartbeatInterval))
	if coordinator != nil {
		tree.AddDataService(runtime.NewElectionService(coordinator))
	}
	tree.AddMessagingService(runtime.NewDiscoveryWatchService(disc))

	readiness := func() (bool, map[string]bool) {
		checks := map[string]bool{"bus": true}
		if coordinator != nil {
			checks["election"] = coordinator.State() != election.StateStopped
		}
		ready := true
		for _, ok := range checks {
			ready = ready && ok
		}
		return ready, checks
	}
	var roleProvider func() string
	if coordinator != nil {
		roleProvider = func() string { return coordinator.State().String() }
	}
	adminSrv := adminapi.New(cfg.Admin, readiness, instanceID, roleProvider)
	tree.AddAPIService(adminapi.NewServerService(adminSrv, cfg.Admin))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	logging.Info().
		Str("service", serviceName).
		Str("instance_id", instanceID).
		Bool("single_active", singleActive).
		Msg("coordinator starting")

	errCh := tree.ServeBackground(ctx)
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		logging.Warn().Err(err).Msg("supervisor tree exited with error")
	}

	if err := rt.Stop(context.Background()); err != nil {
		logging.Warn().Err(err).Msg("failed to deregister service instance on shutdown")
	}

	if unstopped, err := tree.UnstoppedServiceReport(); err != nil {
		logging.Warn().Err(err).Msg("failed to collect unstopped service report")
	} else if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("services failed to stop within the shutdown timeout")
	}

	logging.Info().Msg("coordinator stopped gracefully")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
