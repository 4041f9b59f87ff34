// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

//go:build integration

// Package testinfra provides testcontainers-backed infrastructure for
// integration tests that need a real NATS JetStream server rather than
// internal/bus's in-memory double — exercising the coordination core's
// actual MessageBus adapter (internal/bus's NATS implementation) end to
// end, including KV bucket creation, atomic create, CAS, and watches.
package testinfra

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Per-message TTLs require nats-server 2.11+; track the server version
// pinned in go.mod.
const defaultNATSImage = "nats:2.12-alpine"

// NATSContainer is a running NATS server with JetStream enabled.
type NATSContainer struct {
	testcontainers.Container
	URL string
}

// NATSOption configures the NATS container.
type NATSOption func(*natsConfig)

type natsConfig struct {
	image        string
	startTimeout time.Duration
}

// WithNATSImage sets a custom NATS server image.
func WithNATSImage(image string) NATSOption {
	return func(c *natsConfig) { c.image = image }
}

// WithNATSStartTimeout sets the timeout for waiting for NATS to start.
func WithNATSStartTimeout(timeout time.Duration) NATSOption {
	return func(c *natsConfig) { c.startTimeout = timeout }
}

// NewNATSContainer starts a NATS server with JetStream enabled, for
// integration tests exercising internal/bus's NATS adapter against a
// real server instead of the in-memory double.
//
// Example:
//
//	ctx := context.Background()
//	n, err := testinfra.NewNATSContainer(ctx)
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer testinfra.CleanupContainer(t, ctx, n.Container)
//	b, err := bus.New(&config.Config{Bus: config.BusConfig{Kind: config.BusKindNATS}, NATS: config.NATSConfig{URL: n.URL}})
func NewNATSContainer(ctx context.Context, opts ...NATSOption) (*NATSContainer, error) {
	cfg := &natsConfig{
		image:        defaultNATSImage,
		startTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	req := testcontainers.ContainerRequest{
		Image:        cfg.image,
		Cmd:          []string{"-js"},
		ExposedPorts: []string{"4222/tcp"},
		WaitingFor: wait.ForLog("Server is ready").
			WithStartupTimeout(cfg.startTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("create nats container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("nats container host: %w", err)
	}
	mappedPort, err := container.MappedPort(ctx, "4222/tcp")
	if err != nil {
		return nil, fmt.Errorf("nats container port: %w", err)
	}

	return &NATSContainer{
		Container: container,
		URL:       fmt.Sprintf("nats://%s:%s", host, mappedPort.Port()),
	}, nil
}

// SkipIfNoDocker skips the test if Docker is not available, so
// integration tests degrade gracefully in environments without Docker.
func SkipIfNoDocker(t testingT) {
	t.Helper()
	if !isDockerAvailable() {
		t.Skip("Skipping test: Docker not available")
	}
}

// testingT is the subset of *testing.T this package needs, kept narrow
// so it imports no test-only symbols into a non-test build.
type testingT interface {
	Helper()
	Skip(args ...any)
	Logf(format string, args ...any)
}

func isDockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	return cmd.Run() == nil
}

// CleanupContainer terminates container, logging (rather than failing)
// on error — a teardown failure must not mask the test's real result.
func CleanupContainer(t testingT, ctx context.Context, container testcontainers.Container) {
	t.Helper()
	if container == nil {
		return
	}
	if err := container.Terminate(ctx); err != nil {
		t.Logf("warning: failed to terminate container: %v", err)
	}
}
