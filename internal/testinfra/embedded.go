// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

//go:build integration

package testinfra

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedNATS is an in-process NATS server with JetStream enabled, for
// integration tests in environments without Docker. It exercises the
// same real wire behavior as the container-backed variant without the
// container startup cost.
type EmbeddedNATS struct {
	srv *server.Server
	URL string
}

// StartEmbeddedNATS boots an in-process JetStream-enabled NATS server on
// a random port, storing stream state under dir (usually t.TempDir()).
func StartEmbeddedNATS(dir string) (*EmbeddedNATS, error) {
	opts := &server.Options{
		ServerName: "aegis-embedded-test",
		Host:       "127.0.0.1",
		Port:       -1, // random available port
		JetStream:  true,
		StoreDir:   dir,
		NoLog:      true,
		NoSigs:     true,
	}
	srv, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("build embedded nats server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded nats server never became ready")
	}
	return &EmbeddedNATS{srv: srv, URL: srv.ClientURL()}, nil
}

// Shutdown stops the embedded server and waits for it to exit.
func (e *EmbeddedNATS) Shutdown() {
	e.srv.Shutdown()
	e.srv.WaitForShutdown()
}
