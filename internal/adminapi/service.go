// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

package adminapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ryanflavor/aegis-trader/internal/config"
)

// ServerService supervises an *http.Server built from a Server's handler,
// starting and stopping it under a suture.Service contract. Its shape
// mirrors a generic supervised HTTP server: start ListenAndServe in a
// goroutine, shut down gracefully on context cancellation.
type ServerService struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	name            string
}

// NewServerService builds the supervised admin HTTP server bound to
// cfg.Host:cfg.Port, serving srv's handler.
func NewServerService(srv *Server, cfg config.AdminConfig) *ServerService {
	shutdownTimeout := cfg.ShutdownGrace
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &ServerService{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler: srv.Handler(),
		},
		shutdownTimeout: shutdownTimeout,
		name:            "admin-http",
	}
}

// Serve implements suture.Service: it runs the admin HTTP server until ctx
// is cancelled, at which point it shuts the server down gracefully within
// shutdownTimeout.
func (s *ServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("admin http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("admin http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

// String implements suture.Service, naming this service in logs and
// UnstoppedServiceReport.
func (s *ServerService) String() string {
	return s.name
}
