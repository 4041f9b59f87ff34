// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

package bus

import (
	"fmt"

	"github.com/ryanflavor/aegis-trader/internal/config"
)

// Factory builds a Bus from configuration. Adapters register themselves
// under a config.BusKind name instead of being selected by runtime
// attribute probing — the named-implementation registry the coordination
// design calls for in place of duck-typed adapter discovery.
type Factory func(cfg *config.Config) (Bus, error)

var factories = map[config.BusKind]Factory{
	config.BusKindNATS:     newNATSBus,
	config.BusKindInMemory: newInMemoryBus,
}

// New constructs the Bus implementation selected by cfg.Bus.Kind.
func New(cfg *config.Config) (Bus, error) {
	factory, ok := factories[cfg.Bus.Kind]
	if !ok {
		return nil, fmt.Errorf("bus: no implementation registered for kind %q", cfg.Bus.Kind)
	}
	return factory(cfg)
}
