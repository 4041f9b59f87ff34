// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/aegis-trader/config.yaml",
	"/etc/aegis-trader/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Bus: BusConfig{
			Kind:        BusKindNATS,
			KVOpTimeout: 2 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				MaxRequests:      5,
				Interval:         30 * time.Second,
				Timeout:          10 * time.Second,
				ConsecutiveFails: 5,
			},
		},
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			Name:           "aegis-trader",
			ConnectTimeout: 5 * time.Second,
			ReconnectWait:  2 * time.Second,
			MaxReconnects:  -1, // retry forever; the bus layer owns reconnection policy
			KVBucketPrefix: "aegis",
		},
		Registry: RegistryConfig{
			HeartbeatInterval: 2 * time.Second,
			TTLMultiplier:     3,
		},
		Election: ElectionConfig{
			LeaderTTL:           10 * time.Second,
			RenewalInterval:     4 * time.Second,
			StandbyPollInterval: 3 * time.Second,
			DefaultGroup:        "default",
		},
		Discovery: DiscoveryConfig{
			CacheTTL:                 5 * time.Second,
			InvalidateAllOnReconnect: true,
		},
		RPCClient: RPCClientConfig{
			DefaultTimeout: 3 * time.Second,
			OverallTimeout: 10 * time.Second,
			MaxAttempts:    3,
			BackoffBase:    100 * time.Millisecond,
			BackoffMax:     2 * time.Second,
			JitterFraction: 0.2,
		},
		Admin: AdminConfig{
			Host:            "0.0.0.0",
			Port:            8090,
			ShutdownGrace:   10 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
//
// This function is the preferred way to load configuration and provides:
//   - Type-safe configuration unmarshaling
//   - Clear precedence: ENV > File > Defaults
//   - Support for nested configuration via koanf struct tags
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// Transform environment variable names to koanf paths:
	// AEGIS_BUS_KIND -> bus.kind
	// AEGIS_ELECTION_LEADER_TTL -> election.leader_ttl
	envProvider := env.Provider("AEGIS_", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Post-process slice fields from comma-separated strings
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	// Unmarshal into Config struct
	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	// Check environment variable first
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	// Search default paths
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"admin.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// This is necessary because env vars come in as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// If it's already a slice (from YAML file), skip
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		// If it's a string, split by comma
		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc transforms AEGIS_-prefixed environment variable names
// into koanf config paths.
//
// Examples:
//   - AEGIS_BUS_KIND -> bus.kind
//   - AEGIS_NATS_URL -> nats.url
//   - AEGIS_ELECTION_LEADER_TTL -> election.leader_ttl
//   - AEGIS_REGISTRY_HEARTBEAT_INTERVAL -> registry.heartbeat_interval
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "AEGIS_"))

	envMappings := map[string]string{
		"bus_kind":                       "bus.kind",
		"bus_kv_op_timeout":              "bus.kv_op_timeout",
		"bus_breaker_max_requests":       "bus.circuit_breaker.max_requests",
		"bus_breaker_interval":           "bus.circuit_breaker.interval",
		"bus_breaker_timeout":            "bus.circuit_breaker.timeout",
		"bus_breaker_consecutive_fails":  "bus.circuit_breaker.consecutive_fails",

		"nats_url":              "nats.url",
		"nats_name":             "nats.name",
		"nats_connect_timeout":  "nats.connect_timeout",
		"nats_reconnect_wait":   "nats.reconnect_wait",
		"nats_max_reconnects":   "nats.max_reconnects",
		"nats_kv_bucket_prefix": "nats.kv_bucket_prefix",

		"registry_heartbeat_interval": "registry.heartbeat_interval",
		"registry_ttl_multiplier":     "registry.ttl_multiplier",

		"election_leader_ttl":            "election.leader_ttl",
		"election_renewal_interval":      "election.renewal_interval",
		"election_standby_poll_interval": "election.standby_poll_interval",
		"election_default_group":         "election.default_group",

		"discovery_cache_ttl":                   "discovery.cache_ttl",
		"discovery_invalidate_all_on_reconnect": "discovery.invalidate_all_on_reconnect",

		"rpc_client_default_timeout": "rpc_client.default_timeout",
		"rpc_client_overall_timeout": "rpc_client.overall_timeout",
		"rpc_client_max_attempts":    "rpc_client.max_attempts",
		"rpc_client_backoff_base":    "rpc_client.backoff_base",
		"rpc_client_backoff_max":     "rpc_client.backoff_max",
		"rpc_client_jitter_fraction": "rpc_client.jitter_fraction",

		"admin_host":              "admin.host",
		"admin_port":              "admin.port",
		"admin_shutdown_grace":    "admin.shutdown_grace",
		"admin_rate_limit_reqs":   "admin.rate_limit_reqs",
		"admin_rate_limit_window": "admin.rate_limit_window",
		"admin_cors_origins":      "admin.cors_origins",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// For unmapped keys, return empty string to skip them
	// This prevents random environment variables from polluting config
	return ""
}

// GetKoanfInstance returns a new Koanf instance for advanced usage.
// This is useful for:
//   - Hot-reload scenarios (with proper mutex protection)
//   - Custom configuration sources
//   - Testing with mock configurations
func GetKoanfInstance() *koanf.Koanf {
	return koanf.New(".")
}

// WatchConfigFile sets up a file watcher for hot-reload capability.
// Note: The caller is responsible for mutex protection when accessing
// configuration during reloads.
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)

	// Start watching the file for changes
	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
