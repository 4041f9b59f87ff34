// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

// Package model defines the wire records stored in the registry and
// election KV buckets: ServiceInstance, LeaderRecord, and
// ServiceDefinition. Encoding uses goccy/go-json, the drop-in
// encoding/json replacement used throughout the coordination core.
package model

import (
	"time"

	json "github.com/goccy/go-json"
)

// Status is the lifecycle status a ServiceInstance reports in its
// registry heartbeat.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusStandby   Status = "STANDBY"
	StatusUnhealthy Status = "UNHEALTHY"
	StatusShutdown  Status = "SHUTDOWN"
)

// ServiceInstance is the registry entry for one live instance of a
// logical service. (service_name, instance_id) is unique across the
// cluster; last_heartbeat is advisory only — liveness is determined by
// KV TTL expiry, never by comparing timestamps across instances.
type ServiceInstance struct {
	ServiceName   string            `json:"service_name"`
	InstanceID    string            `json:"instance_id"`
	Version       string            `json:"version"`
	Status        Status            `json:"status"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
	StickyGroup   string            `json:"sticky_group,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// LeaderRecord is the election entry for a sticky-active group. It is
// created by an atomic kvCreate and refreshed in place by the holder via
// CAS on Revision; Revision is not part of the serialized record itself
// (the KV entry carries it, and the election coordinator tracks it).
type LeaderRecord struct {
	GroupKey string    `json:"group_key"`
	Holder   string    `json:"holder"`
	Term     uint64    `json:"term"`
	Acquired time.Time `json:"acquired"`

	// Revision is the KV revision this record was read at. It is left out
	// of the JSON payload, so UnmarshalLeaderRecord returns it as zero;
	// the authoritative value is the KV entry's own Revision.
	Revision uint64 `json:"-"`
}

// ServiceDefinition is a management-plane record declaring which
// services are permitted to register. Revision-tracked for optimistic
// concurrency by whatever thin CRUD surface manages it; this module
// only defines the wire form.
type ServiceDefinition struct {
	Name        string `json:"name"`
	Owner       string `json:"owner"`
	Description string `json:"description"`
	Version     string `json:"version"`
	Revision    uint64 `json:"-"`
}

// GroupKey builds the election key for a (service, sticky group) pair,
// e.g. "trader.default".
func GroupKey(service, stickyGroup string) string {
	return service + "." + stickyGroup
}

// MarshalInstance serializes a ServiceInstance to its wire form.
func MarshalInstance(s ServiceInstance) ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalInstance parses a ServiceInstance from its wire form.
func UnmarshalInstance(data []byte) (ServiceInstance, error) {
	var s ServiceInstance
	err := json.Unmarshal(data, &s)
	return s, err
}

// MarshalLeaderRecord serializes a LeaderRecord to its wire form.
func MarshalLeaderRecord(r LeaderRecord) ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalLeaderRecord parses a LeaderRecord from its wire form.
func UnmarshalLeaderRecord(data []byte) (LeaderRecord, error) {
	var r LeaderRecord
	err := json.Unmarshal(data, &r)
	return r, err
}

// MarshalServiceDefinition serializes a ServiceDefinition to its wire form.
func MarshalServiceDefinition(d ServiceDefinition) ([]byte, error) {
	return json.Marshal(d)
}

// UnmarshalServiceDefinition parses a ServiceDefinition from its wire form.
func UnmarshalServiceDefinition(data []byte) (ServiceDefinition, error) {
	var d ServiceDefinition
	err := json.Unmarshal(data, &d)
	return d, err
}
