// Copyright 2023 The emqx-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package registry is the device identity store: the single source of
// truth for which devices exist, what state they are in, which connection
// currently belongs to them, and the audit trail of everything that
// happened to them.
package registry

import "time"

// Device is a row of the device registry.
type Device struct {
	ID              string
	SerialHash      string
	MACHash         string
	CompositeHash   string
	ClientID        string
	DeviceType      string
	Status          string
	Critical        bool
	LastIP          string
	LastHealthCheck time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Connection is the single active connection row a device is allowed to
// hold at any instant. The registry enforces the one-active-connection
// invariant by keying connections on the device id: opening a connection
// replaces any row already held for that device.
type Connection struct {
	DeviceID     string
	ClientID     string
	IPAddress    string
	ConnectedAt  time.Time
	LastSeenAt   time.Time
}

// Alert is an append-only audit row describing a security-relevant event:
// a clone attempt, a health-check anomaly, a status transition, and so on.
type Alert struct {
	ID        string
	DeviceID  string
	Type      string
	Detail    map[string]any
	CreatedAt time.Time
}

// ClientBinding resolves a non-device clientId (ADMIN_*, controller-cmd) to
// a stable identity via the SHA-256 fingerprint of the certificate it
// authenticated with.
type ClientBinding struct {
	ID          string
	ClientID    string
	Fingerprint string
	Role        string
	CreatedAt   time.Time
}

// AuditLog records an administrative action taken against a device by a
// bound identity (an approval, a block, a criticality change).
type AuditLog struct {
	ID        string
	ActorID   string
	DeviceID  string
	Action    string
	CreatedAt time.Time
}

// TelemetryRow is one ingested telemetry message, stored regardless of
// whether its payload could be parsed as JSON.
type TelemetryRow struct {
	ID          string
	DeviceID    string
	Topic       string
	RawPayload  []byte
	Timestamp   time.Time
	Measurement string
	Value       *float64
	ReceivedAt  time.Time
}
