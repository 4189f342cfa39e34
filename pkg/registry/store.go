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

package registry

import (
	"context"
	"errors"
)

// Sentinel errors. Callers compare against these with errors.Is; nobody in
// this package inspects error text.
var (
	ErrNotFound          = errors.New("registry: not found")
	ErrAlreadyExists      = errors.New("registry: already exists")
	ErrInvalidTransition = errors.New("registry: invalid status transition")
	ErrNoActiveConnection = errors.New("registry: no active connection")
)

// Store is the persistence boundary the authenticator, interceptor, health
// monitor and admin service depend on. Store never leaks *sql.DB or
// *pq.Error past its own implementation.
type Store interface {
	// Devices
	CreateDevice(ctx context.Context, d *Device) (*Device, error)
	UpsertIfNotExists(ctx context.Context, d *Device) (*Device, bool, error)
	FindByCompositeHash(ctx context.Context, hash string) (*Device, error)
	FindBySerialHash(ctx context.Context, hash string) (*Device, error)
	FindByID(ctx context.Context, id string) (*Device, error)
	FindByStatus(ctx context.Context, status string) ([]*Device, error)
	FindAll(ctx context.Context) ([]*Device, error)
	UpdateStatus(ctx context.Context, deviceID string, fromAnyOf []string, to string) (*Device, error)
	MarkCritical(ctx context.Context, deviceID string, critical bool) error
	UpdateLastHealthCheck(ctx context.Context, deviceID string, ip string) error

	// Connections
	OpenConnection(ctx context.Context, deviceID, clientID, ip string) (*Connection, error)
	GetConnection(ctx context.Context, deviceID string) (*Connection, error)
	ReassignConnection(ctx context.Context, fromDeviceID, toDeviceID, clientID, ip string) error
	CloseConnection(ctx context.Context, deviceID string) error
	TouchConnection(ctx context.Context, deviceID string) error

	// Alerts / audit
	AppendAlert(ctx context.Context, a *Alert) error
	AppendAudit(ctx context.Context, a *AuditLog) error

	// Client bindings (admin / controller identity resolution)
	FindBindingByFingerprint(ctx context.Context, fingerprint string) (*ClientBinding, error)
	UpsertBinding(ctx context.Context, b *ClientBinding) error

	// Telemetry
	InsertTelemetry(ctx context.Context, row *TelemetryRow) error
}
