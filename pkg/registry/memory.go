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
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local Store used by tests. It implements the exact same invariants as
// PostgresStore (row locking is simply a mutex here) so callers can be
// exercised without a database.
type MemoryStore struct {
	mu          sync.Mutex
	devices     map[string]*Device
	byComposite map[string]string
	connections map[string]*Connection
	alerts      []*Alert
	audits      []*AuditLog
	bindings    map[string]*ClientBinding
	telemetry   []*TelemetryRow
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:     make(map[string]*Device),
		byComposite: make(map[string]string),
		connections: make(map[string]*Connection),
		bindings:    make(map[string]*ClientBinding),
	}
}

func (m *MemoryStore) CreateDevice(_ context.Context, d *Device) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byComposite[d.CompositeHash]; exists {
		return nil, ErrAlreadyExists
	}
	out := *d
	out.ID = uuid.NewString()
	if out.Status == "" {
		out.Status = "PENDING"
	}
	out.CreatedAt = time.Now()
	out.UpdatedAt = out.CreatedAt
	m.devices[out.ID] = &out
	m.byComposite[out.CompositeHash] = out.ID
	cp := out
	return &cp, nil
}

func (m *MemoryStore) UpsertIfNotExists(ctx context.Context, d *Device) (*Device, bool, error) {
	created, err := m.CreateDevice(ctx, d)
	if err == nil {
		return created, true, nil
	}
	if err == ErrAlreadyExists {
		existing, ferr := m.FindByCompositeHash(ctx, d.CompositeHash)
		return existing, false, ferr
	}
	return nil, false, err
}

func (m *MemoryStore) FindByCompositeHash(_ context.Context, hash string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byComposite[hash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.devices[id]
	return &cp, nil
}

func (m *MemoryStore) FindBySerialHash(_ context.Context, hash string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.SerialHash == hash {
			cp := *d
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) FindByID(_ context.Context, id string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) FindByStatus(_ context.Context, status string) ([]*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Device
	for _, d := range m.devices {
		if d.Status == status {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) FindAll(_ context.Context) ([]*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, deviceID string, fromAnyOf []string, to string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	if len(fromAnyOf) > 0 && !contains(fromAnyOf, d.Status) {
		return nil, ErrInvalidTransition
	}
	d.Status = to
	d.UpdatedAt = time.Now()
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) MarkCritical(_ context.Context, deviceID string, critical bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceID]
	if !ok {
		return ErrNotFound
	}
	d.Critical = critical
	d.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) UpdateLastHealthCheck(_ context.Context, deviceID, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceID]
	if !ok {
		return ErrNotFound
	}
	d.LastHealthCheck = time.Now()
	d.LastIP = ip
	d.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) OpenConnection(_ context.Context, deviceID, clientID, ip string) (*Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &Connection{DeviceID: deviceID, ClientID: clientID, IPAddress: ip, ConnectedAt: time.Now(), LastSeenAt: time.Now()}
	m.connections[deviceID] = c
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) GetConnection(_ context.Context, deviceID string) (*Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connections[deviceID]
	if !ok {
		return nil, ErrNoActiveConnection
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) ReassignConnection(_ context.Context, fromDeviceID, toDeviceID, clientID, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connections, fromDeviceID)
	m.connections[toDeviceID] = &Connection{DeviceID: toDeviceID, ClientID: clientID, IPAddress: ip, ConnectedAt: time.Now(), LastSeenAt: time.Now()}
	return nil
}

func (m *MemoryStore) CloseConnection(_ context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connections, deviceID)
	return nil
}

func (m *MemoryStore) TouchConnection(_ context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connections[deviceID]
	if !ok {
		return ErrNotFound
	}
	c.LastSeenAt = time.Now()
	return nil
}

func (m *MemoryStore) AppendAlert(_ context.Context, a *Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	cp.ID = uuid.NewString()
	cp.CreatedAt = time.Now()
	m.alerts = append(m.alerts, &cp)
	return nil
}

func (m *MemoryStore) AppendAudit(_ context.Context, a *AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	cp.ID = uuid.NewString()
	cp.CreatedAt = time.Now()
	m.audits = append(m.audits, &cp)
	return nil
}

func (m *MemoryStore) FindBindingByFingerprint(_ context.Context, fingerprint string) (*ClientBinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[fingerprint]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) UpsertBinding(_ context.Context, b *ClientBinding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	cp.CreatedAt = time.Now()
	m.bindings[cp.Fingerprint] = &cp
	return nil
}

func (m *MemoryStore) InsertTelemetry(_ context.Context, row *TelemetryRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *row
	cp.ID = uuid.NewString()
	cp.ReceivedAt = time.Now()
	m.telemetry = append(m.telemetry, &cp)
	return nil
}

// Alerts returns a snapshot of every alert appended so far, newest last.
// Test-only convenience, not part of the Store interface.
func (m *MemoryStore) Alerts() []*Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// Telemetry returns a snapshot of every ingested telemetry row.
func (m *MemoryStore) Telemetry() []*TelemetryRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*TelemetryRow, len(m.telemetry))
	copy(out, m.telemetry)
	return out
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*PostgresStore)(nil)
var _ fmt.Stringer = Device{}

func (d Device) String() string {
	return fmt.Sprintf("Device{id=%s status=%s client_id=%s}", d.ID, d.Status, d.ClientID)
}
