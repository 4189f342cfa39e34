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

// Package healthmonitor implements C7: the periodic sweep that declares a
// device offline when it has neither an active MQTT connection nor a
// recent health-check message.
package healthmonitor

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hearthiot/hub-core/pkg/actor"
	"github.com/hearthiot/hub-core/pkg/metrics"
	"github.com/hearthiot/hub-core/pkg/model"
	"github.com/hearthiot/hub-core/pkg/registry"
)

// Interval and OfflineThreshold match original_source's
// HEALTH_CHECK_INTERVAL_MINUTES / DEVICE_OFFLINE_THRESHOLD_MINUTES.
const (
	Interval         = 2 * time.Minute
	OfflineThreshold = 3 * time.Minute
)

// Monitor is a supervised actor: its Start method blocks, ticking every
// Interval until ctx is cancelled, so pkg/supervisor can restart it if it
// ever returns unexpectedly.
type Monitor struct {
	store registry.Store
	log   *logrus.Entry
	now   func() time.Time
}

// New returns a Monitor backed by store.
func New(store registry.Store, log *logrus.Entry) *Monitor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Monitor{store: store, log: log.WithField("component", "healthmonitor"), now: time.Now}
}

// Start implements actor.Actor. It runs Sweep every Interval until ctx is
// done, which is also why the mailbox argument goes unused: the monitor
// has no inbound messages, only a clock.
func (m *Monitor) Start(ctx context.Context, _ *actor.Mailbox) error {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				m.log.WithError(err).Error("health sweep failed")
			}
		}
	}
}

// Sweep runs one pass over every APPROVED device. A device holding an
// active connection is skipped outright — it is, by definition, not
// offline. A device with no connection whose last recorded health check is
// older than OfflineThreshold, or that has never sent a health check, is
// declared offline: an alert is appended and any stale connection row is
// cleared.
func (m *Monitor) Sweep(ctx context.Context) error {
	devices, err := m.store.FindByStatus(ctx, model.StatusApproved.String())
	if err != nil {
		return err
	}

	now := m.now()
	for _, d := range devices {
		if m.isRecentlyConnected(ctx, d.ID) {
			continue
		}
		if !d.LastHealthCheck.IsZero() && now.Sub(d.LastHealthCheck) <= OfflineThreshold {
			continue
		}
		m.markOffline(ctx, d)
	}
	return nil
}

func (m *Monitor) isRecentlyConnected(ctx context.Context, deviceID string) bool {
	_, err := m.store.GetConnection(ctx, deviceID)
	return err == nil
}

func (m *Monitor) markOffline(ctx context.Context, d *registry.Device) {
	if err := m.store.CloseConnection(ctx, d.ID); err != nil && !errors.Is(err, registry.ErrNotFound) {
		m.log.WithError(err).WithField("device_id", d.ID).Warn("failed clearing stale connection")
	}
	if err := m.store.AppendAlert(ctx, &registry.Alert{
		DeviceID: d.ID,
		Type:     model.AlertDeviceOffline.String(),
		Detail: map[string]any{
			"last_health_check": d.LastHealthCheck,
		},
	}); err != nil {
		m.log.WithError(err).WithField("device_id", d.ID).Error("failed to append offline alert")
		return
	}
	metrics.HealthOfflineTotal.Inc()
	m.log.WithField("device_id", d.ID).Warn("device marked offline")
}
