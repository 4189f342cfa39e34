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

package deviceauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/hearthiot/hub-core/pkg/model"
	"github.com/hearthiot/hub-core/pkg/registry"
)

// Authenticator validates CONNECT attempts against the device registry and
// arbitrates duplicate connections from the same logical device.
type Authenticator struct {
	store registry.Store
	log   *logrus.Entry
}

// New returns an Authenticator backed by store.
func New(store registry.Store, log *logrus.Entry) *Authenticator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Authenticator{store: store, log: log.WithField("component", "deviceauth")}
}

// Result is the outcome of validating a device's CONNECT attempt.
type Result struct {
	Outcome model.ValidationOutcome
	Device  *registry.Device // nil when Outcome == OutcomeMalformed or OutcomeNotFound
}

// ValidateDevice checks clientId's shape, then resolves it against the
// registry by the exact clientId a device was assigned at registration
// time, and classifies the device's current status into a ValidationOutcome.
func (a *Authenticator) ValidateDevice(ctx context.Context, clientID string) Result {
	if _, err := ParseClientID(clientID); err != nil {
		return Result{Outcome: model.OutcomeMalformed}
	}

	d, err := a.findByClientID(ctx, clientID)
	if errors.Is(err, registry.ErrNotFound) {
		return Result{Outcome: model.OutcomeNotFound}
	}
	if err != nil {
		a.log.WithError(err).Error("device lookup failed")
		return Result{Outcome: model.OutcomeNotFound}
	}

	switch model.DeviceStatus(d.Status) {
	case model.StatusApproved:
		return Result{Outcome: model.OutcomeValid, Device: d}
	case model.StatusBlocked:
		return Result{Outcome: model.OutcomeBlocked, Device: d}
	case model.StatusPending:
		return Result{Outcome: model.OutcomePendingStatus, Device: d}
	default:
		return Result{Outcome: model.OutcomeInvalidStatus, Device: d}
	}
}

func (a *Authenticator) findByClientID(ctx context.Context, clientID string) (*registry.Device, error) {
	all, err := a.store.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range all {
		if d.ClientID == clientID {
			return d, nil
		}
	}
	return nil, registry.ErrNotFound
}

// CloneDecision is the outcome of arbitrating a duplicate connection.
type CloneDecision struct {
	Action model.CloneAction
	Alert  model.AlertType
	Detail map[string]any
}

// CheckDuplicateConnection inspects whether deviceID already holds an
// active connection and, if so, decides what to do about the new one per
// the same-IP / critical / non-critical clone-policy table. A nil decision
// with a nil error means there was nothing to arbitrate.
func (a *Authenticator) CheckDuplicateConnection(ctx context.Context, deviceID string, critical bool, newIP string) (*CloneDecision, error) {
	existing, err := a.store.GetConnection(ctx, deviceID)
	if errors.Is(err, registry.ErrNoActiveConnection) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("deviceauth: check duplicate connection: %w", err)
	}

	detail := map[string]any{
		"old_ip":              existing.IPAddress,
		"new_ip":              newIP,
		"device_critical":     critical,
		"old_connection_time": existing.ConnectedAt,
	}

	switch {
	case existing.IPAddress == newIP:
		detail["action_taken"] = "CLOSED_OLD_ALLOWED_NEW"
		return &CloneDecision{Action: model.ActionReconnect, Alert: model.AlertDeviceReconnection, Detail: detail}, nil
	case critical:
		detail["action_taken"] = "REJECTED_NEW_KEPT_OLD"
		return &CloneDecision{Action: model.ActionReject, Alert: model.AlertCriticalDeviceClone, Detail: detail}, nil
	default:
		detail["action_taken"] = "BLOCKED_DEVICE_DISCONNECTED_BOTH"
		return &CloneDecision{Action: model.ActionBlockDevice, Alert: model.AlertDeviceCloneDetected, Detail: detail}, nil
	}
}
