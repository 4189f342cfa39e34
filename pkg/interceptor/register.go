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

package interceptor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/hearthiot/hub-core/pkg/hashid"
	"github.com/hearthiot/hub-core/pkg/model"
	"github.com/hearthiot/hub-core/pkg/registry"
)

type registerBody struct {
	Serial          string `json:"serial"`
	MAC             string `json:"mac"`
	DeviceType      string `json:"device_type"`
	FirmwareVersion string `json:"firmware_version"`
	HardwareVersion string `json:"hardware_version"`
}

// handleRegister implements the /register recognizer of §4.5: validates
// the payload shape and MAC format, finds-or-creates the device row by
// composite hash, auto-approves it if a pre-seeded same-serial APPROVED
// row already exists, and reconciles the CONNECT-time placeholder
// connection onto the resolved device id.
func (h *Hook) handleRegister(ctx context.Context, clientID, ip string, payload []byte) {
	var body registerBody
	if err := json.Unmarshal(payload, &body); err != nil {
		h.log.WithError(err).WithField("client_id", clientID).Warn("register payload is not valid JSON")
		h.alert(ctx, "", model.AlertRegistrationError, map[string]any{"client_id": clientID, "error": err.Error()})
		return
	}
	if err := validate(h.schemas.register, body); err != nil {
		h.log.WithError(err).WithField("client_id", clientID).Warn("register payload failed schema validation")
		h.alert(ctx, "", model.AlertRegistrationError, map[string]any{"client_id": clientID, "error": err.Error()})
		return
	}
	if !validMACFormat(body.MAC) {
		h.alert(ctx, "", model.AlertInvalidMacFormat, map[string]any{"client_id": clientID, "mac": body.MAC})
		return
	}

	deviceType := strings.ToUpper(body.DeviceType)
	if deviceType != "" {
		if _, err := model.ParseDeviceType(deviceType); err != nil {
			h.alert(ctx, "", model.AlertRegistrationError, map[string]any{
				"client_id": clientID, "error": "unrecognized device_type: " + body.DeviceType,
			})
			return
		}
	}

	ident := hashid.NewIdentity(body.Serial, normalizeMAC(body.MAC))
	device, created, err := h.resolveOrCreateDevice(ctx, clientID, ident, deviceType)
	if err != nil {
		h.log.WithError(err).WithField("client_id", clientID).Error("registration failed")
		h.alert(ctx, "", model.AlertRegistrationError, map[string]any{"client_id": clientID, "error": err.Error()})
		return
	}

	h.reconcileConnection(ctx, clientID, device.ID, ip)

	h.alert(ctx, device.ID, model.AlertDeviceRegistration, map[string]any{
		"client_id": clientID, "serial_hash": ident.SerialHash, "created": created, "device_type": deviceType,
	})
}

// resolveOrCreateDevice finds the device by composite hash or creates it
// PENDING. A brand-new device whose serial hash matches an existing
// APPROVED row is auto-approved, per §4.5's "pre-seeded" clause.
func (h *Hook) resolveOrCreateDevice(ctx context.Context, clientID string, ident hashid.Identity, deviceType string) (*registry.Device, bool, error) {
	d := &registry.Device{
		SerialHash:    ident.SerialHash,
		MACHash:       ident.MACHash,
		CompositeHash: ident.CompositeHash,
		ClientID:      clientID,
		DeviceType:    deviceType,
		Status:        model.StatusPending.String(),
	}
	// Look the serial up before inserting, so the lookup cannot return the
	// row this call is about to create.
	preseeded, perr := h.store.FindBySerialHash(ctx, ident.SerialHash)
	device, created, err := h.store.UpsertIfNotExists(ctx, d)
	if err != nil {
		return nil, false, err
	}
	if !created {
		return device, false, nil
	}

	if perr != nil && !errors.Is(perr, registry.ErrNotFound) {
		h.log.WithError(perr).Warn("pre-seeded device lookup failed, leaving new device PENDING")
		return device, true, nil
	}
	if preseeded != nil && preseeded.ID != device.ID && preseeded.Status == model.StatusApproved.String() {
		if approved, err := h.store.UpdateStatus(ctx, device.ID, []string{model.StatusPending.String()}, model.StatusApproved.String()); err == nil {
			return approved, true, nil
		}
	}
	return device, true, nil
}

// reconcileConnection moves the CONNECT-time placeholder connection
// (filed under the raw clientId because no device row existed yet) onto
// the now-resolved device id, per REDESIGN FLAG 1.
func (h *Hook) reconcileConnection(ctx context.Context, clientID, deviceID, ip string) {
	conn, err := h.store.GetConnection(ctx, clientID)
	if errors.Is(err, registry.ErrNoActiveConnection) {
		if _, err := h.store.OpenConnection(ctx, deviceID, clientID, ip); err != nil {
			h.log.WithError(err).Error("open connection after registration failed")
		}
		return
	}
	if err != nil {
		h.log.WithError(err).Error("lookup of placeholder connection failed")
		return
	}
	if conn.DeviceID == deviceID {
		return
	}
	if err := h.store.ReassignConnection(ctx, clientID, deviceID, clientID, ip); err != nil {
		h.log.WithError(err).Error("reassign connection failed")
		return
	}
	h.alert(ctx, deviceID, model.AlertConnectionReassigned, map[string]any{
		"client_id": clientID, "from_device_id": clientID, "to_device_id": deviceID,
	})
}
