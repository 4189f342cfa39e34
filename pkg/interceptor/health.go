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
	"time"

	"github.com/hearthiot/hub-core/pkg/hashid"
	"github.com/hearthiot/hub-core/pkg/model"
	"github.com/hearthiot/hub-core/pkg/registry"
)

// maxClockSkew is the health-check timestamp drift tolerance of §4.5.
const maxClockSkew = 5 * time.Minute

type healthBody struct {
	Serial       string   `json:"serial"`
	MAC          string   `json:"mac"`
	Timestamp    string   `json:"timestamp"`
	BatteryLevel *float64 `json:"battery_level,omitempty"`
	Uptime       *float64 `json:"uptime,omitempty"`
}

// handleHealth implements the /health recognizer of §4.5. The device is
// located by its serial hash rather than the composite hash, so a claimed
// MAC that doesn't match the registered one surfaces as MAC_MISMATCH
// instead of masquerading as DEVICE_NOT_FOUND.
func (h *Hook) handleHealth(ctx context.Context, clientID, ip string, payload []byte) {
	var body healthBody
	if err := json.Unmarshal(payload, &body); err != nil {
		h.alert(ctx, "", model.AlertHealthCheckError, map[string]any{"client_id": clientID, "error": err.Error()})
		return
	}
	if err := validate(h.schemas.health, body); err != nil {
		h.alert(ctx, "", model.AlertHealthCheckError, map[string]any{"client_id": clientID, "error": err.Error()})
		return
	}
	if !validMACFormat(body.MAC) {
		h.alert(ctx, "", model.AlertInvalidMacFormat, map[string]any{"client_id": clientID, "mac": body.MAC})
		return
	}

	device, err := h.store.FindBySerialHash(ctx, hashid.Hash(body.Serial))
	if errors.Is(err, registry.ErrNotFound) {
		h.alert(ctx, "", model.AlertDeviceNotFound, map[string]any{"client_id": clientID})
		return
	}
	if err != nil {
		h.log.WithError(err).WithField("client_id", clientID).Error("health device lookup failed")
		h.alert(ctx, "", model.AlertHealthCheckError, map[string]any{"client_id": clientID, "error": err.Error()})
		return
	}

	if device.MACHash != hashid.Hash(normalizeMAC(body.MAC)) {
		h.alert(ctx, device.ID, model.AlertMacMismatch, map[string]any{"client_id": clientID})
		return
	}

	ts, err := time.Parse(time.RFC3339, body.Timestamp)
	if err != nil {
		h.alert(ctx, device.ID, model.AlertInvalidTimestamp, map[string]any{"client_id": clientID, "timestamp": body.Timestamp})
		return
	}
	if drift := time.Since(ts); drift > maxClockSkew || drift < -maxClockSkew {
		h.alert(ctx, device.ID, model.AlertTimeDrift, map[string]any{"client_id": clientID, "drift_seconds": drift.Seconds()})
	}

	if model.DeviceStatus(device.Status) == model.StatusBlocked {
		h.alert(ctx, device.ID, model.AlertHealthCheckRejectedBlock, map[string]any{"client_id": clientID})
		return
	}

	if _, err := h.store.GetConnection(ctx, device.ID); err != nil {
		h.alert(ctx, device.ID, model.AlertHealthCheckRejectedNoConn, map[string]any{"client_id": clientID})
		return
	}

	if model.DeviceStatus(device.Status) != model.StatusApproved {
		return
	}
	if err := h.store.UpdateLastHealthCheck(ctx, device.ID, ip); err != nil {
		h.log.WithError(err).Error("update last health check failed")
	}
	if err := h.store.TouchConnection(ctx, device.ID); err != nil {
		h.log.WithError(err).Error("touch connection failed")
	}
}
