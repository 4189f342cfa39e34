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

	"github.com/hearthiot/hub-core/pkg/model"
)

// AdminService wraps Store.UpdateStatus with the audit-alert emission
// spec.md §4.2 requires of whichever caller performs a status transition:
// every approve/reject/unblock/mark-critical call appends the matching
// alert row in the same logical operation as the status change.
type AdminService struct {
	store Store
}

// NewAdminService returns an AdminService backed by store.
func NewAdminService(store Store) *AdminService {
	return &AdminService{store: store}
}

func (a *AdminService) transition(ctx context.Context, actorID, deviceID string, from []string, to model.DeviceStatus, alert model.AlertType) (*Device, error) {
	d, err := a.store.UpdateStatus(ctx, deviceID, from, to.String())
	if err != nil {
		return nil, fmt.Errorf("registry: admin %s: %w", alert, err)
	}
	if err := a.store.AppendAlert(ctx, &Alert{DeviceID: deviceID, Type: alert.String()}); err != nil {
		return nil, fmt.Errorf("registry: admin %s: alert: %w", alert, err)
	}
	if err := a.store.AppendAudit(ctx, &AuditLog{ActorID: actorID, DeviceID: deviceID, Action: alert.String()}); err != nil {
		return nil, fmt.Errorf("registry: admin %s: audit: %w", alert, err)
	}
	return d, nil
}

// Approve moves a PENDING device to APPROVED.
func (a *AdminService) Approve(ctx context.Context, actorID, deviceID string) (*Device, error) {
	return a.transition(ctx, actorID, deviceID, []string{model.StatusPending.String()}, model.StatusApproved, model.AlertDeviceApproved)
}

// Reject moves a PENDING device to REJECTED.
func (a *AdminService) Reject(ctx context.Context, actorID, deviceID string) (*Device, error) {
	return a.transition(ctx, actorID, deviceID, []string{model.StatusPending.String()}, model.StatusRejected, model.AlertDeviceRejected)
}

// Unblock moves a BLOCKED device back to APPROVED. Only an admin calls
// this path; the clone-detection policy never unblocks automatically.
func (a *AdminService) Unblock(ctx context.Context, actorID, deviceID string) (*Device, error) {
	return a.transition(ctx, actorID, deviceID, []string{model.StatusBlocked.String()}, model.StatusApproved, model.AlertDeviceUnblocked)
}

// MarkCritical sets or clears the device's critical flag and records the
// change as an audited, alerted action.
func (a *AdminService) MarkCritical(ctx context.Context, actorID, deviceID string, critical bool) error {
	if err := a.store.MarkCritical(ctx, deviceID, critical); err != nil {
		return fmt.Errorf("registry: mark critical: %w", err)
	}
	if err := a.store.AppendAlert(ctx, &Alert{DeviceID: deviceID, Type: model.AlertDeviceMarkedCritical.String(), Detail: map[string]any{"critical": critical}}); err != nil {
		return fmt.Errorf("registry: mark critical: alert: %w", err)
	}
	return a.store.AppendAudit(ctx, &AuditLog{ActorID: actorID, DeviceID: deviceID, Action: model.AlertDeviceMarkedCritical.String()})
}

// Block transitions an APPROVED device to BLOCKED outside of the automatic
// clone-detection path, for an admin acting directly on suspicion.
func (a *AdminService) Block(ctx context.Context, actorID, deviceID string) (*Device, error) {
	return a.transition(ctx, actorID, deviceID, []string{model.StatusApproved.String()}, model.StatusBlocked, model.AlertDeviceCloneDetected)
}
