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

// Package authz implements C4: the deny-by-default ACL policy the broker
// consults on every publish and subscribe attempt. The decision function
// is pure — it takes a classified client identity and a topic string and
// returns an allow/deny verdict, with no I/O of its own — so the mochi
// hook adapter in pkg/interceptor is the only place that touches the
// broker's types.
package authz

import (
	"strings"

	"github.com/hearthiot/hub-core/pkg/model"
)

// Action is the kind of access being requested.
type Action int

const (
	Read  Action = iota // subscribe
	Write               // publish
)

// topicParts is the decomposition of home/<controllerId>/devices/<serial>/<leaf>.
type topicParts struct {
	controllerID string
	serial       string
	leaf         string
}

func parseTopic(topic string) (topicParts, bool) {
	segs := strings.Split(topic, "/")
	if len(segs) != 5 || segs[0] != "home" || segs[2] != "devices" {
		return topicParts{}, false
	}
	return topicParts{controllerID: segs[1], serial: segs[3], leaf: segs[4]}, true
}

const (
	leafRegister  = "register"
	leafHealth    = "health"
	leafTelemetry = "telemetry"
	leafCmd       = "cmd"
)

func (l topicParts) validLeaf() bool {
	switch l.leaf {
	case leafRegister, leafHealth, leafTelemetry, leafCmd:
		return true
	}
	return false
}

// Identity is the classified caller the policy decides for. For a device
// caller, Status must be the registry's current status for that device —
// Decide has no store access of its own, so the interceptor resolves it
// before calling in.
type Identity struct {
	Class        model.ClientClass
	SerialSuffix string             // last 4 digits of the device's serial, only meaningful when Class == ClassDevice
	Status       model.DeviceStatus // device's current registry status, only meaningful when Class == ClassDevice
}

// Decide returns whether id may perform action on topic. A bare "#" is
// allowed only as an admin subscribe; otherwise admins and controllers may
// use any topic, devices are checked by decideForDevice, and every other
// class is denied.
func Decide(id Identity, action Action, topic string) bool {
	if topic == "#" {
		return action == Read && id.Class == model.ClassAdmin
	}

	switch id.Class {
	case model.ClassAdmin, model.ClassController:
		return true
	case model.ClassDevice:
		return decideForDevice(id, action, topic)
	default:
		return false
	}
}

// decideForDevice implements rules 4 and 5: a device may publish to its own
// register/health/telemetry leaves, and subscribe only to its own /cmd
// leaf, and only while its registry status is APPROVED.
func decideForDevice(id Identity, action Action, topic string) bool {
	parts, ok := parseTopic(topic)
	if !ok || !parts.validLeaf() {
		return false
	}
	if !sameSerialTail(parts.serial, id.SerialSuffix) {
		return false
	}
	if id.Status != model.StatusApproved {
		return false
	}
	if action == Write {
		return parts.leaf != leafCmd // devices never publish commands, only receive them
	}
	return parts.leaf == leafCmd // devices subscribe only to their own commands
}

// sameSerialTail implements the best-effort clientId/topic serial check:
// only the last 4 digits of the topic's serial are compared against the
// clientId's serial suffix, since the registry never holds a device's
// plaintext serial number to compare in full.
func sameSerialTail(topicSerial, suffix string) bool {
	if len(suffix) != 4 || len(topicSerial) < 4 {
		return false
	}
	return topicSerial[len(topicSerial)-4:] == suffix
}
