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

// Package model holds the shared, string-backed domain types that flow
// between the registry, authenticator, authorizator and interceptor
// packages. Keeping them as distinct types instead of bare strings lets
// the compiler catch a misplaced status or outcome before it ever reaches
// the wire.
package model

import "fmt"

// DeviceStatus is the lifecycle state of a registered device.
type DeviceStatus string

const (
	StatusPending  DeviceStatus = "PENDING"
	StatusApproved DeviceStatus = "APPROVED"
	StatusRejected DeviceStatus = "REJECTED"
	StatusBlocked  DeviceStatus = "BLOCKED"
)

// Valid reports whether s is one of the four closed device states.
func (s DeviceStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusBlocked:
		return true
	}
	return false
}

func (s DeviceStatus) String() string { return string(s) }

// ValidationOutcome is the result of authenticating a CONNECT attempt
// against the registry.
type ValidationOutcome string

const (
	OutcomeValid         ValidationOutcome = "VALID"
	OutcomeNotFound      ValidationOutcome = "NOT_FOUND"
	OutcomeBlocked       ValidationOutcome = "BLOCKED"
	OutcomePendingStatus ValidationOutcome = "PENDING"
	OutcomeInvalidStatus ValidationOutcome = "INVALID_STATUS"
	OutcomeMalformed     ValidationOutcome = "MALFORMED_CLIENT_ID"
)

func (o ValidationOutcome) Valid() bool {
	switch o {
	case OutcomeValid, OutcomeNotFound, OutcomeBlocked, OutcomePendingStatus, OutcomeInvalidStatus, OutcomeMalformed:
		return true
	}
	return false
}

func (o ValidationOutcome) String() string { return string(o) }

// CloneAction is what the authenticator decided to do about a duplicate
// connection from the same logical device.
type CloneAction string

const (
	ActionReconnect     CloneAction = "RECONNECT"
	ActionBlockDevice   CloneAction = "BLOCK_DEVICE"
	ActionAllowParallel CloneAction = "ALLOW_PARALLEL"
	ActionReject        CloneAction = "REJECT"
)

func (a CloneAction) Valid() bool {
	switch a {
	case ActionReconnect, ActionBlockDevice, ActionAllowParallel, ActionReject:
		return true
	}
	return false
}

func (a CloneAction) String() string { return string(a) }

// ClientClass distinguishes the three kinds of MQTT client that connect to
// the hub: a managed device, the fleet controller, or a human/admin client.
type ClientClass string

const (
	ClassDevice     ClientClass = "DEVICE"
	ClassController ClientClass = "CONTROLLER"
	ClassAdmin      ClientClass = "ADMIN"
)

func (c ClientClass) Valid() bool {
	switch c {
	case ClassDevice, ClassController, ClassAdmin:
		return true
	}
	return false
}

func (c ClientClass) String() string { return string(c) }

// DeviceType enumerates the device categories validated during
// registration.
type DeviceType string

const (
	DeviceTypeTempSensor   DeviceType = "TEMP_SENSOR"
	DeviceTypeSmartPlug    DeviceType = "SMART_PLUG"
	DeviceTypeEnergySensor DeviceType = "ENERGY_SENSOR"
	DeviceTypeSmartSwitch  DeviceType = "SMART_SWITCH"
)

func (t DeviceType) Valid() bool {
	switch t {
	case DeviceTypeTempSensor, DeviceTypeSmartPlug, DeviceTypeEnergySensor, DeviceTypeSmartSwitch:
		return true
	}
	return false
}

func (t DeviceType) String() string { return string(t) }

// AlertType enumerates every alert row the hub can append to the audit
// trail. New entries added by the redesign decisions sit alongside the
// ones spec.md's data model already names.
type AlertType string

const (
	AlertDeviceReconnection       AlertType = "DEVICE_RECONNECTION"
	AlertCriticalDeviceClone      AlertType = "CRITICAL_DEVICE_CLONE_ATTEMPT"
	AlertDeviceCloneDetected      AlertType = "DEVICE_CLONE_DETECTED"
	AlertMacMismatch              AlertType = "MAC_MISMATCH"
	AlertTimeDrift                AlertType = "TIME_DRIFT"
	AlertInvalidTimestamp         AlertType = "INVALID_TIMESTAMP"
	AlertHealthCheckRejectedBlock AlertType = "HEALTH_CHECK_REJECTED_BLOCKED"
	AlertHealthCheckRejectedNoConn AlertType = "HEALTH_CHECK_REJECTED_NO_CONNECTION"
	AlertDeviceOffline            AlertType = "DEVICE_OFFLINE"
	AlertDeviceApproved           AlertType = "DEVICE_APPROVED"
	AlertDeviceRejected           AlertType = "DEVICE_REJECTED"
	AlertDeviceUnblocked          AlertType = "DEVICE_UNBLOCKED"
	AlertDeviceMarkedCritical     AlertType = "DEVICE_MARKED_CRITICAL"
	AlertConnectionReassigned     AlertType = "CONNECTION_REASSIGNED"
	AlertMalformedClientID        AlertType = "MALFORMED_CLIENT_ID"
	AlertDeviceRegistration       AlertType = "DEVICE_REGISTRATION"
	AlertRegistrationError        AlertType = "REGISTRATION_ERROR"
	AlertHealthCheckError         AlertType = "HEALTH_CHECK_ERROR"
	AlertInvalidMacFormat         AlertType = "INVALID_MAC_FORMAT"
	AlertDeviceNotFound           AlertType = "DEVICE_NOT_FOUND"
	AlertConnectionError          AlertType = "CONNECTION_ERROR"
	AlertConnectDenylisted        AlertType = "CONNECT_DENYLISTED"
)

func (a AlertType) String() string { return string(a) }

// ErrInvalidEnum is returned by the Parse* constructors when a wire value does
// not belong to the type's closed set.
type ErrInvalidEnum struct {
	Type  string
	Value string
}

func (e *ErrInvalidEnum) Error() string {
	return fmt.Sprintf("model: %q is not a valid %s", e.Value, e.Type)
}

// ParseDeviceStatus converts a wire/DB string into a DeviceStatus.
func ParseDeviceStatus(s string) (DeviceStatus, error) {
	v := DeviceStatus(s)
	if !v.Valid() {
		return "", &ErrInvalidEnum{Type: "DeviceStatus", Value: s}
	}
	return v, nil
}

// ParseDeviceType converts a wire/DB string into a DeviceType.
func ParseDeviceType(s string) (DeviceType, error) {
	v := DeviceType(s)
	if !v.Valid() {
		return "", &ErrInvalidEnum{Type: "DeviceType", Value: s}
	}
	return v, nil
}
