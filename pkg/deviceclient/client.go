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

// Package deviceclient is C10: the SDK a device firmware (or a simulator
// standing in for one) uses to speak to the hub over mutual-TLS MQTT. It
// wraps eclipse/paho.mqtt.golang with the hub's clientId derivation,
// last-will message and registration/health lifecycle.
package deviceclient

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// DefaultHealthInterval matches the 60s default of spec.md §4.10.
const DefaultHealthInterval = 60 * time.Second

// Class is the wire type recognized set a device registers with.
type Class string

const (
	ClassTempSensor   Class = "TEMP_SENSOR"
	ClassSmartPlug    Class = "SMART_PLUG"
	ClassEnergySensor Class = "ENERGY_SENSOR"
	ClassSmartSwitch  Class = "SMART_SWITCH"
)

// isSensor reports whether c is one of the passive-sensor classes that
// publish telemetry at QoS 0, as opposed to an actuator class at QoS 1.
func (c Class) isSensor() bool {
	return c == ClassTempSensor || c == ClassEnergySensor
}

// Config describes one device identity and how it connects.
type Config struct {
	Broker           string // "tls://host:port"
	ControllerID     string
	Serial           string
	MAC              string
	DeviceType       Class
	FirmwareVersion  string
	HardwareVersion  string
	TLSConfig        *tls.Config
	HealthInterval   time.Duration
	Log              *logrus.Entry
}

// Device is a connected device client. Build one with NewBuilder.
type Device struct {
	cfg      Config
	clientID string
	client   mqtt.Client
	log      *logrus.Entry
	stopHealth chan struct{}
}

// clientID derives the 13-character device clientId IOT<4-digit serial
// suffix><6 hex MAC prefix chars>, matching deviceauth.ParseClientID's
// grammar exactly.
func clientID(serial, mac string) string {
	digits := digitsOnly(serial)
	suffix := lastN(digits, 4)
	mac = strings.ToLower(strings.ReplaceAll(mac, "-", ""))
	mac = strings.ReplaceAll(mac, ":", "")
	prefix := firstN(mac, 6)
	return fmt.Sprintf("IOT%s%s", suffix, prefix)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func lastN(s string, n int) string {
	if len(s) >= n {
		return s[len(s)-n:]
	}
	return strings.Repeat("0", n-len(s)) + s
}

func firstN(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	return s + strings.Repeat("0", n-len(s))
}

func registerTopic(controllerID, serial string) string {
	return fmt.Sprintf("home/%s/devices/%s/register", controllerID, serial)
}

func healthTopic(controllerID, serial string) string {
	return fmt.Sprintf("home/%s/devices/%s/health", controllerID, serial)
}

func offlineTopic(controllerID, serial string) string {
	return fmt.Sprintf("home/%s/devices/%s/offline", controllerID, serial)
}

func telemetryTopic(controllerID, serial string) string {
	return fmt.Sprintf("home/%s/devices/%s/telemetry", controllerID, serial)
}

// telemetryQoS returns QoS 0 for sensors and QoS 1 for everything else, per
// spec.md §4.10's "QoS 0 for sensors, QoS 1 for actuators".
func (d *Device) telemetryQoS() byte {
	if d.cfg.DeviceType.isSensor() {
		return 0
	}
	return 1
}

type willPayload struct {
	Serial string `json:"serial"`
	Reason string `json:"reason"`
}

type registerPayload struct {
	Serial          string `json:"serial"`
	MAC             string `json:"mac"`
	DeviceType      string `json:"device_type,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	HardwareVersion string `json:"hardware_version,omitempty"`
}

type healthPayload struct {
	Serial       string  `json:"serial"`
	MAC          string  `json:"mac"`
	Timestamp    string  `json:"timestamp"`
	BatteryLevel float64 `json:"battery_level,omitempty"`
	Uptime       float64 `json:"uptime,omitempty"`
}

// Connect opens the TLS MQTT connection, publishes the registration
// message, and starts the periodic health loop. Connect blocks until the
// initial CONNECT completes or its timeout elapses.
func (d *Device) Connect() error {
	token := d.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("deviceclient: connect timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("deviceclient: connect: %w", err)
	}

	if err := d.register(); err != nil {
		return err
	}

	go d.healthLoop()
	return nil
}

func (d *Device) register() error {
	payload, err := json.Marshal(registerPayload{
		Serial:          d.cfg.Serial,
		MAC:             d.cfg.MAC,
		DeviceType:      string(d.cfg.DeviceType),
		FirmwareVersion: d.cfg.FirmwareVersion,
		HardwareVersion: d.cfg.HardwareVersion,
	})
	if err != nil {
		return fmt.Errorf("deviceclient: marshal register payload: %w", err)
	}
	topic := registerTopic(d.cfg.ControllerID, d.cfg.Serial)
	token := d.client.Publish(topic, 1, false, payload)
	token.Wait()
	return token.Error()
}

func (d *Device) healthLoop() {
	interval := d.cfg.HealthInterval
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopHealth:
			return
		case <-ticker.C:
			if err := d.publishHealth(); err != nil {
				d.log.WithError(err).Warn("health publish failed")
			}
		}
	}
}

func (d *Device) publishHealth() error {
	payload, err := json.Marshal(healthPayload{
		Serial:    d.cfg.Serial,
		MAC:       d.cfg.MAC,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("deviceclient: marshal health payload: %w", err)
	}
	topic := healthTopic(d.cfg.ControllerID, d.cfg.Serial)
	token := d.client.Publish(topic, 1, false, payload)
	token.Wait()
	return token.Error()
}

// PublishTelemetry publishes a raw telemetry payload at the QoS its
// device class calls for.
func (d *Device) PublishTelemetry(payload []byte) error {
	topic := telemetryTopic(d.cfg.ControllerID, d.cfg.Serial)
	token := d.client.Publish(topic, d.telemetryQoS(), false, payload)
	token.Wait()
	return token.Error()
}

// Close stops the health loop and disconnects cleanly, which also cancels
// the last-will so a graceful shutdown never triggers OFFLINE.
func (d *Device) Close() {
	close(d.stopHealth)
	d.client.Disconnect(250)
}
