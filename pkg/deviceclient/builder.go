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

package deviceclient

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// Builder assembles a Device's paho options before connecting, the way
// the original firmware's MqttClient builder staged will message, auth
// and reconnect settings before opening the socket.
type Builder struct {
	cfg Config
}

// NewBuilder starts building a device client from cfg. Broker, Serial and
// MAC are required; everything else defaults.
func NewBuilder(cfg Config) *Builder {
	return &Builder{cfg: cfg}
}

// Build derives the clientId, wires the last-will message and returns a
// Device ready for Connect.
func (b *Builder) Build() (*Device, error) {
	if b.cfg.Broker == "" || b.cfg.Serial == "" || b.cfg.MAC == "" {
		return nil, fmt.Errorf("deviceclient: broker, serial and mac are required")
	}
	if b.cfg.ControllerID == "" {
		b.cfg.ControllerID = "controller-01"
	}
	log := b.cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	id := clientID(b.cfg.Serial, b.cfg.MAC)

	will, err := json.Marshal(willPayload{Serial: b.cfg.Serial, Reason: "connection_lost"})
	if err != nil {
		return nil, fmt.Errorf("deviceclient: marshal will payload: %w", err)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.cfg.Broker)
	opts.SetClientID(id)
	opts.SetTLSConfig(b.cfg.TLSConfig)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetWill(offlineTopic(b.cfg.ControllerID, b.cfg.Serial), string(will), 1, false)

	return &Device{
		cfg:        b.cfg,
		clientID:   id,
		client:     mqtt.NewClient(opts),
		log:        log.WithField("component", "deviceclient").WithField("client_id", id),
		stopHealth: make(chan struct{}),
	}, nil
}
