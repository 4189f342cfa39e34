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

// Package broker is C8: the process-wide mochi-mqtt server instance, its
// TLS-only listener, and the mutex-guarded start/stop lifecycle cert
// rotation restarts against.
package broker

import (
	"context"
	"fmt"
	"sync"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/sirupsen/logrus"

	tlspkg "github.com/hearthiot/hub-core/pkg/tls"
)

// listenerID names the broker's single TLS listener.
const listenerID = "hub-tls"

// Config is everything Start needs to (re)build the broker: the TLS
// material paths are re-read from disk on every Start call so a restart
// triggered by pkg/certrotate always picks up freshly rotated files.
type Config struct {
	Address             string
	KeystorePath        string
	KeystorePassword    string
	TruststorePath      string
	TruststorePassword  string
	Hook                mqtt.Hook
	Log                 *logrus.Entry
}

// Broker owns the single mochi-mqtt server instance. Plaintext listeners
// are never added — only the TLS listener with required client
// certificates, per spec.md §4.8.
type Broker struct {
	cfg Config
	log *logrus.Entry

	mu     sync.Mutex
	server *mqtt.Server
}

// New returns a Broker that has not yet been started.
func New(cfg Config) *Broker {
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Broker{cfg: cfg, log: log.WithField("component", "broker")}
}

// Start is idempotent: a second call while the broker is already running
// is a no-op, per the double-checked-lock requirement of §4.8.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.server != nil {
		return nil
	}

	material, err := tlspkg.LoadServerMaterial(b.cfg.KeystorePath, b.cfg.KeystorePassword, b.cfg.TruststorePath, b.cfg.TruststorePassword)
	if err != nil {
		return fmt.Errorf("broker: load tls material: %w", err)
	}
	tlsConfig := tlspkg.ServerTLSConfig(material)

	server := mqtt.New(nil)
	if err := server.AddHook(b.cfg.Hook, nil); err != nil {
		return fmt.Errorf("broker: add hook: %w", err)
	}

	listener := listeners.NewTCP(listeners.Config{ID: listenerID, Address: b.cfg.Address, TLSConfig: tlsConfig})
	if err := server.AddListener(listener); err != nil {
		return fmt.Errorf("broker: add tls listener: %w", err)
	}

	go func() {
		if err := server.Serve(); err != nil {
			b.log.WithError(err).Error("mqtt server stopped serving")
		}
	}()

	b.server = server
	b.log.WithField("address", b.cfg.Address).Info("broker started")
	return nil
}

// Stop is the symmetric idempotent counterpart to Start.
func (b *Broker) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.server == nil {
		return nil
	}
	err := b.server.Close()
	b.server = nil
	b.log.Info("broker stopped")
	if err != nil {
		return fmt.Errorf("broker: close: %w", err)
	}
	return nil
}

// Restart stops and starts the broker, re-reading TLS material from disk.
// It is the RestartFunc pkg/certrotate.Rotator drives.
func (b *Broker) Restart(ctx context.Context) error {
	if err := b.Stop(ctx); err != nil {
		return err
	}
	return b.Start(ctx)
}
