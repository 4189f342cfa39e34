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

// package main is a standalone device simulator exercising
// pkg/deviceclient against a running hub broker, standing in for real
// firmware during manual testing.
package main

import (
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	pkcs12 "golang.org/x/crypto/pkcs12"

	"github.com/hearthiot/hub-core/pkg/deviceclient"
)

func main() {
	broker := flag.String("broker", "tls://localhost:8884", "hub broker address")
	controllerID := flag.String("controller-id", "controller-01", "controller id segment of the topic grammar")
	serial := flag.String("serial", "", "device serial number")
	mac := flag.String("mac", "", "device MAC address")
	deviceType := flag.String("type", "TEMP_SENSOR", "device type: TEMP_SENSOR|SMART_PLUG|ENERGY_SENSOR|SMART_SWITCH")
	keystorePath := flag.String("keystore", "", "path to the device's PKCS12 keystore")
	keystorePassword := flag.String("keystore-password", "", "keystore password")
	healthInterval := flag.Duration("health-interval", deviceclient.DefaultHealthInterval, "health publish interval")
	flag.Parse()

	log := logrus.NewEntry(logrus.StandardLogger()).WithField("component", "device-sim")

	if *serial == "" || *mac == "" {
		fmt.Fprintln(os.Stderr, "device-sim: -serial and -mac are required")
		os.Exit(1)
	}

	var tlsConfig *tls.Config
	if *keystorePath != "" {
		var err error
		tlsConfig, err = loadDeviceTLSConfig(*keystorePath, *keystorePassword)
		if err != nil {
			log.WithError(err).Fatal("failed to load device keystore")
		}
	}

	device, err := deviceclient.NewBuilder(deviceclient.Config{
		Broker:         *broker,
		ControllerID:   *controllerID,
		Serial:         *serial,
		MAC:            *mac,
		DeviceType:     deviceclient.Class(*deviceType),
		TLSConfig:      tlsConfig,
		HealthInterval: *healthInterval,
		Log:            log,
	}).Build()
	if err != nil {
		log.WithError(err).Fatal("failed to build device client")
	}

	if err := device.Connect(); err != nil {
		log.WithError(err).Fatal("failed to connect")
	}
	log.WithField("serial", *serial).Info("device connected and registered")

	go publishSampleTelemetry(device, *deviceType)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	device.Close()
	log.Info("device-sim shut down")
}

func publishSampleTelemetry(device *deviceclient.Device, deviceType string) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		payload := fmt.Sprintf(`{"measurement":"%s","value":%.2f}`, sampleMeasurement(deviceType), rand.Float64()*100)
		_ = device.PublishTelemetry([]byte(payload))
	}
}

func sampleMeasurement(deviceType string) string {
	switch deviceType {
	case "SMART_PLUG", "SMART_SWITCH":
		return "state"
	default:
		return "temperature"
	}
}

// loadDeviceTLSConfig decodes a device's PKCS12 keystore into the
// tls.Config it presents its client certificate with, mirroring
// pkg/tls.LoadServerMaterial's Decode usage on the broker side.
func loadDeviceTLSConfig(path, password string) (*tls.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("device-sim: read keystore: %w", err)
	}
	key, leaf, err := pkcs12.Decode(raw, password)
	if err != nil {
		return nil, fmt.Errorf("device-sim: decode keystore: %w", err)
	}
	cert := tls.Certificate{Certificate: [][]byte{leaf.Raw}, PrivateKey: key, Leaf: leaf}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      x509.NewCertPool(),
	}, nil
}
