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

// Package telemetry implements C6: turning a raw publish on a device's
// telemetry topic into a registry row. The raw payload is always stored,
// whether or not it parses as JSON — the registry is the record of what a
// device actually sent, not of what the hub managed to understand.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/hearthiot/hub-core/pkg/metrics"
	"github.com/hearthiot/hub-core/pkg/registry"
)

// MaxPayloadSize is the hard cap on a telemetry publish, matching the
// original service's guard against a misbehaving or malicious device
// flooding the hub with an oversized message.
const MaxPayloadSize = 512 * 1024

// ErrPayloadTooLarge is returned when a telemetry payload exceeds MaxPayloadSize.
var ErrPayloadTooLarge = errors.New("telemetry: payload exceeds 512KB limit")

// ErrNotUTF8 is returned when a telemetry payload is not valid UTF-8 text.
var ErrNotUTF8 = errors.New("telemetry: payload is not valid UTF-8")

// Topic is the decomposition of home/<controllerId>/devices/<serial>/telemetry.
type Topic struct {
	ControllerID string
	Serial       string
}

// ParseTopic splits a telemetry topic into its controller and serial
// segments without a regular expression, mirroring the split-based parser
// the original service used.
func ParseTopic(topic string) (Topic, bool) {
	segs := strings.Split(topic, "/")
	if len(segs) != 5 || segs[0] != "home" || segs[2] != "devices" || segs[4] != "telemetry" {
		return Topic{}, false
	}
	return Topic{ControllerID: segs[1], Serial: segs[3]}, true
}

type bestEffortBody struct {
	Timestamp   string  `json:"timestamp"`
	Measurement string  `json:"measurement"`
	Value       float64 `json:"value"`
}

// Ingestor persists telemetry rows to the registry, enforcing the payload
// guards spec.md §4.6 describes.
type Ingestor struct {
	store registry.Store
	log   *logrus.Entry
}

// New returns an Ingestor backed by store.
func New(store registry.Store, log *logrus.Entry) *Ingestor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Ingestor{store: store, log: log.WithField("component", "telemetry")}
}

// Ingest validates and stores one telemetry publish. A size or UTF-8 guard
// failure rejects the message outright; everything that passes the guards
// is stored raw regardless of whether it also parses as JSON.
func (i *Ingestor) Ingest(ctx context.Context, deviceID, topic string, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	if !utf8.Valid(payload) {
		return ErrNotUTF8
	}

	row := &registry.TelemetryRow{
		DeviceID:   deviceID,
		Topic:      topic,
		RawPayload: payload,
	}

	var body bestEffortBody
	if err := json.NewDecoder(bytes.NewReader(payload)).Decode(&body); err == nil {
		row.Measurement = body.Measurement
		if body.Value != 0 {
			v := body.Value
			row.Value = &v
		}
		row.Timestamp = parseTimestamp(body.Timestamp)
	} else {
		i.log.WithField("device_id", deviceID).Debug("telemetry payload is not JSON, storing raw only")
	}

	if err := i.store.InsertTelemetry(ctx, row); err != nil {
		return fmt.Errorf("telemetry: ingest: %w", err)
	}
	metrics.TelemetryIngestedTotal.Inc()
	return nil
}

// isoLocalDateTime is Go's rendering of Java's ISO_LOCAL_DATE_TIME layout:
// a date and time with no zone offset, e.g. "2025-01-01T00:00:00".
const isoLocalDateTime = "2006-01-02T15:04:05"

// parseTimestamp tries ISO local datetime first, then RFC 3339 with a zone,
// then falls back to a bare unix-seconds integer, mirroring the original's
// ISO_LOCAL_DATE_TIME-then-Instant.parse fallback chain. An unparseable or
// empty timestamp yields the zero time, which Ingest leaves as NULL.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(isoLocalDateTime, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	return time.Time{}
}
