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

// Package deviceauth implements C3: classifying an MQTT clientId, matching
// it against the device registry, and deciding what to do when the same
// device shows up twice at once.
package deviceauth

import (
	"errors"
	"strings"

	"github.com/hearthiot/hub-core/pkg/model"
)

const (
	devicePrefix       = "IOT"
	adminPrefix        = "ADMIN_"
	controllerClientID = "controller-cmd"
	deviceClientIDLen  = 13 // "IOT" + 4 serial digits + 6 hex MAC chars
)

// ErrMalformedClientID is returned by ParseClientID when clientId does not
// match the fixed-width device clientId grammar.
var ErrMalformedClientID = errors.New("deviceauth: malformed client id")

// ParsedClientID is what a device-class clientId decomposes into.
type ParsedClientID struct {
	SerialSuffix string // last 4 digits of the device serial number
	MACPrefixHex string // first 6 hex characters (3 bytes) of the device MAC
}

// ParseClientID validates and decomposes a device clientId. Anything not
// exactly 13 characters long, or not starting with the IOT prefix, is
// rejected outright — the strict-length redesign decision.
func ParseClientID(clientID string) (ParsedClientID, error) {
	if len(clientID) != deviceClientIDLen || !strings.HasPrefix(clientID, devicePrefix) {
		return ParsedClientID{}, ErrMalformedClientID
	}
	rest := clientID[len(devicePrefix):]
	return ParsedClientID{
		SerialSuffix: rest[:4],
		MACPrefixHex: rest[4:],
	}, nil
}

// ClassifyClientID reports which class of client a clientId belongs to,
// without validating a device clientId's structure.
func ClassifyClientID(clientID string) model.ClientClass {
	switch {
	case clientID == controllerClientID:
		return model.ClassController
	case strings.HasPrefix(clientID, adminPrefix):
		return model.ClassAdmin
	default:
		return model.ClassDevice
	}
}
