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

// Package hashid turns device serial numbers and MAC addresses into the
// one-way hashes the registry stores and indexes on. No device secret is
// ever persisted in the clear.
package hashid

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the lowercase hex-encoded SHA-256 digest of value.
func Hash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// Composite returns the hash of the serial and MAC joined with a pipe, the
// key the registry uses to recognize "this exact device" independent of
// which of the two identifiers a given message carries.
func Composite(serial, mac string) string {
	return Hash(serial + "|" + mac)
}

// Identity bundles the three hashes a registry row is keyed and looked up
// by, computed once per inbound registration message.
type Identity struct {
	SerialHash    string
	MACHash       string
	CompositeHash string
}

// NewIdentity computes all three hashes for a (serial, mac) pair.
func NewIdentity(serial, mac string) Identity {
	return Identity{
		SerialHash:    Hash(serial),
		MACHash:       Hash(mac),
		CompositeHash: Composite(serial, mac),
	}
}
