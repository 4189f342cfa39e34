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

// Package pairing issues the short-lived, single-use codes a device
// presents during provisioning. Codes live only in memory: losing them on
// restart is acceptable because a device that never completed pairing just
// requests a new one.
package pairing

import (
	"crypto/rand"
	"encoding/base32"
	"sync"
	"time"
)

// TTL is how long an issued code remains valid.
const TTL = 5 * time.Minute

// Store tracks outstanding pairing codes.
type Store struct {
	mu    sync.Mutex
	codes map[string]time.Time
	now   func() time.Time
}

// NewStore returns an empty pairing code store.
func NewStore() *Store {
	return &Store{codes: make(map[string]time.Time), now: time.Now}
}

// Issue generates a new single-use code with a TTL-minute expiry.
func (s *Store) Issue() (string, error) {
	code, err := randomCode()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = s.now().Add(TTL)
	return code, nil
}

// Consume reports whether code is currently valid, and if so invalidates
// it so it cannot be presented a second time.
func (s *Store) Consume(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.codes[code]
	if !ok {
		return false
	}
	delete(s.codes, code)
	return s.now().Before(expiry)
}

// Sweep removes expired, never-consumed codes. Callers may run this
// periodically; Consume is already correct without it.
func (s *Store) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for code, expiry := range s.codes {
		if now.After(expiry) {
			delete(s.codes, code)
		}
	}
}

func randomCode() (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}
