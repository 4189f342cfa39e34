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

// Package blacklist is the hub's administrative deny list: clientIds and
// source IPs an operator has banned outright, checked before identity
// resolution even runs. It is a coarser, manually-curated complement to
// the automatic clone-detection policy in pkg/deviceauth — a device goes onto
// this list when an operator decides to ban it, not when the broker
// infers a clone from connection behavior.
package blacklist

import (
	"errors"
	"net"
	"sync"
	"time"
)

// EntryType names what a Manager entry matches a connecting client on.
type EntryType string

const (
	EntryClientID  EntryType = "clientid"
	EntryIPAddress EntryType = "ipaddress"
)

// Entry is a single banned clientId or IP/CIDR.
type Entry struct {
	ID        string
	Type      EntryType
	Value     string
	Reason    string
	CreatedAt time.Time
	ExpiresAt *time.Time
	Enabled   bool
}

func (e *Entry) expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// Manager holds the hub's banned clientIds and IPs, indexed for O(1)
// exact-value lookups with a linear fallback over CIDR ranges.
type Manager struct {
	mu sync.RWMutex

	byClientID map[string]*Entry
	ipExact    map[string]*Entry
	ipRanges   []*Entry

	now func() time.Time
}

var ErrEntryNotFound = errors.New("blacklist: entry not found")

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{
		byClientID: make(map[string]*Entry),
		ipExact:    make(map[string]*Entry),
		now:        time.Now,
	}
}

// Ban adds or replaces an entry. A CIDR value (containing "/") is matched
// against connecting IPs by range membership; anything else is matched
// for exact equality.
func (m *Manager) Ban(entry Entry) error {
	if entry.ID == "" || entry.Value == "" {
		return errors.New("blacklist: id and value are required")
	}
	entry.CreatedAt = m.now()
	entry.Enabled = true

	m.mu.Lock()
	defer m.mu.Unlock()

	switch entry.Type {
	case EntryClientID:
		m.byClientID[entry.Value] = &entry
	case EntryIPAddress:
		if _, _, err := net.ParseCIDR(entry.Value); err == nil {
			for i, e := range m.ipRanges {
				if e.Value == entry.Value {
					m.ipRanges[i] = &entry
					return nil
				}
			}
			m.ipRanges = append(m.ipRanges, &entry)
		} else {
			m.ipExact[entry.Value] = &entry
		}
	default:
		return errors.New("blacklist: unknown entry type")
	}
	return nil
}

// Unban removes a previously-banned clientId or IP/CIDR value.
func (m *Manager) Unban(entryType EntryType, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch entryType {
	case EntryClientID:
		if _, ok := m.byClientID[value]; !ok {
			return ErrEntryNotFound
		}
		delete(m.byClientID, value)
	case EntryIPAddress:
		if _, ok := m.ipExact[value]; ok {
			delete(m.ipExact, value)
			return nil
		}
		for i, e := range m.ipRanges {
			if e.Value == value {
				m.ipRanges = append(m.ipRanges[:i], m.ipRanges[i+1:]...)
				return nil
			}
		}
		return ErrEntryNotFound
	default:
		return errors.New("blacklist: unknown entry type")
	}
	return nil
}

// CheckClientID reports whether clientID is currently banned, and the
// matching entry if so.
func (m *Manager) CheckClientID(clientID string) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.byClientID[clientID]
	if !ok || entry.expired(m.now()) {
		return nil, false
	}
	return entry, true
}

// CheckIP reports whether ip matches a banned exact address or CIDR
// range, and the matching entry if so.
func (m *Manager) CheckIP(ip string) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()

	if entry, ok := m.ipExact[ip]; ok && !entry.expired(now) {
		return entry, true
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, false
	}
	for _, entry := range m.ipRanges {
		if entry.expired(now) {
			continue
		}
		_, network, err := net.ParseCIDR(entry.Value)
		if err != nil {
			continue
		}
		if network.Contains(parsed) {
			return entry, true
		}
	}
	return nil, false
}

// Sweep removes expired entries. Callers may run this periodically;
// CheckClientID/CheckIP are already correct without it.
func (m *Manager) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()

	for k, e := range m.byClientID {
		if e.expired(now) {
			delete(m.byClientID, k)
		}
	}
	for k, e := range m.ipExact {
		if e.expired(now) {
			delete(m.ipExact, k)
		}
	}
	live := m.ipRanges[:0]
	for _, e := range m.ipRanges {
		if !e.expired(now) {
			live = append(live, e)
		}
	}
	m.ipRanges = live
}
