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

// Package certbind resolves an ADMIN_*/controller-cmd clientId against the
// registry's client_bindings table by the SHA-256 fingerprint of the
// certificate it authenticated with, falling back to the bare clientId
// prefix rule when no binding row exists yet.
package certbind

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/hearthiot/hub-core/pkg/model"
	"github.com/hearthiot/hub-core/pkg/registry"
	tlspkg "github.com/hearthiot/hub-core/pkg/tls"
)

// Resolver binds certificate fingerprints to clientIds and roles.
type Resolver struct {
	store registry.Store
}

// New returns a Resolver backed by store.
func New(store registry.Store) *Resolver {
	return &Resolver{store: store}
}

// Resolved is what a certificate resolves to: the clientId it was bound
// under (if any binding exists) and the class the caller ultimately gets
// authorized as.
type Resolved struct {
	ClientID    string
	Class       model.ClientClass
	Fingerprint string
	FromBinding bool
}

// Resolve looks up cert's fingerprint in client_bindings. If no binding
// exists, it falls back to classifying the bare clientId the client
// presented at CONNECT time, per spec.md §4.3.
func (r *Resolver) Resolve(ctx context.Context, cert *x509.Certificate, presentedClientID string) (Resolved, error) {
	fp := tlspkg.Fingerprint(cert)
	binding, err := r.store.FindBindingByFingerprint(ctx, fp)
	if err == nil {
		return Resolved{ClientID: binding.ClientID, Class: model.ClientClass(binding.Role), Fingerprint: fp, FromBinding: true}, nil
	}
	if !errors.Is(err, registry.ErrNotFound) {
		return Resolved{}, fmt.Errorf("certbind: resolve: %w", err)
	}
	return Resolved{ClientID: presentedClientID, Fingerprint: fp, FromBinding: false}, nil
}

// Bind records a new clientId/fingerprint/role binding, used the first
// time an admin or controller cert is provisioned.
func (r *Resolver) Bind(ctx context.Context, clientID string, cert *x509.Certificate, role model.ClientClass) error {
	return r.store.UpsertBinding(ctx, &registry.ClientBinding{
		ClientID:    clientID,
		Fingerprint: tlspkg.Fingerprint(cert),
		Role:        role.String(),
	})
}

// RecordAdminAction appends an audit row for an administrative action
// taken by a bound identity, per the client-binding supplement.
func (r *Resolver) RecordAdminAction(ctx context.Context, actorClientID, deviceID, action string) error {
	return r.store.AppendAudit(ctx, &registry.AuditLog{ActorID: actorClientID, DeviceID: deviceID, Action: action})
}
