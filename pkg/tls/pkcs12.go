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

package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"
)

// ServerMaterial is everything loaded from a PKCS12 keystore/truststore
// pair: the broker's own identity plus the pool of certificates it will
// accept from connecting clients.
type ServerMaterial struct {
	Certificate tls.Certificate
	Leaf        *x509.Certificate
	TrustPool   *x509.CertPool
}

// LoadServerMaterial reads a PKCS12 keystore (server cert + private key)
// and a PKCS12 truststore (trusted client certificates) from disk, the way
// original_source's EmbeddedMoquetteBroker built its SSLContext from
// KeyStore.getInstance("PKCS12").
func LoadServerMaterial(keystorePath, keystorePassword, truststorePath, truststorePassword string) (*ServerMaterial, error) {
	keystoreBytes, err := os.ReadFile(keystorePath)
	if err != nil {
		return nil, fmt.Errorf("tls: read keystore: %w", err)
	}
	key, leaf, err := pkcs12.Decode(keystoreBytes, keystorePassword)
	if err != nil {
		return nil, fmt.Errorf("tls: decode keystore: %w", err)
	}

	cert := tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}

	pool, err := loadTrustPool(truststorePath, truststorePassword)
	if err != nil {
		return nil, err
	}

	return &ServerMaterial{Certificate: cert, Leaf: leaf, TrustPool: pool}, nil
}

// loadTrustPool decodes every certificate out of a PKCS12 truststore into
// an *x509.CertPool. pkcs12.ToPEM is used instead of Decode because a
// truststore typically holds more than one trusted certificate, and Decode
// only ever returns the first.
func loadTrustPool(path, password string) (*x509.CertPool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tls: read truststore: %w", err)
	}
	blocks, err := pkcs12.ToPEM(raw, password)
	if err != nil {
		return nil, fmt.Errorf("tls: decode truststore: %w", err)
	}

	pool := x509.NewCertPool()
	found := 0
	for _, block := range blocks {
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			continue
		}
		pool.AddCert(cert)
		found++
	}
	if found == 0 {
		return nil, fmt.Errorf("tls: truststore %s contained no usable certificates", path)
	}
	return pool, nil
}

// ServerTLSConfig builds the *tls.Config the mochi-mqtt TLS listener uses:
// the hub's own certificate, required-and-verified client certificates
// checked against the truststore pool, and a TLS 1.2 floor.
func ServerTLSConfig(m *ServerMaterial) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{m.Certificate},
		ClientCAs:    m.TrustPool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   MinVersion,
	}
}
