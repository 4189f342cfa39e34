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

// Package tls provides the mTLS context (C9) the broker listener builds
// from: PKCS12 keystore/truststore material
// on disk, parsed into a *tls.Config that pins the protocol version and
// requires a verified client certificate on every connection.
package tls

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// CertificateInfo is the parsed, human-readable shape of an X.509
// certificate, used for logging and expiry checks.
type CertificateInfo struct {
	Subject      string
	Issuer       string
	SerialNumber string
	NotBefore    time.Time
	NotAfter     time.Time
	DNSNames     []string
	Fingerprint  string
}

// ParseCertificate extracts CertificateInfo from a parsed x509.Certificate.
func ParseCertificate(cert *x509.Certificate) *CertificateInfo {
	return &CertificateInfo{
		Subject:      cert.Subject.String(),
		Issuer:       cert.Issuer.String(),
		SerialNumber: cert.SerialNumber.String(),
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
		DNSNames:     cert.DNSNames,
		Fingerprint:  Fingerprint(cert),
	}
}

// Fingerprint returns the lowercase hex SHA-256 digest of a certificate's
// raw DER bytes — the same value client-binding resolution matches against
// client_bindings.fingerprint.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// IsExpiringSoon reports whether cert's validity ends within `within` of now.
func IsExpiringSoon(cert *x509.Certificate, within time.Duration) bool {
	return time.Until(cert.NotAfter) <= within
}

// ValidateChain verifies leaf against the given certificate pool, failing
// if the chain does not verify or the certificate is not currently valid.
func ValidateChain(leaf *x509.Certificate, roots *x509.CertPool) error {
	now := time.Now()
	if now.Before(leaf.NotBefore) {
		return errors.New("tls: certificate is not yet valid")
	}
	if now.After(leaf.NotAfter) {
		return errors.New("tls: certificate has expired")
	}
	if roots == nil {
		return nil
	}
	if _, err := leaf.Verify(x509.VerifyOptions{Roots: roots}); err != nil {
		return fmt.Errorf("tls: chain verification failed: %w", err)
	}
	return nil
}

// MinVersion is the floor spec.md §4.9 requires: TLS 1.2, with 1.3
// preferred whenever both ends support it (tls.Config negotiates the
// ceiling automatically once MinVersion is set and MaxVersion is left at
// its zero value).
const MinVersion = tls.VersionTLS12
