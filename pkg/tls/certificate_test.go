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
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateTestCertificate(t *testing.T, notAfter time.Time) *x509.Certificate {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject:      pkix.Name{CommonName: "device-under-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
		DNSNames:     []string{"device.local"},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestFingerprintIsSHA256OfRawBytes(t *testing.T) {
	cert := generateTestCertificate(t, time.Now().Add(24*time.Hour))
	want := sha256.Sum256(cert.Raw)
	assert.Equal(t, hex.EncodeToString(want[:]), Fingerprint(cert))
}

func TestParseCertificate(t *testing.T) {
	cert := generateTestCertificate(t, time.Now().Add(24*time.Hour))
	info := ParseCertificate(cert)
	assert.Equal(t, "CN=device-under-test", info.Subject)
	assert.Equal(t, []string{"device.local"}, info.DNSNames)
	assert.Equal(t, Fingerprint(cert), info.Fingerprint)
}

func TestIsExpiringSoon(t *testing.T) {
	soon := generateTestCertificate(t, time.Now().Add(time.Hour))
	assert.True(t, IsExpiringSoon(soon, 24*time.Hour))

	later := generateTestCertificate(t, time.Now().Add(30*24*time.Hour))
	assert.False(t, IsExpiringSoon(later, 24*time.Hour))
}

func TestValidateChainRejectsExpired(t *testing.T) {
	expired := generateTestCertificate(t, time.Now().Add(-time.Hour))
	err := ValidateChain(expired, nil)
	assert.Error(t, err)
}

func TestValidateChainAcceptsValidWithoutPool(t *testing.T) {
	cert := generateTestCertificate(t, time.Now().Add(time.Hour))
	assert.NoError(t, ValidateChain(cert, nil))
}
