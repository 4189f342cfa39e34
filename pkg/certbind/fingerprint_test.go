package certbind

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthiot/hub-core/pkg/model"
	"github.com/hearthiot/hub-core/pkg/registry"
)

func selfSigned(t *testing.T) *x509.Certificate {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	template := x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: "ADMIN_root"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestResolveFallsBackWithoutBinding(t *testing.T) {
	store := registry.NewMemoryStore()
	r := New(store)
	cert := selfSigned(t)

	res, err := r.Resolve(context.Background(), cert, "ADMIN_root")
	require.NoError(t, err)
	assert.False(t, res.FromBinding)
	assert.Equal(t, "ADMIN_root", res.ClientID)
}

func TestBindThenResolve(t *testing.T) {
	store := registry.NewMemoryStore()
	r := New(store)
	cert := selfSigned(t)

	require.NoError(t, r.Bind(context.Background(), "ADMIN_root", cert, model.ClassAdmin))

	res, err := r.Resolve(context.Background(), cert, "ADMIN_root")
	require.NoError(t, err)
	assert.True(t, res.FromBinding)
	assert.Equal(t, model.ClassAdmin, res.Class)
}
