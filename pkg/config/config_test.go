package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresDatabaseDSN(t *testing.T) {
	viper.Reset()
	t.Setenv("HUB_TLS_KEYSTORE_PATH", "ks.p12")
	t.Setenv("HUB_TLS_TRUSTSTORE_PATH", "ts.p12")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_DefaultsAndEnvOverride(t *testing.T) {
	viper.Reset()
	t.Setenv("HUB_DATABASE_DSN", "postgres://localhost/hub")
	t.Setenv("HUB_TLS_KEYSTORE_PATH", "ks.p12")
	t.Setenv("HUB_TLS_TRUSTSTORE_PATH", "ts.p12")
	t.Setenv("HUB_SERVER_CONTROLLER_ID", "controller-99")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "controller-99", cfg.Server.ControllerID)
	assert.Equal(t, ":8884", cfg.Server.TLSAddress)
	assert.Equal(t, 10, cfg.WorkerPool.Size)
}

func TestDumpExample_ProducesParseableYAML(t *testing.T) {
	out, err := DumpExample()
	require.NoError(t, err)
	assert.Contains(t, string(out), "controller_id: controller-01")
	assert.Contains(t, string(out), "tls_address: :8884")
}

func TestValidate_RejectsInvertedRotationWindow(t *testing.T) {
	cfg := &Config{}
	cfg.Database.DSN = "postgres://localhost/hub"
	cfg.TLS.KeystorePath = "ks.p12"
	cfg.TLS.TruststorePath = "ts.p12"
	cfg.CertRotation.MinDays = 30
	cfg.CertRotation.MaxDays = 7

	assert.Error(t, validate(cfg))
}
