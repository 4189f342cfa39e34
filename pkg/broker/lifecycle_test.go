package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStart_MissingTLSMaterialReturnsError(t *testing.T) {
	b := New(Config{
		Address:          ":0",
		KeystorePath:     "/nonexistent/keystore.p12",
		KeystorePassword: "changeit",
	})
	err := b.Start(context.Background())
	assert.Error(t, err)
}

func TestStop_NotStartedIsNoop(t *testing.T) {
	b := New(Config{})
	assert.NoError(t, b.Stop(context.Background()))
}
