package interceptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterSchemaRejectsMissingFields(t *testing.T) {
	s, err := newSchemas()
	require.NoError(t, err)

	err = validate(s.register, map[string]any{"serial": "SN1234"})
	assert.Error(t, err)

	err = validate(s.register, map[string]any{"serial": "SN1234", "mac": "AA:BB:CC:DD:EE:FF"})
	assert.NoError(t, err)
}

func TestHealthSchemaRequiresTimestamp(t *testing.T) {
	s, err := newSchemas()
	require.NoError(t, err)

	err = validate(s.health, map[string]any{"serial": "SN1234", "mac": "AA:BB:CC:DD:EE:FF"})
	assert.Error(t, err)

	err = validate(s.health, map[string]any{"serial": "SN1234", "mac": "AA:BB:CC:DD:EE:FF", "timestamp": "2026-01-01T00:00:00Z"})
	assert.NoError(t, err)
}
