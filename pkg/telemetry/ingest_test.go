package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthiot/hub-core/pkg/registry"
)

func TestParseTopic(t *testing.T) {
	top, ok := ParseTopic("home/ctrl1/devices/1234/telemetry")
	require.True(t, ok)
	assert.Equal(t, "ctrl1", top.ControllerID)
	assert.Equal(t, "1234", top.Serial)

	_, ok = ParseTopic("home/ctrl1/devices/1234/health")
	assert.False(t, ok)
}

func TestIngestRejectsOversizedPayload(t *testing.T) {
	store := registry.NewMemoryStore()
	ing := New(store, nil)
	big := bytes.Repeat([]byte("a"), MaxPayloadSize+1)
	err := ing.Ingest(context.Background(), "dev1", "home/c/devices/1/telemetry", big)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestIngestRejectsNonUTF8(t *testing.T) {
	store := registry.NewMemoryStore()
	ing := New(store, nil)
	err := ing.Ingest(context.Background(), "dev1", "home/c/devices/1/telemetry", []byte{0xff, 0xfe, 0xfd})
	assert.ErrorIs(t, err, ErrNotUTF8)
}

func TestIngestStoresJSONFields(t *testing.T) {
	store := registry.NewMemoryStore()
	ing := New(store, nil)
	payload := []byte(`{"timestamp":"2026-08-06T10:00:00Z","measurement":"temperature","value":21.5}`)
	require.NoError(t, ing.Ingest(context.Background(), "dev1", "home/c/devices/1/telemetry", payload))

	rows := store.Telemetry()
	require.Len(t, rows, 1)
	assert.Equal(t, "temperature", rows[0].Measurement)
	require.NotNil(t, rows[0].Value)
	assert.Equal(t, 21.5, *rows[0].Value)
	assert.False(t, rows[0].Timestamp.IsZero())
}

func TestIngestParsesISOLocalTimestampWithoutZone(t *testing.T) {
	store := registry.NewMemoryStore()
	ing := New(store, nil)
	payload := []byte(`{"timestamp":"2025-01-01T00:00:00","measurement":"temperature","value":18.0}`)
	require.NoError(t, ing.Ingest(context.Background(), "dev1", "home/c/devices/1/telemetry", payload))

	rows := store.Telemetry()
	require.Len(t, rows, 1)
	require.False(t, rows[0].Timestamp.IsZero())
	assert.Equal(t, 2025, rows[0].Timestamp.Year())
}

func TestIngestStoresRawNonJSON(t *testing.T) {
	store := registry.NewMemoryStore()
	ing := New(store, nil)
	require.NoError(t, ing.Ingest(context.Background(), "dev1", "home/c/devices/1/telemetry", []byte("plain text reading")))

	rows := store.Telemetry()
	require.Len(t, rows, 1)
	assert.Equal(t, []byte("plain text reading"), rows[0].RawPayload)
	assert.Empty(t, rows[0].Measurement)
}
