package interceptor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthiot/hub-core/pkg/deviceauth"
	"github.com/hearthiot/hub-core/pkg/hashid"
	"github.com/hearthiot/hub-core/pkg/model"
	"github.com/hearthiot/hub-core/pkg/registry"
	"github.com/hearthiot/hub-core/pkg/workerpool"
)

func newTestHook(t *testing.T, store registry.Store) *Hook {
	pool := workerpool.New(1, 4)
	t.Cleanup(pool.Stop)
	h, err := New(Config{
		Store: store,
		Auth:  deviceauth.New(store, nil),
		Pool:  pool,
	})
	require.NoError(t, err)
	return h
}

func TestHandleRegister_NewDeviceIsPending(t *testing.T) {
	store := registry.NewMemoryStore()
	h := newTestHook(t, store)
	ctx := context.Background()

	h.handleRegister(ctx, "IOT1234aabbcc", "10.0.0.5", []byte(`{"serial":"SN1234","mac":"AA:BB:CC:DD:EE:FF","device_type":"TEMP_SENSOR"}`))

	devices, err := store.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, model.StatusPending.String(), devices[0].Status)
	assert.Equal(t, "IOT1234aabbcc", devices[0].ClientID)

	alerts := store.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, model.AlertDeviceRegistration.String(), alerts[0].Type)
}

func TestHandleRegister_AutoApprovesWhenPreseededSerialIsApproved(t *testing.T) {
	store := registry.NewMemoryStore()
	h := newTestHook(t, store)
	ctx := context.Background()

	preseeded, err := store.CreateDevice(ctx, &registry.Device{
		SerialHash:    hashid.Hash("SN1234"),
		CompositeHash: "preseed-composite",
		ClientID:      "IOT0000000000",
		Status:        model.StatusApproved.String(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, preseeded.ID)

	h.handleRegister(ctx, "IOT1234aabbcc", "10.0.0.5", []byte(`{"serial":"SN1234","mac":"AA:BB:CC:DD:EE:FF"}`))

	devices, err := store.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 2)

	var newDevice *registry.Device
	for _, d := range devices {
		if d.ClientID == "IOT1234aabbcc" {
			newDevice = d
		}
	}
	require.NotNil(t, newDevice)
	assert.Equal(t, model.StatusApproved.String(), newDevice.Status)
}

func TestHandleRegister_InvalidMacFormatAlerts(t *testing.T) {
	store := registry.NewMemoryStore()
	h := newTestHook(t, store)
	ctx := context.Background()

	h.handleRegister(ctx, "IOT1234aabbcc", "10.0.0.5", []byte(`{"serial":"SN1234","mac":"not-a-mac"}`))

	devices, _ := store.FindAll(ctx)
	assert.Len(t, devices, 0)

	alerts := store.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, model.AlertInvalidMacFormat.String(), alerts[0].Type)
}

func TestReconcileConnection_ReassignsPlaceholderToResolvedDevice(t *testing.T) {
	store := registry.NewMemoryStore()
	h := newTestHook(t, store)
	ctx := context.Background()

	clientID := "IOT1234aabbcc"
	_, err := store.OpenConnection(ctx, clientID, clientID, "10.0.0.5")
	require.NoError(t, err)

	h.handleRegister(ctx, clientID, "10.0.0.5", []byte(`{"serial":"SN1234","mac":"AA:BB:CC:DD:EE:FF"}`))

	devices, err := store.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)

	conn, err := store.GetConnection(ctx, devices[0].ID)
	require.NoError(t, err)
	assert.Equal(t, clientID, conn.ClientID)

	var reassigned bool
	for _, a := range store.Alerts() {
		if a.Type == model.AlertConnectionReassigned.String() {
			reassigned = true
		}
	}
	assert.True(t, reassigned)
}
