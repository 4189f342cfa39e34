package deviceauth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthiot/hub-core/pkg/model"
	"github.com/hearthiot/hub-core/pkg/registry"
)

func TestValidateDeviceMalformed(t *testing.T) {
	a := New(registry.NewMemoryStore(), nil)
	res := a.ValidateDevice(context.Background(), "short")
	assert.Equal(t, model.OutcomeMalformed, res.Outcome)
}

func TestValidateDeviceNotFound(t *testing.T) {
	a := New(registry.NewMemoryStore(), nil)
	res := a.ValidateDevice(context.Background(), "IOT1234AABBCC")
	assert.Equal(t, model.OutcomeNotFound, res.Outcome)
}

func TestValidateDeviceStatuses(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		status  string
		outcome model.ValidationOutcome
	}{
		{"APPROVED", model.OutcomeValid},
		{"BLOCKED", model.OutcomeBlocked},
		{"PENDING", model.OutcomePendingStatus},
		{"REJECTED", model.OutcomeInvalidStatus},
	} {
		store := registry.NewMemoryStore()
		_, err := store.CreateDevice(ctx, &registry.Device{CompositeHash: "ch-" + tc.status, ClientID: "IOT1234AABBCC", Status: tc.status})
		require.NoError(t, err)

		a := New(store, nil)
		res := a.ValidateDevice(ctx, "IOT1234AABBCC")
		assert.Equal(t, tc.outcome, res.Outcome, tc.status)
	}
}

func TestCheckDuplicateConnection_NoExisting(t *testing.T) {
	a := New(registry.NewMemoryStore(), nil)
	decision, err := a.CheckDuplicateConnection(context.Background(), "dev1", false, "10.0.0.1")
	require.NoError(t, err)
	assert.Nil(t, decision)
}

func TestCheckDuplicateConnection_SameIPReconnect(t *testing.T) {
	ctx := context.Background()
	store := registry.NewMemoryStore()
	_, err := store.OpenConnection(ctx, "dev1", "IOT1234AABBCC", "10.0.0.1")
	require.NoError(t, err)

	a := New(store, nil)
	decision, err := a.CheckDuplicateConnection(ctx, "dev1", false, "10.0.0.1")
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.Equal(t, model.ActionReconnect, decision.Action)
	assert.Equal(t, model.AlertDeviceReconnection, decision.Alert)
	assert.Equal(t, "CLOSED_OLD_ALLOWED_NEW", decision.Detail["action_taken"])
}

func TestCheckDuplicateConnection_CriticalDeviceRejected(t *testing.T) {
	ctx := context.Background()
	store := registry.NewMemoryStore()
	_, err := store.OpenConnection(ctx, "dev1", "IOT1234AABBCC", "10.0.0.1")
	require.NoError(t, err)

	a := New(store, nil)
	decision, err := a.CheckDuplicateConnection(ctx, "dev1", true, "10.0.0.99")
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.Equal(t, model.ActionReject, decision.Action)
	assert.Equal(t, model.AlertCriticalDeviceClone, decision.Alert)
	assert.Equal(t, "REJECTED_NEW_KEPT_OLD", decision.Detail["action_taken"])
}

func TestCheckDuplicateConnection_NonCriticalBlocked(t *testing.T) {
	ctx := context.Background()
	store := registry.NewMemoryStore()
	_, err := store.OpenConnection(ctx, "dev1", "IOT1234AABBCC", "10.0.0.1")
	require.NoError(t, err)

	a := New(store, nil)
	decision, err := a.CheckDuplicateConnection(ctx, "dev1", false, "10.0.0.99")
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.Equal(t, model.ActionBlockDevice, decision.Action)
	assert.Equal(t, model.AlertDeviceCloneDetected, decision.Alert)
	assert.Equal(t, "BLOCKED_DEVICE_DISCONNECTED_BOTH", decision.Detail["action_taken"])
}
