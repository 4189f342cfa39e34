package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceStatusValid(t *testing.T) {
	assert.True(t, StatusApproved.Valid())
	assert.True(t, StatusBlocked.Valid())
	assert.False(t, DeviceStatus("DELETED").Valid())
}

func TestParseDeviceStatus(t *testing.T) {
	v, err := ParseDeviceStatus("APPROVED")
	assert.NoError(t, err)
	assert.Equal(t, StatusApproved, v)

	_, err = ParseDeviceStatus("NOPE")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "NOPE")
}

func TestCloneActionValid(t *testing.T) {
	assert.True(t, ActionBlockDevice.Valid())
	assert.False(t, CloneAction("IGNORE").Valid())
}

func TestDeviceTypeValid(t *testing.T) {
	assert.True(t, DeviceTypeTempSensor.Valid())
	_, err := ParseDeviceType("TOASTER")
	assert.Error(t, err)
}

func TestClientClassValid(t *testing.T) {
	assert.True(t, ClassAdmin.Valid())
	assert.True(t, ClassController.Valid())
	assert.False(t, ClientClass("GUEST").Valid())
}
