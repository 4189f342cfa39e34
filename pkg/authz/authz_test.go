package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hearthiot/hub-core/pkg/model"
)

func TestDecide_AdminFullAccess(t *testing.T) {
	admin := Identity{Class: model.ClassAdmin}
	assert.True(t, Decide(admin, Read, "#"))
	assert.True(t, Decide(admin, Write, "home/ctrl1/devices/1234/cmd"))
	assert.True(t, Decide(admin, Read, "anything/at/all"))
}

func TestDecide_ControllerFullAccess(t *testing.T) {
	ctrl := Identity{Class: model.ClassController}
	assert.True(t, Decide(ctrl, Write, "home/ctrl1/devices/1234/cmd"))
	assert.True(t, Decide(ctrl, Read, "home/ctrl1/devices/1234/telemetry"))
}

func TestDecide_WildcardDeniedForNonAdmin(t *testing.T) {
	dev := Identity{Class: model.ClassDevice, SerialSuffix: "1234", Status: model.StatusApproved}
	assert.False(t, Decide(dev, Read, "#"))

	ctrl := Identity{Class: model.ClassController}
	assert.False(t, Decide(ctrl, Read, "#"))
}

func TestDecide_DeviceOwnTopics(t *testing.T) {
	dev := Identity{Class: model.ClassDevice, SerialSuffix: "1234", Status: model.StatusApproved}
	assert.True(t, Decide(dev, Write, "home/ctrl1/devices/1234/telemetry"))
	assert.True(t, Decide(dev, Write, "home/ctrl1/devices/1234/register"))
	assert.True(t, Decide(dev, Read, "home/ctrl1/devices/1234/cmd"))
}

func TestDecide_DeviceCannotPublishCmd(t *testing.T) {
	dev := Identity{Class: model.ClassDevice, SerialSuffix: "1234", Status: model.StatusApproved}
	assert.False(t, Decide(dev, Write, "home/ctrl1/devices/1234/cmd"))
}

func TestDecide_DeviceCannotSubscribeToOwnRegisterHealthOrTelemetry(t *testing.T) {
	dev := Identity{Class: model.ClassDevice, SerialSuffix: "1234", Status: model.StatusApproved}
	assert.False(t, Decide(dev, Read, "home/ctrl1/devices/1234/register"))
	assert.False(t, Decide(dev, Read, "home/ctrl1/devices/1234/health"))
	assert.False(t, Decide(dev, Read, "home/ctrl1/devices/1234/telemetry"))
}

func TestDecide_DeviceCannotAccessOtherDeviceTopics(t *testing.T) {
	dev := Identity{Class: model.ClassDevice, SerialSuffix: "1234", Status: model.StatusApproved}
	assert.False(t, Decide(dev, Write, "home/ctrl1/devices/9999/telemetry"))
	assert.False(t, Decide(dev, Read, "home/ctrl1/devices/9999/cmd"))
}

func TestDecide_UnknownTopicDenied(t *testing.T) {
	dev := Identity{Class: model.ClassDevice, SerialSuffix: "1234", Status: model.StatusApproved}
	assert.False(t, Decide(dev, Write, "home/ctrl1/devices/1234/unknown"))
	assert.False(t, Decide(dev, Write, "not/a/recognized/topic"))
}

func TestDecide_NonApprovedDeviceDeniedEverywhere(t *testing.T) {
	for _, status := range []model.DeviceStatus{model.StatusPending, model.StatusBlocked, model.StatusRejected, ""} {
		dev := Identity{Class: model.ClassDevice, SerialSuffix: "1234", Status: status}
		assert.False(t, Decide(dev, Write, "home/ctrl1/devices/1234/telemetry"), "status %s", status)
		assert.False(t, Decide(dev, Read, "home/ctrl1/devices/1234/cmd"), "status %s", status)
	}
}
