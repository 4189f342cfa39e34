package deviceclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIDDerivation(t *testing.T) {
	id := clientID("SN001234", "AA:BB:CC:DD:EE:FF")
	assert.Equal(t, "IOT1234aabbcc", id)
	assert.Len(t, id, 13)
}

func TestClientIDPadsShortIdentifiers(t *testing.T) {
	id := clientID("7", "AB")
	assert.Len(t, id, 13)
	assert.Equal(t, "IOT0007ab0000", id)
}

func TestTopicBuilders(t *testing.T) {
	assert.Equal(t, "home/controller-01/devices/SN1/register", registerTopic("controller-01", "SN1"))
	assert.Equal(t, "home/controller-01/devices/SN1/health", healthTopic("controller-01", "SN1"))
	assert.Equal(t, "home/controller-01/devices/SN1/offline", offlineTopic("controller-01", "SN1"))
	assert.Equal(t, "home/controller-01/devices/SN1/telemetry", telemetryTopic("controller-01", "SN1"))
}

func TestTelemetryQoSBySensorVsActuator(t *testing.T) {
	sensor := &Device{cfg: Config{DeviceType: ClassTempSensor}}
	assert.Equal(t, byte(0), sensor.telemetryQoS())

	actuator := &Device{cfg: Config{DeviceType: ClassSmartPlug}}
	assert.Equal(t, byte(1), actuator.telemetryQoS())
}

func TestBuilderRequiresCoreFields(t *testing.T) {
	_, err := NewBuilder(Config{}).Build()
	assert.Error(t, err)
}

func TestBuilderDefaultsControllerID(t *testing.T) {
	d, err := NewBuilder(Config{Broker: "tls://localhost:8883", Serial: "SN1234", MAC: "AA:BB:CC:DD:EE:FF"}).Build()
	assert.NoError(t, err)
	assert.Equal(t, "controller-01", d.cfg.ControllerID)
	assert.Equal(t, "IOT1234aabbcc", d.clientID)
}
