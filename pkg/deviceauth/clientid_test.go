package deviceauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthiot/hub-core/pkg/model"
)

func TestParseClientID(t *testing.T) {
	p, err := ParseClientID("IOT1234AABBCC")
	require.NoError(t, err)
	assert.Equal(t, "1234", p.SerialSuffix)
	assert.Equal(t, "AABBCC", p.MACPrefixHex)
}

func TestParseClientIDRejectsWrongLength(t *testing.T) {
	_, err := ParseClientID("IOT123")
	assert.ErrorIs(t, err, ErrMalformedClientID)

	_, err = ParseClientID("IOT1234AABBCCDD")
	assert.ErrorIs(t, err, ErrMalformedClientID)
}

func TestParseClientIDRejectsWrongPrefix(t *testing.T) {
	_, err := ParseClientID("XXX1234AABBCC")
	assert.ErrorIs(t, err, ErrMalformedClientID)
}

func TestClassifyClientID(t *testing.T) {
	assert.Equal(t, model.ClassController, ClassifyClientID("controller-cmd"))
	assert.Equal(t, model.ClassAdmin, ClassifyClientID("ADMIN_root"))
	assert.Equal(t, model.ClassDevice, ClassifyClientID("IOT1234AABBCC"))
}
