package interceptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidMACFormat(t *testing.T) {
	assert.True(t, validMACFormat("AA:BB:CC:DD:EE:FF"))
	assert.True(t, validMACFormat("aa-bb-cc-dd-ee-ff"))
	assert.False(t, validMACFormat("AA:BB:CC:DD:EE"))
	assert.False(t, validMACFormat("not-a-mac-address"))
}

func TestNormalizeMAC(t *testing.T) {
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", normalizeMAC("AA-BB-CC-DD-EE-FF"))
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", normalizeMAC("aa:bb:cc:dd:ee:ff"))
}
