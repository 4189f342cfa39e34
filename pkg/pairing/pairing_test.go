package pairing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueConsume(t *testing.T) {
	s := NewStore()
	code, err := s.Issue()
	require.NoError(t, err)
	assert.NotEmpty(t, code)

	assert.True(t, s.Consume(code))
	assert.False(t, s.Consume(code), "a code must be single-use")
}

func TestConsumeUnknownCode(t *testing.T) {
	s := NewStore()
	assert.False(t, s.Consume("NOSUCHCODE"))
}

func TestCodeExpires(t *testing.T) {
	s := NewStore()
	frozen := time.Now()
	s.now = func() time.Time { return frozen }

	code, err := s.Issue()
	require.NoError(t, err)

	s.now = func() time.Time { return frozen.Add(TTL + time.Second) }
	assert.False(t, s.Consume(code))
}

func TestSweepRemovesExpired(t *testing.T) {
	s := NewStore()
	frozen := time.Now()
	s.now = func() time.Time { return frozen }
	code, _ := s.Issue()

	s.now = func() time.Time { return frozen.Add(TTL + time.Minute) }
	s.Sweep()

	assert.Len(t, s.codes, 0)
	_ = code
}
