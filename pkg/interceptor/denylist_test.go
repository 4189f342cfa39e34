package interceptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthiot/hub-core/pkg/blacklist"
	"github.com/hearthiot/hub-core/pkg/deviceauth"
	"github.com/hearthiot/hub-core/pkg/registry"
	"github.com/hearthiot/hub-core/pkg/workerpool"
)

func newTestHookWithDenylist(t *testing.T, denylist *blacklist.Manager) *Hook {
	store := registry.NewMemoryStore()
	pool := workerpool.New(1, 4)
	t.Cleanup(pool.Stop)
	h, err := New(Config{
		Store:    store,
		Auth:     deviceauth.New(store, nil),
		Pool:     pool,
		Denylist: denylist,
	})
	require.NoError(t, err)
	return h
}

func TestCheckDenylist_BlocksBannedClientID(t *testing.T) {
	denylist := blacklist.NewManager()
	require.NoError(t, denylist.Ban(blacklist.Entry{ID: "e1", Type: blacklist.EntryClientID, Value: "IOT1234aabbcc", Reason: "reported stolen"}))
	h := newTestHookWithDenylist(t, denylist)

	reason, blocked := h.checkDenylist("IOT1234aabbcc", "10.0.0.5")
	assert.True(t, blocked)
	assert.Equal(t, "reported stolen", reason)
}

func TestCheckDenylist_BlocksBannedIP(t *testing.T) {
	denylist := blacklist.NewManager()
	require.NoError(t, denylist.Ban(blacklist.Entry{ID: "e1", Type: blacklist.EntryIPAddress, Value: "203.0.113.9", Reason: "brute force source"}))
	h := newTestHookWithDenylist(t, denylist)

	_, blocked := h.checkDenylist("IOT1234aabbcc", "203.0.113.9")
	assert.True(t, blocked)
}

func TestCheckDenylist_AllowsUnlistedClient(t *testing.T) {
	h := newTestHookWithDenylist(t, blacklist.NewManager())

	_, blocked := h.checkDenylist("IOT1234aabbcc", "10.0.0.5")
	assert.False(t, blocked)
}

func TestCheckDenylist_NilManagerNeverBlocks(t *testing.T) {
	h := newTestHookWithDenylist(t, nil)

	_, blocked := h.checkDenylist("anyone", "0.0.0.0")
	assert.False(t, blocked)
}
