package liveness_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viyulabs/presence-server/pkg/liveness"
)

func newTestStore(t *testing.T) (*miniredis.Miniredis, *liveness.RedisStore) {
	mr := miniredis.RunT(t)
	store := liveness.NewRedisStore(mr.Addr(), "", 0)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return mr, store
}

// TestRedisStore_Refresh tests that an accepted heartbeat leaves a liveness
// entry with a positive remaining TTL no larger than the configured window.
func TestRedisStore_Refresh(t *testing.T) {
	mr, store := newTestStore(t)
	ctx := context.Background()

	err := store.Refresh(ctx, "LAB1-PC01", 65*time.Second)
	require.NoError(t, err)

	alive, err := store.IsAlive(ctx, "LAB1-PC01")
	require.NoError(t, err)
	assert.True(t, alive)

	ttl := mr.TTL(liveness.Key("LAB1-PC01"))
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 65*time.Second)
}

// TestRedisStore_EntryExpires tests that the entry disappears on its own
// once the TTL elapses with no refresh.
func TestRedisStore_EntryExpires(t *testing.T) {
	mr, store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Refresh(ctx, "LAB1-PC01", 65*time.Second))

	mr.FastForward(66 * time.Second)

	alive, err := store.IsAlive(ctx, "LAB1-PC01")
	require.NoError(t, err)
	assert.False(t, alive)
}

// TestRedisStore_RefreshRenewsTTL tests that a second heartbeat inside the
// window renews the entry instead of stacking a second one.
func TestRedisStore_RefreshRenewsTTL(t *testing.T) {
	mr, store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Refresh(ctx, "LAB1-PC01", 65*time.Second))
	mr.FastForward(30 * time.Second)
	require.NoError(t, store.Refresh(ctx, "LAB1-PC01", 65*time.Second))

	// Past the original deadline but inside the renewed one.
	mr.FastForward(40 * time.Second)

	alive, err := store.IsAlive(ctx, "LAB1-PC01")
	require.NoError(t, err)
	assert.True(t, alive)
}

// TestRedisStore_RefreshEmptyDeviceID tests the guard against writing an
// entry for an empty identifier.
func TestRedisStore_RefreshEmptyDeviceID(t *testing.T) {
	_, store := newTestStore(t)

	err := store.Refresh(context.Background(), "", 65*time.Second)
	assert.Error(t, err)
}

// TestDeviceIDFromKey tests the expired-key decoding, including device IDs
// that contain the delimiter themselves.
func TestDeviceIDFromKey(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		wantID string
		wantOK bool
	}{
		{name: "plain device id", key: "presence:LAB1-PC01", wantID: "LAB1-PC01", wantOK: true},
		{name: "device id with delimiter", key: "presence:bldg:3:pc:7", wantID: "bldg:3:pc:7", wantOK: true},
		{name: "foreign key", key: "session:abc123", wantOK: false},
		{name: "prefix only", key: "presence:", wantOK: false},
		{name: "empty key", key: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := liveness.DeviceIDFromKey(tt.key)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

// TestKey tests the key scheme stays bit-exact for interop.
func TestKey(t *testing.T) {
	assert.Equal(t, "presence:LAB1-PC01", liveness.Key("LAB1-PC01"))
}
