package settings

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStore(client), mr
}

func TestLoadMissingUserGetsEmptySettings(t *testing.T) {
	store, _ := setupStore(t)

	s, err := store.Load(context.Background(), "unknown")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Empty(t, s.Whitelist)
	assert.Empty(t, s.Blacklist)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	in := &FlipSettings{
		Whitelist: []*ListEntry{{Tag: "HYPERION", DisplayName: "Hyperion"}},
		MinProfit: 1_000_000,
	}
	require.NoError(t, store.Save(ctx, "ext-7", in))

	out, err := store.Load(ctx, "ext-7")
	require.NoError(t, err)
	require.Len(t, out.Whitelist, 1)
	assert.Equal(t, "HYPERION", out.Whitelist[0].Tag)
	assert.Equal(t, int64(1_000_000), out.MinProfit)
}

func TestLoadMalformedDocument(t *testing.T) {
	store, mr := setupStore(t)

	mr.Set("settings:flip:ext-7", "{not json")

	_, err := store.Load(context.Background(), "ext-7")
	assert.Error(t, err)
}

func TestWatchEmitsOnSave(t *testing.T) {
	store, _ := setupStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := store.Watch(ctx)
	// give the pub/sub subscription a moment to register
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, store.Save(ctx, "ext-7", &FlipSettings{MinProfit: 42}))

	select {
	case upd := <-updates:
		assert.Equal(t, "ext-7", upd.ExternalUserID)
		require.NotNil(t, upd.Settings)
		assert.Equal(t, int64(42), upd.Settings.MinProfit)
	case <-time.After(2 * time.Second):
		t.Fatal("no settings update received")
	}
}

func TestWatchClosesOnCancel(t *testing.T) {
	store, _ := setupStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	updates := store.Watch(ctx)
	cancel()

	select {
	case _, ok := <-updates:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("update channel not closed")
	}
}
