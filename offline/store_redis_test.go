package offline_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/storefront-labs/authcore/offline"
)

const queueKey = "offline_auth_actions"

func newRedisStore(t *testing.T) (*offline.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return offline.NewRedisStore(client, queueKey), mr
}

func TestRedisStoreSaveLoadRoundTrip(t *testing.T) {
	store, _ := newRedisStore(t)

	queuedAt := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	actions := []offline.Action{
		{ID: "a-1", Type: offline.ActionAuthRequest, QueuedAt: queuedAt, RetryCount: 2},
		{ID: "a-2", Type: offline.ActionProfileUpdate, Payload: map[string]string{"user_id": "u1"}, QueuedAt: queuedAt.Add(time.Minute)},
	}
	require.NoError(t, store.Save(actions))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.Equal(t, "a-1", loaded[0].ID)
	require.Equal(t, 2, loaded[0].RetryCount)
	require.Equal(t, "a-2", loaded[1].ID)
	require.Equal(t, "u1", loaded[1].Payload["user_id"])
	require.True(t, loaded[0].QueuedAt.Equal(queuedAt))
}

func TestRedisStoreLoadMissingKey(t *testing.T) {
	store, _ := newRedisStore(t)

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Empty(t, loaded)
}

func TestRedisStoreEmptySaveDeletesKey(t *testing.T) {
	store, mr := newRedisStore(t)

	require.NoError(t, store.Save([]offline.Action{{ID: "a-1", Type: offline.ActionStateStore}}))
	require.True(t, mr.Exists(queueKey))

	require.NoError(t, store.Save(nil))
	require.False(t, mr.Exists(queueKey))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Empty(t, loaded)
}

func TestQueueRestoresFromRedisStore(t *testing.T) {
	store, _ := newRedisStore(t)

	handler := &recordingHandler{}
	queue, err := offline.NewQueue(store, handler.handle, zerolog.Nop())
	require.NoError(t, err)

	action, err := queue.Enqueue(context.Background(), offline.ActionAuthRequest, map[string]string{"state": "s1"})
	require.NoError(t, err)

	// A fresh queue over the same Redis key sees the mirrored action.
	reloaded, err := offline.NewQueue(store, handler.handle, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.Len())
	require.Equal(t, action.ID, reloaded.Pending()[0].ID)
}
