package registry

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client, *RedisRegistry) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)

	return mr, client, NewRedisRegistry(client, log, 5*time.Minute)
}

func testEntry(id string) *Entry {
	return &Entry{
		ID:        id,
		NodeID:    "node-1",
		ModelName: "Slate Simulator 4K",
		State:     StateAvailable,
	}
}

func TestRedisRegistryRegister(t *testing.T) {
	_, client, reg := setupTestRedis(t)
	ctx := context.Background()

	entry := testEntry("dev-1")
	require.NoError(t, reg.Register(ctx, entry))
	assert.False(t, entry.RegisteredAt.IsZero())

	exists, err := client.Exists(ctx, "slate:devices:dev-1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)

	// Re-registering refreshes but keeps the original registration time.
	original := entry.RegisteredAt
	time.Sleep(time.Millisecond)
	require.NoError(t, reg.Register(ctx, entry))
	assert.Equal(t, original.Unix(), entry.RegisteredAt.Unix())
}

func TestRedisRegistryGet(t *testing.T) {
	_, _, reg := setupTestRedis(t)
	ctx := context.Background()

	entry := testEntry("dev-1")
	entry.VideoMode = "1080p29.97 8BitYUV"
	require.NoError(t, reg.Register(ctx, entry))

	got, err := reg.Get(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "dev-1", got.ID)
	assert.Equal(t, "node-1", got.NodeID)
	assert.Equal(t, "1080p29.97 8BitYUV", got.VideoMode)

	_, err = reg.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestRedisRegistryList(t *testing.T) {
	mr, _, reg := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, testEntry("dev-1")))
	require.NoError(t, reg.Register(ctx, testEntry("dev-2")))

	entries, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// Expired keys are pruned from the active set on list.
	mr.Del("slate:devices:dev-1")
	entries, err = reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "dev-2", entries[0].ID)
}

func TestRedisRegistryUnregister(t *testing.T) {
	_, _, reg := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, testEntry("dev-1")))
	require.NoError(t, reg.Unregister(ctx, "dev-1"))

	_, err := reg.Get(ctx, "dev-1")
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	assert.ErrorIs(t, reg.Unregister(ctx, "dev-1"), ErrDeviceNotFound)
}

func TestRedisRegistryUpdateState(t *testing.T) {
	_, _, reg := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, testEntry("dev-1")))
	require.NoError(t, reg.UpdateState(ctx, "dev-1", StateStreaming))

	got, err := reg.Get(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, StateStreaming, got.State)

	err = reg.UpdateState(ctx, "missing", StateStreaming)
	require.Error(t, err)
}

func TestRedisRegistryUpdateStats(t *testing.T) {
	_, _, reg := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, testEntry("dev-1")))
	require.NoError(t, reg.UpdateStats(ctx, "dev-1", &EntryStats{
		FramesCaptured: 1800,
		FramesDropped:  2,
	}))

	got, err := reg.Get(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1800), got.FramesCaptured)
	assert.Equal(t, uint64(2), got.FramesDropped)
}

func TestRedisRegistryTTLExpiry(t *testing.T) {
	mr, client, _ := setupTestRedis(t)
	ctx := context.Background()

	log := logrus.New()
	reg := NewRedisRegistry(client, log, 100*time.Millisecond)
	require.NoError(t, reg.Register(ctx, testEntry("dev-1")))

	mr.FastForward(200 * time.Millisecond)

	_, err := reg.Get(ctx, "dev-1")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestRedisRegistryHeartbeatRefreshesTTL(t *testing.T) {
	mr, client, _ := setupTestRedis(t)
	ctx := context.Background()

	log := logrus.New()
	reg := NewRedisRegistry(client, log, 200*time.Millisecond)
	require.NoError(t, reg.Register(ctx, testEntry("dev-1")))

	mr.FastForward(150 * time.Millisecond)
	require.NoError(t, reg.UpdateHeartbeat(ctx, "dev-1"))
	mr.FastForward(150 * time.Millisecond)

	_, err := reg.Get(ctx, "dev-1")
	assert.NoError(t, err)
}
