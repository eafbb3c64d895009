package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/airq/internal/cache"
	"github.com/taoyao-code/airq/internal/coremodel"
	"github.com/taoyao-code/airq/internal/storage"
)

// 需要本地 Redis，不可用时跳过
func setupTestRedis(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping test")
		return nil
	}
	client.FlushDB(ctx)

	t.Cleanup(func() {
		client.FlushDB(ctx)
		client.Close()
	})
	return client
}

func TestSnapshotStore_RoundTrip(t *testing.T) {
	client := setupTestRedis(t)
	if client == nil {
		return
	}
	ctx := context.Background()
	s := NewSnapshotStore(client, "")

	e, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, e)

	want := cache.Entry{
		FetchedAt: time.Unix(1_700_000_000, 0).UTC(),
		TTL:       10 * time.Minute,
		Snapshot: []coremodel.Reading{
			{Timestamp: 1, DeviceID: "0102", PM25: 1.5, PM10: 3, Unit: coremodel.UnitMassConcentration},
		},
	}
	require.NoError(t, s.Save(ctx, want))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, want.FetchedAt.Equal(got.FetchedAt))
	assert.Equal(t, want.Snapshot, got.Snapshot)

	require.NoError(t, s.Clear(ctx))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSnapshotStore_BacksReadCache(t *testing.T) {
	client := setupTestRedis(t)
	if client == nil {
		return
	}
	ctx := context.Background()
	src := storage.NewMemoryStore()
	require.NoError(t, src.UpsertReading(ctx, coremodel.Reading{Timestamp: 1, DeviceID: "0102", PM25: 1, PM10: 2}))

	// 两个缓存实例共享同一份快照
	a := cache.New(src, NewSnapshotStore(client, "test:snapshot"), cache.Options{TTL: time.Hour}, nil, nil)
	b := cache.New(src, NewSnapshotStore(client, "test:snapshot"), cache.Options{TTL: time.Hour}, nil, nil)

	_, err := a.Get(ctx, 0)
	require.NoError(t, err)
	rows, err := b.Get(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, lists := src.Calls()
	assert.Equal(t, 1, lists)
}
