package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/taoyao-code/airq/internal/cache"
)

// DefaultSnapshotKey 读缓存快照的默认 key
const DefaultSnapshotKey = "airq:cache:snapshot"

// SnapshotStore 把读缓存快照以 JSON 存进 Redis，多个看板进程共享同一份快照。
// key 不设过期：存储故障时需要旧快照兜底。
type SnapshotStore struct {
	rdb redis.Cmdable
	key string
}

// NewSnapshotStore key 为空时使用 DefaultSnapshotKey
func NewSnapshotStore(rdb redis.Cmdable, key string) *SnapshotStore {
	if key == "" {
		key = DefaultSnapshotKey
	}
	return &SnapshotStore{rdb: rdb, key: key}
}

func (s *SnapshotStore) Load(ctx context.Context) (*cache.Entry, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	var e cache.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &e, nil
}

func (s *SnapshotStore) Save(ctx context.Context, e cache.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.rdb.Set(ctx, s.key, data, 0).Err()
}

func (s *SnapshotStore) Clear(ctx context.Context) error {
	return s.rdb.Del(ctx, s.key).Err()
}
