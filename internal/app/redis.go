package app

import (
	"go.uber.org/zap"

	"github.com/taoyao-code/airq/internal/cache"
	cfgpkg "github.com/taoyao-code/airq/internal/config"
	"github.com/taoyao-code/airq/internal/health"
	redisstorage "github.com/taoyao-code/airq/internal/storage/redis"
)

// NewRedisClient 创建Redis客户端；未启用时返回 (nil, nil)
func NewRedisClient(cfg cfgpkg.RedisConfig, logger *zap.Logger) (*redisstorage.Client, error) {
	if !cfg.Enabled {
		logger.Info("redis is disabled, skipping initialization")
		return nil, nil
	}

	client, err := redisstorage.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("redis client initialized",
		zap.String("addr", cfg.Addr),
		zap.Int("pool_size", cfg.PoolSize))

	return client, nil
}

// NewSnapshotStore 按 cache.backend 选择快照存放位置；redis 未初始化时回退到内存
func NewSnapshotStore(cfg cfgpkg.CacheConfig, client *redisstorage.Client, logger *zap.Logger) cache.SnapshotStore {
	if cfg.Backend == "redis" {
		if client != nil {
			logger.Info("cache snapshots stored in redis", zap.String("key", cfg.Key))
			return redisstorage.NewSnapshotStore(client, cfg.Key)
		}
		logger.Warn("cache.backend is redis but redis is disabled, using memory")
	}
	return cache.NewMemoryStore()
}

// AddRedisChecker 添加Redis检查器到聚合器
func AddRedisChecker(aggregator *health.Aggregator, redisClient *redisstorage.Client) {
	if redisClient != nil {
		aggregator.AddChecker(health.NewRedisChecker(redisClient))
	}
}
