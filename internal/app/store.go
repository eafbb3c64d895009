package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/airq/internal/config"
	"github.com/taoyao-code/airq/internal/metrics"
	"github.com/taoyao-code/airq/internal/storage"
	"github.com/taoyao-code/airq/internal/storage/gormrepo"
	"github.com/taoyao-code/airq/internal/storage/influx"
	pgstorage "github.com/taoyao-code/airq/internal/storage/pg"
)

// Stores 按 store.backend 组装的读写端
type Stores struct {
	Writer storage.ReadingWriter
	Source storage.ReadingSource
	Latest storage.LatestTimestamper

	// 具体后端句柄（健康检查用），未使用的为 nil
	Pool   *pgxpool.Pool
	Influx *influx.Store

	closers []func()
}

// Close 逆序释放
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// NewStores postgres：pgx 写入 + gorm 读取；influx：同一客户端读写；memory：进程内（虚拟传感器演示）
func NewStores(ctx context.Context, cfg *cfgpkg.Config, log *zap.Logger) (*Stores, error) {
	s := &Stores{}
	switch cfg.Store.Backend {
	case "", "postgres":
		pool, err := ConnectDBAndMigrate(ctx, cfg.Database, log)
		if err != nil {
			if pool != nil {
				pool.Close()
			}
			return nil, err
		}
		s.closers = append(s.closers, pool.Close)
		s.Pool = pool

		db, err := gormrepo.Open(cfg.Database.DSN)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("gorm open: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			s.closers = append(s.closers, func() { _ = sqlDB.Close() })
		}

		repo := &pgstorage.Repository{DB: pool}
		s.Writer, s.Latest = repo, repo
		s.Source = gormrepo.New(db)
		log.Info("store ready", zap.String("backend", "postgres"), zap.String("dsn", maskDSN(cfg.Database.DSN)))

	case "influx":
		st := influx.New(cfg.Influx)
		if err := st.Ping(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("influx ping: %w", err)
		}
		s.closers = append(s.closers, st.Close)
		s.Influx = st
		s.Writer, s.Source, s.Latest = st, st, st
		log.Info("store ready", zap.String("backend", "influx"),
			zap.String("url", cfg.Influx.URL), zap.String("bucket", cfg.Influx.Bucket))

	case "memory":
		mem := storage.NewMemoryStore()
		s.Writer, s.Source, s.Latest = mem, mem, mem
		log.Warn("store ready", zap.String("backend", "memory"), zap.String("note", "readings are not durable"))

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	return s, nil
}

// NewGateway 持久化网关（带熔断）
func NewGateway(cfg cfgpkg.StoreConfig, s *Stores, log *zap.Logger, appm *metrics.AppMetrics) *storage.Gateway {
	breaker := storage.NewBreaker(cfg.BreakerThreshold, cfg.BreakerTimeout)
	return storage.NewGateway(s.Writer, breaker, log, appm)
}
