package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/airq/internal/coremodel"
	"github.com/taoyao-code/airq/internal/logging"
	"github.com/taoyao-code/airq/internal/metrics"
	"github.com/taoyao-code/airq/internal/storage"
)

// ErrStoreUnavailable 存储不可用且没有任何可回退的快照
var ErrStoreUnavailable = errors.New("store unavailable")

// DefaultTTL 未配置时的快照有效期
const DefaultTTL = 10 * time.Minute

// Options 读缓存参数
type Options struct {
	TTL time.Duration
	// Window 拉取窗口，0 表示全部行
	Window time.Duration
}

// View 一次读取的结果
type View struct {
	Readings  []coremodel.Reading `json:"readings"`
	FetchedAt time.Time           `json:"fetched_at"`
	// Stale 拉取失败时回退到过期快照
	Stale bool `json:"stale"`
}

// ReadCache 面向看板的本地读缓存。
// 约束：
// - now - FetchedAt < ttl 视为新鲜，直接返回快照，不访问存储
// - 过期后整体重新拉取并替换快照
// - 拉取失败时有旧快照则返回旧快照（nil error），否则返回 ErrStoreUnavailable
// - 刷新串行执行，并发调用者不会同时打到存储
type ReadCache struct {
	src    storage.ReadingSource
	store  SnapshotStore
	opts   Options
	logger *zap.Logger
	appm   *metrics.AppMetrics
	now    func() time.Time

	mu sync.Mutex
}

// New 创建读缓存；store 为 nil 时使用进程内存
func New(src storage.ReadingSource, store SnapshotStore, opts Options, logger *zap.Logger, appm *metrics.AppMetrics) *ReadCache {
	if store == nil {
		store = NewMemoryStore()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &ReadCache{
		src:    src,
		store:  store,
		opts:   opts,
		logger: logging.OrNop(logger),
		appm:   appm,
		now:    time.Now,
	}
}

// TTL 默认有效期
func (c *ReadCache) TTL() time.Duration { return c.opts.TTL }

// Get 返回读数快照；maxAge <= 0 时使用配置的 TTL
func (c *ReadCache) Get(ctx context.Context, maxAge time.Duration) ([]coremodel.Reading, error) {
	v, err := c.Lookup(ctx, maxAge)
	if err != nil {
		return nil, err
	}
	return v.Readings, nil
}

// Lookup 与 Get 相同，额外返回拉取时间与是否过期
func (c *ReadCache) Lookup(ctx context.Context, maxAge time.Duration) (View, error) {
	ttl := maxAge
	if ttl <= 0 {
		ttl = c.opts.TTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, err := c.store.Load(ctx)
	if err != nil {
		// 快照存储故障按缺失处理，仍可从源拉取
		c.logger.Warn("snapshot load failed", zap.Error(err))
		entry = nil
	}
	if entry != nil && now.Sub(entry.FetchedAt) < ttl {
		c.appm.ObserveCache("hit")
		return view(*entry, false), nil
	}

	var since time.Time
	if c.opts.Window > 0 {
		since = now.Add(-c.opts.Window)
	}
	rows, err := c.src.ListReadings(ctx, since)
	if err != nil {
		if entry != nil {
			c.appm.ObserveCache("stale")
			c.logger.Warn("cache refresh failed, serving stale snapshot",
				zap.Error(err),
				zap.Time("fetched_at", entry.FetchedAt),
				zap.Int("rows", len(entry.Snapshot)))
			return view(*entry, true), nil
		}
		c.appm.ObserveCache("error")
		return View{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	fresh := Entry{FetchedAt: now, TTL: ttl, Snapshot: rows}
	if err := c.store.Save(ctx, fresh); err != nil {
		c.logger.Warn("snapshot save failed", zap.Error(err))
	}
	c.appm.ObserveCache("miss")
	c.logger.Debug("cache refreshed", zap.Int("rows", len(rows)))
	return view(fresh, false), nil
}

// Invalidate 丢弃快照，下次读取必定重新拉取
func (c *ReadCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Clear(ctx)
}

func view(e Entry, stale bool) View {
	e = e.clone()
	return View{Readings: e.Snapshot, FetchedAt: e.FetchedAt, Stale: stale}
}
