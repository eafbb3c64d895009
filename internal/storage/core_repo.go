package storage

import (
	"context"
	"time"

	"github.com/taoyao-code/airq/internal/coremodel"
)

// ReadingWriter 读数写入后端的存储抽象。
// 约束：
// - 以 (device_id, timestamp) 为键覆盖写入，重复写同一读数结果不变
// - 上层不直接写 SQL/Flux，统一通过本接口访问
type ReadingWriter interface {
	// UpsertReading 写入或覆盖一条读数
	UpsertReading(ctx context.Context, r coremodel.Reading) error
	// Backend 后端名称（日志/指标标签）
	Backend() string
}

// ReadingSource 读数读取端，供本地读缓存整体拉取
type ReadingSource interface {
	// ListReadings 返回 since 之后（含）的全部读数，按时间升序；since 为零值表示全部行
	ListReadings(ctx context.Context, since time.Time) ([]coremodel.Reading, error)
}

// LatestTimestamper 查询设备最近读数时间戳，启动时用于续接严格递增的时间戳
type LatestTimestamper interface {
	LatestTimestamp(ctx context.Context, deviceID string) (int64, error)
}
