package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/taoyao-code/airq/internal/coremodel"
	"github.com/taoyao-code/airq/internal/logging"
	"github.com/taoyao-code/airq/internal/metrics"
)

// ErrStore 持久化失败（存储不可用、拒绝写入、熔断）
var ErrStore = errors.New("storage: store error")

// StoreError 带后端与操作上下文的持久化错误，errors.Is(err, ErrStore) 成立
type StoreError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

// Ack 写入确认
type Ack struct {
	Timestamp int64  `json:"timestamp"`
	DeviceID  string `json:"device_id"`
	Backend   string `json:"backend"`
}

// Gateway 持久化网关：校验、两位小数取整后交给后端覆盖写入
// 不做重试；熔断期内快速失败
type Gateway struct {
	writer  ReadingWriter
	breaker *Breaker
	logger  *zap.Logger
	appm    *metrics.AppMetrics
}

// NewGateway 创建网关；breaker 为 nil 时不熔断
func NewGateway(w ReadingWriter, breaker *Breaker, logger *zap.Logger, appm *metrics.AppMetrics) *Gateway {
	return &Gateway{writer: w, breaker: breaker, logger: logging.OrNop(logger), appm: appm}
}

// Backend 后端名称
func (g *Gateway) Backend() string {
	return g.writer.Backend()
}

// Breaker 熔断器（健康检查使用）
func (g *Gateway) Breaker() *Breaker {
	return g.breaker
}

// Write 写入一条读数；同一时间戳重复写入为覆盖，结果不变
func (g *Gateway) Write(ctx context.Context, r coremodel.Reading) (Ack, error) {
	backend := g.writer.Backend()
	if err := r.Validate(); err != nil {
		g.appm.ObserveStoreWrite(backend, "rejected")
		return Ack{}, &StoreError{Backend: backend, Op: "validate", Err: err}
	}
	r = r.Rounded()

	err := g.breaker.Call(func() error {
		return g.writer.UpsertReading(ctx, r)
	})
	if err != nil {
		g.appm.ObserveStoreWrite(backend, "error")
		g.logger.Warn("persist reading failed",
			zap.String("backend", backend),
			zap.Int64("timestamp", r.Timestamp),
			zap.Error(err))
		return Ack{}, &StoreError{Backend: backend, Op: "upsert", Err: err}
	}

	g.appm.ObserveStoreWrite(backend, "ok")
	g.logger.Debug("reading persisted",
		zap.String("backend", backend),
		zap.Int64("timestamp", r.Timestamp),
		zap.Float64("pm2_5", r.PM25),
		zap.Float64("pm10", r.PM10))
	return Ack{Timestamp: r.Timestamp, DeviceID: r.DeviceID, Backend: backend}, nil
}
