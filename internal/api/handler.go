package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/airq/internal/cache"
	"github.com/taoyao-code/airq/internal/coremodel"
	"github.com/taoyao-code/airq/internal/measure"
	"github.com/taoyao-code/airq/internal/quality"
)

// ReadingCache 看板读取入口（*cache.ReadCache 实现）
type ReadingCache interface {
	Lookup(ctx context.Context, maxAge time.Duration) (cache.View, error)
	Invalidate(ctx context.Context) error
}

// SensorState 传感器状态快照（*sensor.Controller 实现）
type SensorState interface {
	State() coremodel.DeviceState
}

// CycleTrigger 周期触发器（*measure.Runner 实现）
type CycleTrigger interface {
	TryRun(ctx context.Context) (measure.Result, error)
	Last() (measure.Result, bool)
	Stats() measure.RunnerStats
}

// Handler 读数/传感器/周期 API
type Handler struct {
	cache  ReadingCache
	limits quality.Limits
	sensor SensorState
	runner CycleTrigger
	logger *zap.Logger
}

// NewHandler sensor 与 runner 可为 nil（仅看板模式）
func NewHandler(c ReadingCache, limits quality.Limits, s SensorState, r CycleTrigger, logger *zap.Logger) *Handler {
	return &Handler{cache: c, limits: limits, sensor: s, runner: r, logger: logger}
}

// readingsResponse GET /api/readings 响应
type readingsResponse struct {
	Readings   []coremodel.Reading `json:"readings"`
	Count      int                 `json:"count"`
	FetchedAt  time.Time           `json:"fetched_at"`
	Stale      bool                `json:"stale"`
	Limits     quality.Limits      `json:"limits"`
	Latest     *coremodel.Reading  `json:"latest,omitempty"`
	Assessment *quality.Assessment `json:"assessment,omitempty"`
}

// ListReadings 读取缓存快照
// GET /api/readings?maxAge=30s
func (h *Handler) ListReadings(c *gin.Context) {
	maxAge, err := parseMaxAge(c.Query("maxAge"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid maxAge", "message": err.Error()})
		return
	}

	v, err := h.cache.Lookup(c.Request.Context(), maxAge)
	if err != nil {
		if errors.Is(err, cache.ErrStoreUnavailable) {
			h.logger.Warn("readings unavailable", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
			return
		}
		h.logger.Error("list readings failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	resp := readingsResponse{
		Readings:  v.Readings,
		Count:     len(v.Readings),
		FetchedAt: v.FetchedAt,
		Stale:     v.Stale,
		Limits:    h.limits,
	}
	if resp.Readings == nil {
		resp.Readings = []coremodel.Reading{}
	}
	if n := len(v.Readings); n > 0 {
		latest := v.Readings[n-1]
		a := h.limits.Evaluate(latest)
		resp.Latest = &latest
		resp.Assessment = &a
	}
	c.JSON(http.StatusOK, resp)
}

// GetSensor 传感器状态与最近周期
// GET /api/sensor
func (h *Handler) GetSensor(c *gin.Context) {
	if h.sensor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_sensor", "message": "未连接传感器"})
		return
	}
	body := gin.H{"device": h.sensor.State()}
	if h.runner != nil {
		body["scheduler"] = h.runner.Stats()
		if last, ok := h.runner.Last(); ok {
			body["last_cycle"] = last
		}
	}
	c.JSON(http.StatusOK, body)
}

// TriggerCycle 同步执行一个测量周期（含完整预热）
// POST /api/cycles
func (h *Handler) TriggerCycle(c *gin.Context) {
	if h.runner == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_sensor", "message": "未连接传感器"})
		return
	}
	res, err := h.runner.TryRun(c.Request.Context())
	if errors.Is(err, measure.ErrCycleRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": "cycle_running", "message": "已有测量周期在执行"})
		return
	}
	if errors.Is(err, measure.ErrRunnerStopped) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting_down", "message": "服务正在关闭"})
		return
	}
	if err != nil {
		h.logger.Error("trigger cycle failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	if res.Persisted {
		if err := h.cache.Invalidate(c.Request.Context()); err != nil {
			h.logger.Warn("cache invalidate failed", zap.Error(err))
		}
	}
	// 周期本身的失败通过 failure 字段表达
	c.JSON(http.StatusOK, res)
}

// LastCycle 最近一次周期结果
// GET /api/cycles/last
func (h *Handler) LastCycle(c *gin.Context) {
	if h.runner == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_sensor"})
		return
	}
	last, ok := h.runner.Last()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_cycle", "message": "尚未执行测量周期"})
		return
	}
	c.JSON(http.StatusOK, last)
}

// parseMaxAge 支持 Go 时长（30s、5m）与纯秒数；空串表示使用默认 TTL
func parseMaxAge(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, errors.New("maxAge must not be negative")
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.New("maxAge must not be negative")
	}
	return d, nil
}
