package health

import (
	"context"
	"time"
)

// Status 健康状态
type Status string

const (
	StatusHealthy   Status = "healthy"   // 健康
	StatusDegraded  Status = "degraded"  // 降级（部分功能受损但仍可服务）
	StatusUnhealthy Status = "unhealthy" // 不健康（无法服务）
)

// CheckResult 健康检查结果
type CheckResult struct {
	Status  Status                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
	Latency time.Duration          `json:"latency"`
}

// Checker 健康检查器接口
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// PingChecker 只做连通性检查的通用检查器（influx 等没有连接池统计的后端）
type PingChecker struct {
	name string
	ping func(ctx context.Context) error
}

func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

func (c *PingChecker) Name() string { return c.name }

func (c *PingChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if err := c.ping(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: "ping failed: " + err.Error(), Latency: time.Since(start)}
	}
	return CheckResult{Status: StatusHealthy, Message: "ok", Latency: time.Since(start)}
}
