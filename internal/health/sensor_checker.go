package health

import (
	"context"
	"fmt"
	"time"

	"github.com/taoyao-code/airq/internal/measure"
)

// failStreakUnhealthy 连续失败达到该值判定为不健康
const failStreakUnhealthy = 3

// CycleSource 测量周期状态来源（*measure.Runner 实现）
type CycleSource interface {
	Last() (measure.Result, bool)
	Stats() measure.RunnerStats
	Interval() time.Duration
}

// SensorChecker 根据最近测量周期判断传感器链路
type SensorChecker struct {
	src CycleSource
	now func() time.Time
}

func NewSensorChecker(src CycleSource) *SensorChecker {
	return &SensorChecker{src: src, now: time.Now}
}

func (c *SensorChecker) Name() string { return "sensor" }

func (c *SensorChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	stats := c.src.Stats()
	details := map[string]interface{}{
		"runs":                 stats.Runs,
		"skipped":              stats.Skipped,
		"consecutive_failures": stats.ConsecutiveFailures,
		"running":              stats.Running,
	}

	last, ok := c.src.Last()
	if !ok {
		return CheckResult{Status: StatusHealthy, Message: "no cycle yet", Details: details, Latency: time.Since(start)}
	}
	details["last_cycle_id"] = last.ID
	details["last_started_at"] = last.StartedAt
	details["last_failure"] = last.Failure

	status, message := StatusHealthy, "ok"
	switch {
	case stats.ConsecutiveFailures >= failStreakUnhealthy:
		status = StatusUnhealthy
		message = fmt.Sprintf("%d consecutive failed cycles, last: %s", stats.ConsecutiveFailures, last.Failure)
	case !last.OK():
		status = StatusDegraded
		message = "last cycle failed: " + string(last.Failure)
	}

	// 定时模式下超过 3 个间隔没有新周期
	if iv := c.src.Interval(); iv > 0 && status == StatusHealthy && !stats.Running {
		if age := c.now().Sub(last.StartedAt); age > 3*iv {
			status = StatusDegraded
			message = fmt.Sprintf("last cycle is %s old", age.Truncate(time.Second))
		}
	}

	return CheckResult{Status: status, Message: message, Details: details, Latency: time.Since(start)}
}
