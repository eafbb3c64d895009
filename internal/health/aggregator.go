package health

import (
	"context"
	"sync"
	"time"
)

// Aggregator 健康检查聚合器
// 存储检查在启动时注册，传感器检查在串口就绪后追加
type Aggregator struct {
	mu       sync.RWMutex
	checkers []Checker
}

// HealthReport /health 输出
type HealthReport struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// NewAggregator 创建聚合器
func NewAggregator(checkers ...Checker) *Aggregator {
	return &Aggregator{checkers: checkers}
}

// AddChecker 添加检查器
func (a *Aggregator) AddChecker(checker Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checkers = append(a.checkers, checker)
}

// CheckAll 并发执行全部检查，按检查器名称返回
func (a *Aggregator) CheckAll(ctx context.Context) map[string]CheckResult {
	a.mu.RLock()
	checkers := append([]Checker(nil), a.checkers...)
	a.mu.RUnlock()

	type named struct {
		name string
		res  CheckResult
	}
	ch := make(chan named, len(checkers))
	for _, c := range checkers {
		go func(c Checker) {
			ch <- named{name: c.Name(), res: c.Check(ctx)}
		}(c)
	}

	results := make(map[string]CheckResult, len(checkers))
	for range checkers {
		n := <-ch
		results[n.name] = n.res
	}
	return results
}

// OverallStatus 总体状态：取各检查中最差的一项
func (a *Aggregator) OverallStatus(ctx context.Context) Status {
	return overall(a.CheckAll(ctx))
}

// Report 执行一次全部检查并生成报告
func (a *Aggregator) Report(ctx context.Context) HealthReport {
	results := a.CheckAll(ctx)
	return HealthReport{Status: overall(results), Timestamp: time.Now(), Checks: results}
}

func severity(s Status) int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

func overall(results map[string]CheckResult) Status {
	worst := StatusHealthy
	for _, r := range results {
		if severity(r.Status) > severity(worst) {
			worst = r.Status
		}
	}
	return worst
}

// Ready 降级（存储熔断、单次周期失败）仍可对外服务，只有不健康才摘流量
func (a *Aggregator) Ready(ctx context.Context) bool {
	return a.OverallStatus(ctx) != StatusUnhealthy
}

// Alive 进程能响应即存活
func (a *Aggregator) Alive() bool {
	return true
}
