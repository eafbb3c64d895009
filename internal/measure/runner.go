package measure

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/airq/internal/logging"
)

var (
	// ErrCycleRunning 已有周期在执行
	ErrCycleRunning = errors.New("measure: cycle already running")
	// ErrRunnerStopped Drain 之后不再接受触发
	ErrRunnerStopped = errors.New("measure: runner stopped")
)

// CycleRunner 执行单个周期（*Orchestrator 实现）
type CycleRunner interface {
	RunCycle(ctx context.Context) Result
}

// Runner 周期触发器：串行化外部触发（CLI/HTTP/定时），保存最近一次结果
type Runner struct {
	cycles   CycleRunner
	interval time.Duration
	logger   *zap.Logger

	// cycleMu 在整个周期内持有；Drain 借它等待执行中的周期自然结束
	cycleMu sync.Mutex
	running atomic.Bool
	stopped atomic.Bool

	mu   sync.RWMutex
	last *Result

	// 统计
	statsRuns    atomic.Int64
	statsSkipped atomic.Int64
	// 连续失败周期数，成功一次清零
	failStreak atomic.Int64
}

// RunnerStats 触发器统计（健康检查输出）
type RunnerStats struct {
	Runs                int64 `json:"runs"`
	Skipped             int64 `json:"skipped"`
	ConsecutiveFailures int64 `json:"consecutive_failures"`
	Running             bool  `json:"running"`
}

// NewRunner 创建触发器；interval<=0 时 Start 不启动定时循环
func NewRunner(cycles CycleRunner, interval time.Duration, logger *zap.Logger) *Runner {
	return &Runner{cycles: cycles, interval: interval, logger: logging.OrNop(logger)}
}

// TryRun 立即执行一个周期；已有周期在执行时返回 ErrCycleRunning，Drain 之后返回 ErrRunnerStopped
func (r *Runner) TryRun(ctx context.Context) (Result, error) {
	if !r.cycleMu.TryLock() {
		r.statsSkipped.Add(1)
		return Result{}, ErrCycleRunning
	}
	defer r.cycleMu.Unlock()
	if r.stopped.Load() {
		return Result{}, ErrRunnerStopped
	}
	r.running.Store(true)
	defer r.running.Store(false)

	res := r.cycles.RunCycle(ctx)
	r.statsRuns.Add(1)
	if res.OK() {
		r.failStreak.Store(0)
	} else {
		r.failStreak.Add(1)
	}

	r.mu.Lock()
	r.last = &res
	r.mu.Unlock()
	return res, nil
}

// Drain 停止接受新触发，并阻塞到执行中的周期结束（传感器已回到休眠）
// 关闭串口之前必须调用
func (r *Runner) Drain() {
	r.stopped.Store(true)
	if r.running.Load() {
		r.logger.Info("waiting for running cycle to finish")
	}
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()
	r.logger.Debug("runner drained", zap.Int64("runs", r.statsRuns.Load()))
}

// Running 是否有周期在执行
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Last 最近一次周期结果
func (r *Runner) Last() (Result, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return Result{}, false
	}
	return *r.last, true
}

// Stats 统计快照
func (r *Runner) Stats() RunnerStats {
	return RunnerStats{
		Runs:                r.statsRuns.Load(),
		Skipped:             r.statsSkipped.Load(),
		ConsecutiveFailures: r.failStreak.Load(),
		Running:             r.running.Load(),
	}
}

// Interval 定时触发间隔，0 表示未启用
func (r *Runner) Interval() time.Duration { return r.interval }

// Start 定时触发循环，阻塞直到 ctx 结束
func (r *Runner) Start(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	r.logger.Info("measurement scheduler started", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("measurement scheduler stopped",
				zap.Int64("runs", r.statsRuns.Load()),
				zap.Int64("skipped", r.statsSkipped.Load()))
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	switch _, err := r.TryRun(ctx); {
	case errors.Is(err, ErrCycleRunning):
		r.logger.Debug("scheduled cycle skipped, previous still running")
	case errors.Is(err, ErrRunnerStopped):
		r.logger.Debug("scheduled cycle skipped, runner stopped")
	}
}
