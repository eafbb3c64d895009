package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/airq/internal/config"
	"github.com/taoyao-code/airq/internal/coremodel"
	"github.com/taoyao-code/airq/internal/measure"
	"github.com/taoyao-code/airq/internal/metrics"
	"github.com/taoyao-code/airq/internal/sensor"
	"github.com/taoyao-code/airq/internal/seriallink"
	"github.com/taoyao-code/airq/internal/storage"
)

// Measurement 测量链路：串口 → 控制器 → 编排器 → 触发器
type Measurement struct {
	Link         *seriallink.Link
	Controller   *sensor.Controller
	Orchestrator *measure.Orchestrator
	Runner       *measure.Runner
}

// Close 等待执行中的周期结束（传感器回到休眠）后释放串口
func (m *Measurement) Close() error {
	m.Runner.Drain()
	return m.Link.Close()
}

// NewMeasurement 打开串口、应用启动配置并续接存储中的时间戳
// latest 为 nil 时不续接（一次性命令行）
func NewMeasurement(ctx context.Context, cfg *cfgpkg.Config, persister measure.Persister, latest storage.LatestTimestamper, log *zap.Logger, appm *metrics.AppMetrics) (*Measurement, error) {
	opts, err := sensor.OptionsFromConfig(cfg.Sensor)
	if err != nil {
		return nil, err
	}
	mode, err := coremodel.ParseReportMode(cfg.Sensor.ReportMode)
	if err != nil {
		return nil, fmt.Errorf("sensor: %w", err)
	}

	link, err := seriallink.Open(cfg.Sensor, log, appm)
	if err != nil {
		return nil, err
	}
	ctrl := sensor.New(link, opts, log, appm)

	st, err := ctrl.Prepare(mode, cfg.Sensor.DutyCycle)
	if err != nil {
		_ = link.Close()
		return nil, fmt.Errorf("prepare sensor: %w", err)
	}

	var lastTS int64
	if latest != nil {
		lctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastTS, err = latest.LatestTimestamp(lctx, st.DeviceID)
		cancel()
		if err != nil {
			// 不阻塞启动：编排器仍保证进程内严格递增
			log.Warn("load latest timestamp failed", zap.String("device_id", st.DeviceID), zap.Error(err))
			lastTS = 0
		}
	}

	orch := measure.NewOrchestrator(ctrl, persister, measure.Options{
		WarmUp:        cfg.Measurement.WarmUp,
		WriteTimeout:  cfg.Measurement.WriteTimeout,
		Clock:         measure.SystemClock(),
		LastTimestamp: lastTS,
	}, log, appm)

	return &Measurement{
		Link:         link,
		Controller:   ctrl,
		Orchestrator: orch,
		Runner:       measure.NewRunner(orch, cfg.Measurement.Interval, log),
	}, nil
}
