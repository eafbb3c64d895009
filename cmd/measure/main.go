// measure 执行一次完整测量周期（唤醒 → 预热 → 读取 → 入库 → 休眠）后退出，
// 供 cron/systemd timer 周期调用。
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/taoyao-code/airq/internal/app"
	cfgpkg "github.com/taoyao-code/airq/internal/config"
	"github.com/taoyao-code/airq/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "config file (default: $AIRQ_CONFIG or ./configs/airq.yaml)")
	infoOnly := flag.Bool("info", false, "print sensor info and exit without measuring")
	flag.Parse()

	os.Exit(run(*configPath, *infoOnly))
}

func run(configPath string, infoOnly bool) int {
	cfg, err := cfgpkg.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		return 2
	}
	// 一次性命令只输出到控制台
	cfg.Logging.File.Filename = ""
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		return 2
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx := context.Background()
	stores, err := app.NewStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}
	defer stores.Close()

	gw := app.NewGateway(cfg.Store, stores, logger, nil)
	m, err := app.NewMeasurement(ctx, cfg, gw, stores.Latest, logger, nil)
	if err != nil {
		logger.Error("sensor initialization failed", zap.Error(err))
		return 1
	}
	defer func() { _ = m.Close() }()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if infoOnly {
		_ = enc.Encode(m.Controller.State())
		return 0
	}

	res := m.Orchestrator.RunCycle(ctx)
	_ = enc.Encode(res)
	if !res.OK() {
		return 1
	}
	return 0
}
