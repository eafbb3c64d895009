package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/taoyao-code/airq/internal/api"
	"github.com/taoyao-code/airq/internal/api/middleware"
	"github.com/taoyao-code/airq/internal/app"
	"github.com/taoyao-code/airq/internal/cache"
	cfgpkg "github.com/taoyao-code/airq/internal/config"
	"github.com/taoyao-code/airq/internal/health"
	"github.com/taoyao-code/airq/internal/metrics"
	"github.com/taoyao-code/airq/internal/quality"
)

// Run 统一启动流程：存储 → 传感器 → HTTP → 定时测量，收到信号后按相反顺序关闭
func Run(cfg *cfgpkg.Config, log *zap.Logger) error {
	log.Info("starting airq", zap.String("env", cfg.App.Env))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========== 阶段1: 基础组件 ==========
	reg, appm := app.NewMetrics()
	metricsHandler := metrics.Handler(reg)
	ready := health.New()

	limits, err := quality.LoadLimits(cfg.Cache.LimitsPath)
	if err != nil {
		log.Error("load air quality limits failed", zap.Error(err))
		return err
	}

	// ========== 阶段2: 存储（阻塞等待，失败直接返回）==========
	stores, err := app.NewStores(ctx, cfg, log)
	if err != nil {
		log.Error("store initialization failed", zap.String("backend", cfg.Store.Backend), zap.Error(err))
		return err
	}
	defer stores.Close()
	gw := app.NewGateway(cfg.Store, stores, log, appm)
	ready.SetStoreReady(true)

	redisClient, err := app.NewRedisClient(cfg.Redis, log)
	if err != nil {
		log.Error("redis initialization failed", zap.Error(err))
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	readCache := cache.New(stores.Source,
		app.NewSnapshotStore(cfg.Cache, redisClient, log),
		cache.Options{TTL: cfg.Cache.TTL, Window: cfg.Cache.Window},
		log, appm)

	healthAgg := app.NewHealthAggregator(stores, gw)
	app.AddRedisChecker(healthAgg, redisClient)

	// ========== 阶段3: 传感器（启动时应用上报模式与工作周期）==========
	m, err := app.NewMeasurement(ctx, cfg, gw, stores.Latest, log, appm)
	if err != nil {
		log.Error("sensor initialization failed", zap.String("path", cfg.Sensor.DevicePath), zap.Error(err))
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn("close serial link failed", zap.Error(err))
		}
	}()
	app.AddSensorChecker(healthAgg, m.Runner)
	ready.SetSensorReady(true)

	// ========== 阶段4: HTTP ==========
	httpSrv := app.NewHTTPServer(cfg.HTTP, cfg.Metrics, metricsHandler, ready.Ready, log)
	handler := api.NewHandler(readCache, limits, m.Controller, m.Runner, log)
	httpSrv.Register(func(r *gin.Engine) {
		authCfg := middleware.AuthConfig{
			APIKeys: cfg.API.Auth.APIKeys,
			Enabled: cfg.API.Auth.Enabled,
		}
		api.RegisterRoutes(r, handler, authCfg, triggerLimiter(cfg.Measurement.TriggerRatePerMin), log)
		app.RegisterHealthRoutes(r, healthAgg)
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Start()
	}()
	log.Info("http server started", zap.String("addr", cfg.HTTP.Addr))

	// ========== 阶段5: 定时测量（interval=0 时只接受外部触发）==========
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		m.Runner.Start(ctx)
	}()

	// ========== 阶段6: 等待关闭信号 ==========
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal, gracefully shutting down...")
	case err := <-errCh:
		if err != nil {
			log.Error("http server error", zap.Error(err))
			stop()
			<-schedDone
			return err
		}
	}
	stop()

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(sctx)
	log.Info("http server stopped")

	// 正在执行的周期不中断（包括 HTTP 超时后仍在预热的手动周期），等它完成后传感器已进入休眠
	<-schedDone
	m.Runner.Drain()
	log.Info("shutdown complete")
	return nil
}

// triggerLimiter 手动触发限流；perMin<=0 不限流
func triggerLimiter(perMin int) *rate.Limiter {
	if perMin <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), 1)
}
