package app

import (
	"github.com/gin-gonic/gin"

	"github.com/taoyao-code/airq/internal/health"
	"github.com/taoyao-code/airq/internal/measure"
	"github.com/taoyao-code/airq/internal/storage"
)

// NewHealthAggregator 创建健康检查聚合器，初始包含存储检查
func NewHealthAggregator(stores *Stores, gw *storage.Gateway) *health.Aggregator {
	agg := health.NewAggregator(health.NewBreakerChecker(gw.Backend(), gw.Breaker()))
	switch {
	case stores.Pool != nil:
		agg.AddChecker(health.NewDatabaseChecker(stores.Pool))
	case stores.Influx != nil:
		agg.AddChecker(health.NewPingChecker("influx", stores.Influx.Ping))
	}
	return agg
}

// RegisterHealthRoutes 注册健康检查HTTP路由
func RegisterHealthRoutes(r *gin.Engine, aggregator *health.Aggregator) {
	health.RegisterHTTPRoutes(r, aggregator)
}

// AddSensorChecker 传感器就绪后添加周期检查器
func AddSensorChecker(aggregator *health.Aggregator, runner *measure.Runner) {
	aggregator.AddChecker(health.NewSensorChecker(runner))
}
