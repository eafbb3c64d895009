package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/taoyao-code/airq/internal/api/middleware"
)

// RegisterRoutes 注册 /api 路由
func RegisterRoutes(r *gin.Engine, h *Handler, authCfg middleware.AuthConfig, trigger *rate.Limiter, logger *zap.Logger) {
	if r == nil || h == nil {
		return
	}

	// 全局挂载，预检请求走 NoRoute 链也能得到 CORS 头
	r.Use(middleware.CORS())

	api := r.Group("/api")
	if authCfg.Enabled {
		api.Use(middleware.APIKeyAuth(authCfg, logger))
		logger.Info("api authentication enabled", zap.Int("api_keys_count", len(authCfg.APIKeys)))
	} else {
		logger.Warn("api authentication disabled - only for development!")
	}

	api.GET("/readings", h.ListReadings)
	api.GET("/sensor", h.GetSensor)
	api.GET("/cycles/last", h.LastCycle)
	api.POST("/cycles", middleware.RateLimit(trigger, logger), h.TriggerCycle)

	logger.Info("api routes registered", zap.Int("endpoints", 4))
}
