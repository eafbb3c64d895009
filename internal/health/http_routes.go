package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterHTTPRoutes 注册 /health、/health/ready、/health/live
// 降级返回 200，不健康返回 503
func RegisterHTTPRoutes(r *gin.Engine, aggregator *Aggregator) {
	r.GET("/health", func(c *gin.Context) {
		report := aggregator.Report(c.Request.Context())
		c.JSON(statusCode(report.Status), report)
	})

	// 就绪探针只给出未通过的检查项，详情看 /health
	r.GET("/health/ready", func(c *gin.Context) {
		report := aggregator.Report(c.Request.Context())
		failing := make(map[string]string)
		for name, res := range report.Checks {
			if res.Status != StatusHealthy {
				failing[name] = res.Message
			}
		}
		c.JSON(statusCode(report.Status), gin.H{
			"status":  report.Status,
			"ready":   report.Status != StatusUnhealthy,
			"failing": failing,
		})
	})

	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"alive": aggregator.Alive()})
	})
}

func statusCode(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
