package health

import (
	"context"
	"time"

	"github.com/taoyao-code/airq/internal/storage"
)

// BreakerChecker 存储熔断器状态：打开/半开时降级（读数暂不入库）
type BreakerChecker struct {
	backend string
	breaker *storage.Breaker
}

func NewBreakerChecker(backend string, breaker *storage.Breaker) *BreakerChecker {
	return &BreakerChecker{backend: backend, breaker: breaker}
}

func (c *BreakerChecker) Name() string { return "store" }

func (c *BreakerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	st := c.breaker.Stats()
	res := CheckResult{
		Status:  StatusHealthy,
		Message: "ok",
		Details: map[string]interface{}{
			"backend":              c.backend,
			"breaker_state":        st.State,
			"consecutive_failures": st.Failures,
			"trips":                st.Trips,
		},
	}
	if c.breaker.State() != storage.BreakerClosed {
		res.Status = StatusDegraded
		res.Message = "store breaker " + st.State
	}
	res.Latency = time.Since(start)
	return res
}
