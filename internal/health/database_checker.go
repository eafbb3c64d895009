package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// dbPingTimeout 单次 ping 上限，避免 /health 被慢库拖住
const dbPingTimeout = 2 * time.Second

// DatabaseChecker 读数库（pgx 连接池）
type DatabaseChecker struct {
	pool *pgxpool.Pool
}

func NewDatabaseChecker(pool *pgxpool.Pool) *DatabaseChecker {
	return &DatabaseChecker{pool: pool}
}

func (c *DatabaseChecker) Name() string { return "database" }

// Check ping 失败为不健康；连接池占满为降级（读数写入会排队）
func (c *DatabaseChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	pctx, cancel := context.WithTimeout(ctx, dbPingTimeout)
	defer cancel()

	if err := c.pool.Ping(pctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: "ping failed: " + err.Error(), Latency: time.Since(start)}
	}

	st := c.pool.Stat()
	res := CheckResult{
		Status:  StatusHealthy,
		Message: "ok",
		Details: map[string]interface{}{
			"acquired_conns": st.AcquiredConns(),
			"idle_conns":     st.IdleConns(),
			"max_conns":      st.MaxConns(),
		},
	}
	if st.MaxConns() > 0 && st.AcquiredConns() >= st.MaxConns() {
		res.Status = StatusDegraded
		res.Message = fmt.Sprintf("connection pool exhausted (%d/%d)", st.AcquiredConns(), st.MaxConns())
	}
	res.Latency = time.Since(start)
	return res
}
