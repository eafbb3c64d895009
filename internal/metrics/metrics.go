package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 自定义业务指标
// 所有方法对 nil 接收者安全，测试中可直接传 nil
type AppMetrics struct {
	CyclesTotal        *prometheus.CounterVec // labels: result=success|wake|read|persist|sleep
	CycleDuration      prometheus.Histogram
	CommandsTotal      *prometheus.CounterVec // labels: cmd, result=ok|timeout|protocol|link
	FrameErrorsTotal   *prometheus.CounterVec // labels: kind=framing|checksum
	DiscardedBytes     prometheus.Counter     // 同步时丢弃的字节
	PM25               *prometheus.GaugeVec   // labels: device_id
	PM10               *prometheus.GaugeVec   // labels: device_id
	StoreWritesTotal   *prometheus.CounterVec // labels: backend, result=ok|error|rejected
	CacheRequestsTotal *prometheus.CounterVec // labels: result=hit|refresh|stale|error
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airq_cycles_total",
			Help: "Measurement cycles by outcome.",
		}, []string{"result"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "airq_cycle_duration_seconds",
			Help:    "Wall time of one measurement cycle including warm-up.",
			Buckets: []float64{1, 5, 15, 30, 45, 60, 75, 90, 120, 180},
		}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airq_sensor_commands_total",
			Help: "Sensor commands issued by result.",
		}, []string{"cmd", "result"}),
		FrameErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airq_frame_errors_total",
			Help: "Discarded response frames by kind.",
		}, []string{"kind"}),
		DiscardedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "airq_link_discarded_bytes_total",
			Help: "Bytes skipped while resynchronising on the frame start marker.",
		}),
		PM25: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "airq_pm2_5",
			Help: "Latest PM2.5 reading (unit per airq_unit label of the reading).",
		}, []string{"device_id"}),
		PM10: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "airq_pm10",
			Help: "Latest PM10 reading.",
		}, []string{"device_id"}),
		StoreWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airq_store_writes_total",
			Help: "Persistence gateway writes by backend and result.",
		}, []string{"backend", "result"}),
		CacheRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airq_cache_requests_total",
			Help: "Local read cache lookups by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.CyclesTotal, m.CycleDuration, m.CommandsTotal, m.FrameErrorsTotal,
		m.DiscardedBytes, m.PM25, m.PM10, m.StoreWritesTotal, m.CacheRequestsTotal)
	return m
}

// ObserveCycle 记录一次测量周期
func (m *AppMetrics) ObserveCycle(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(result).Inc()
	m.CycleDuration.Observe(d.Seconds())
}

// ObserveCommand 记录一次传感器命令
func (m *AppMetrics) ObserveCommand(cmd, result string) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(cmd, result).Inc()
}

// ObserveFrameError 记录一次被丢弃的应答帧
func (m *AppMetrics) ObserveFrameError(kind string) {
	if m == nil {
		return
	}
	m.FrameErrorsTotal.WithLabelValues(kind).Inc()
}

// AddDiscarded 累加同步丢弃字节
func (m *AppMetrics) AddDiscarded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DiscardedBytes.Add(float64(n))
}

// SetReading 更新最新读数
func (m *AppMetrics) SetReading(deviceID string, pm25, pm10 float64) {
	if m == nil {
		return
	}
	m.PM25.WithLabelValues(deviceID).Set(pm25)
	m.PM10.WithLabelValues(deviceID).Set(pm10)
}

// ObserveStoreWrite 记录一次持久化写入
func (m *AppMetrics) ObserveStoreWrite(backend, result string) {
	if m == nil {
		return
	}
	m.StoreWritesTotal.WithLabelValues(backend, result).Inc()
}

// ObserveCache 记录一次缓存查询
func (m *AppMetrics) ObserveCache(result string) {
	if m == nil {
		return
	}
	m.CacheRequestsTotal.WithLabelValues(result).Inc()
}
